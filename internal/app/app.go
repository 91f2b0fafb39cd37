// Package app assembles the storage stack and background jobs shared by the
// bot and the worker processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JunyuanChen/SonnyBot-ng/config"
	"github.com/JunyuanChen/SonnyBot-ng/internal/application/command"
	"github.com/JunyuanChen/SonnyBot-ng/internal/application/lock"
	"github.com/JunyuanChen/SonnyBot-ng/internal/application/query"
	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/persistence/gitrepo"
	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/persistence/postgres"
	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/persistence/recordstore"
	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/persistence/redis"
	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/scheduler"
	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/scheduler/jobs"
)

// storeLockResource names the distributed store lock.
const storeLockResource = "store"

// Infrastructure is the opened storage stack.
type Infrastructure struct {
	Store  *recordstore.Store
	Runner *lock.Runner

	// Leaderboard is nil without Redis.
	Leaderboard *redis.LeaderboardCache

	logger  *slog.Logger
	closers []func()
	pingers map[string]func(ctx context.Context) error
}

// Open connects the configured record backend and, when enabled, Redis.
// Redis failing to answer is not fatal: the bot falls back to the local lock
// and uncached standings.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Infrastructure, error) {
	if logger == nil {
		logger = slog.Default()
	}
	infra := &Infrastructure{logger: logger, pingers: make(map[string]func(context.Context) error)}

	backend, err := infra.openBackend(ctx, cfg)
	if err != nil {
		infra.Close()
		return nil, err
	}

	var locker lock.Locker = lock.NewLocal()
	var listeners []recordstore.Listener

	if cfg.Redis.Enabled {
		cache, err := infra.openRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("redis unavailable, using the local store lock only", slog.String("error", err.Error()))
		} else {
			storeLock := redis.NewStoreLock(cache, storeLockResource, cfg.Redis.LockTTL, logger)
			locker = lock.Chain{locker, storeLock}

			infra.Leaderboard = redis.NewLeaderboardCache(cache, cfg.Redis.LeaderboardTTL)
			listeners = append(listeners, infra.Leaderboard)
			logger.Info("redis connection established", slog.String("addr", cache.Client().Options().Addr))
		}
	}

	infra.Store = recordstore.New(backend, recordstore.Config{Logger: logger, Listeners: listeners})
	infra.Runner = lock.NewRunner(locker, cfg.App.OperationTimeout, logger)
	return infra, nil
}

func (i *Infrastructure) openBackend(ctx context.Context, cfg *config.Config) (recordstore.Backend, error) {
	switch cfg.Store.Backend {
	case config.BackendGit:
		i.logger.Info("opening git record repository", slog.String("dir", cfg.Store.Dir))
		repo, err := gitrepo.Open(ctx, gitrepo.Config{
			Dir:            cfg.Store.Dir,
			RemoteName:     cfg.Store.RemoteName,
			RemoteURL:      cfg.Store.RemoteURL,
			Branch:         cfg.Store.Branch,
			AuthorName:     cfg.Store.AuthorName,
			AuthorEmail:    cfg.Store.AuthorEmail,
			Username:       cfg.Store.Username,
			Password:       cfg.Store.Password,
			NetworkTimeout: cfg.Store.NetworkTimeout,
			PushAttempts:   cfg.Store.PushAttempts,
			Logger:         i.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open git store: %w", err)
		}
		return repo, nil

	case config.BackendPostgres:
		return i.openPostgres(ctx, cfg.Database)

	case config.BackendMemory:
		i.logger.Warn("using the in-memory record store, nothing will be persisted")
		return recordstore.NewMemoryBackend(), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func (i *Infrastructure) openPostgres(ctx context.Context, cfg config.DatabaseConfig) (recordstore.Backend, error) {
	i.logger.Info("connecting to database...")
	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.URL
	if cfg.MaxConns > 0 {
		pgCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pgCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pgCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		pgCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}

	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	i.closers = append(i.closers, func() {
		i.logger.Info("closing database connection...")
		conn.Close()
	})
	i.pingers["postgres"] = conn.Ping

	migrator := postgres.NewMigrator(conn)
	applied, err := migrator.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if version, err := migrator.Version(ctx); err != nil {
		i.logger.Warn("failed to read schema version", slog.String("error", err.Error()))
	} else {
		i.logger.Info("migrations completed", slog.Int("applied", applied), slog.Int("version", version))
	}

	return postgres.NewRecordRepository(conn, i.logger), nil
}

func (i *Infrastructure) openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Cache, error) {
	redisCfg := redis.DefaultConfig()
	redisCfg.Host = cfg.Host
	redisCfg.Port = cfg.Port
	redisCfg.Password = cfg.Password
	redisCfg.DB = cfg.DB
	if cfg.Prefix != "" {
		redisCfg.Prefix = cfg.Prefix
	}

	cache, err := redis.NewCache(redisCfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, redisCfg.DialTimeout)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	i.closers = append(i.closers, func() { _ = cache.Close() })
	i.pingers["redis"] = cache.Ping
	return cache, nil
}

// HealthChecks returns a connectivity check per remote service in use.
func (i *Infrastructure) HealthChecks() map[string]func(ctx context.Context) error {
	checks := make(map[string]func(context.Context) error, len(i.pingers))
	for name, ping := range i.pingers {
		checks[name] = ping
	}
	return checks
}

// QueryDeps returns the dependencies of the query handlers.
func (i *Infrastructure) QueryDeps() query.Deps {
	deps := query.Deps{Store: i.Store, Runner: i.Runner, Logger: i.logger}
	if i.Leaderboard != nil {
		deps.Cache = i.Leaderboard
	}
	return deps
}

// CommandDeps returns the dependencies of the command handlers.
func (i *Infrastructure) CommandDeps(now func() time.Time) command.Deps {
	return command.Deps{Store: i.Store, Runner: i.Runner, Logger: i.logger, Now: now}
}

// Close flushes pending changes and releases connections, newest first.
func (i *Infrastructure) Close() {
	if i.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := i.Runner.Run(ctx, "Shutdown", func(ctx context.Context) error {
			return i.Store.Commit(ctx, "Flush lazily committed data", true)
		})
		cancel()
		if err != nil {
			i.logger.Warn("failed to flush pending changes", slog.String("error", err.Error()))
		}
	}
	for n := len(i.closers) - 1; n >= 0; n-- {
		i.closers[n]()
	}
	i.closers = nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BACKGROUND JOBS
// ══════════════════════════════════════════════════════════════════════════════

// NewScheduler registers the periodic store sync and, with Redis, the
// leaderboard warm-up. It does not start the scheduler.
func NewScheduler(cfg *config.Config, infra *Infrastructure, logger *slog.Logger) (*scheduler.Scheduler, error) {
	if cfg.Scheduler.SyncInterval <= 0 {
		return nil, errors.New("sync interval must be positive")
	}

	sched, err := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:   logger,
		Timezone: cfg.App.Location,
	})
	if err != nil {
		return nil, err
	}

	syncJob := jobs.NewSyncStoreJob(command.NewSyncDataHandler(infra.CommandDeps(nil)), logger)
	if err := sched.Register(syncJob, cfg.Scheduler.SyncInterval, cfg.Scheduler.SyncOnStart); err != nil {
		return nil, err
	}

	if infra.Leaderboard != nil && cfg.Scheduler.LeaderboardInterval > 0 {
		reader := query.NewLeaderboardHandler(infra.QueryDeps(), cfg.Economy.LeaderboardSize)
		warmJob := jobs.NewWarmLeaderboardJob(reader, logger)
		if err := sched.Register(warmJob, cfg.Scheduler.LeaderboardInterval, false); err != nil {
			return nil, err
		}
	}

	return sched, nil
}
