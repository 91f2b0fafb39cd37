// Package main is the entry point of the chat bot.
//
// The bot answers commands and rewards chat activity, keeps the user records
// in the configured store, and syncs the store in the background.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JunyuanChen/SonnyBot-ng/config"
	"github.com/JunyuanChen/SonnyBot-ng/internal/app"
	"github.com/JunyuanChen/SonnyBot-ng/internal/application/command"
	"github.com/JunyuanChen/SonnyBot-ng/internal/application/query"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/achievement"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/external/dmoj"
	httpserver "github.com/JunyuanChen/SonnyBot-ng/internal/interface/http"
	"github.com/JunyuanChen/SonnyBot-ng/internal/interface/http/handlers"
	"github.com/JunyuanChen/SonnyBot-ng/internal/interface/telegram"
	"github.com/JunyuanChen/SonnyBot-ng/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGER
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg, "bot")
	log.Info("starting bot",
		slog.String("env", string(cfg.App.Environment)),
		slog.String("store", cfg.Store.Backend),
		slog.Bool("redis", cfg.Redis.Enabled),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	infra, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing storage...")
		infra.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ACHIEVEMENTS
	// ─────────────────────────────────────────────────────────────────────────
	catalog, err := achievement.DefaultCatalog()
	if err != nil {
		return fmt.Errorf("failed to load problem catalog: %w", err)
	}
	engine := achievement.NewEngine(catalog, achievement.Curves{
		ExpPerPoint:   cfg.Economy.ExpPerPoint,
		CoinsPerPoint: cfg.Economy.CoinsPerPoint,
	})
	log.Info("problem catalog loaded", slog.Int("problems", catalog.Len()))

	dmojConfig := dmoj.DefaultClientConfig()
	dmojConfig.BaseURL = cfg.DMOJ.BaseURL
	dmojConfig.Timeout = cfg.DMOJ.Timeout
	dmojConfig.MaxRetries = cfg.DMOJ.MaxRetries
	if cfg.DMOJ.RequestsPerSecond > 0 {
		dmojConfig.RateLimiterConfig.RequestsPerSecond = cfg.DMOJ.RequestsPerSecond
	}
	dmojConfig.Logger = log
	judge := dmoj.NewClient(dmojConfig)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	cmd := infra.CommandDeps(nil)
	q := infra.QueryDeps()

	deps := telegram.BotDependencies{
		ChangeExp:          command.NewChangeExpHandler(cmd),
		ChangeCoins:        command.NewChangeCoinsHandler(cmd),
		ChangeMessageCount: command.NewChangeMessageCountHandler(cmd),
		TransactCoins:      command.NewTransactCoinsHandler(cmd),
		Gamble:             command.NewGambleHandler(cmd, cfg.Economy.GambleCost, nil),
		GiveBooster:        command.NewGiveBoosterHandler(cmd, cfg.Economy.MaxBoosterDuration),
		ConnectDMOJ:        command.NewConnectDMOJHandler(cmd, judge, engine),
		FetchCCCProgress:   command.NewFetchCCCProgressHandler(cmd, judge, engine),
		ResetUserStat:      command.NewResetUserStatHandler(cmd),
		RemoveUser:         command.NewRemoveUserHandler(cmd),
		SyncData:           command.NewSyncDataHandler(cmd),
		RecordMessage:      command.NewRecordMessageHandler(cmd, nil),
		MemberJoined:       command.NewMemberJoinedHandler(cmd),
		Stat:               query.NewStatHandler(q),
		Leaderboard:        query.NewLeaderboardHandler(q, cfg.Economy.LeaderboardSize),
		CCCProgressList:    query.NewCCCProgressListHandler(q, engine),
		DMOJAccount:        query.NewDMOJAccountHandler(q),
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. TELEGRAM BOT
	// ─────────────────────────────────────────────────────────────────────────
	botConfig := telegram.DefaultBotConfig(cfg.Telegram.Token)
	botConfig.PollingTimeout = int(cfg.Telegram.PollingTimeout.Seconds())
	botConfig.Debug = cfg.Telegram.Debug
	botConfig.Logger = log
	botConfig.AdminIDs = make([]user.ID, len(cfg.Telegram.AdminIDs))
	for i, id := range cfg.Telegram.AdminIDs {
		botConfig.AdminIDs[i] = user.ID(id)
	}
	botConfig.RequestsPerMinute = cfg.Telegram.RequestsPerMinute
	botConfig.BurstSize = cfg.Telegram.BurstSize
	botConfig.MaxConcurrentUpdates = cfg.Telegram.MaxConcurrentUpdates
	botConfig.LeaderboardLimit = cfg.Economy.LeaderboardLimit
	botConfig.GracefulShutdownTimeout = cfg.App.ShutdownTimeout
	botConfig.Features = cfg.Features
	for _, f := range cfg.Features.Features() {
		if f.Rollout < 100 {
			log.Info("feature restricted", slog.String("feature", f.Name), slog.Int("rollout", f.Rollout))
		}
	}

	bot, err := telegram.NewBot(botConfig, deps)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. BACKGROUND SYNC
	// ─────────────────────────────────────────────────────────────────────────
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	opsOpts := app.OpsOptions{
		Metrics: bot,
		Readiness: map[string]handlers.HealthCheckFunc{
			"telegram": func(context.Context) error {
				if !bot.IsRunning() {
					return errors.New("bot is not polling")
				}
				return nil
			},
		},
	}

	if cfg.Scheduler.Enabled {
		sched, err := app.NewScheduler(cfg, infra, log)
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		if err := sched.Start(runCtx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			if err := sched.Stop(); err != nil {
				log.Warn("failed to stop scheduler", slog.String("error", err.Error()))
			}
		}()
		opsOpts.Jobs = sched
	} else {
		log.Info("background sync disabled")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. OPS HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	errCh := make(chan error, 2)

	var ops *httpserver.Server
	if cfg.HTTP.Enabled {
		ops = app.NewHTTPServer(cfg, infra, opsOpts, log)
		go func() {
			if err := ops.Start(); err != nil {
				errCh <- fmt.Errorf("ops server: %w", err)
			}
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. RUN
	// ─────────────────────────────────────────────────────────────────────────
	go func() {
		errCh <- bot.Start(runCtx)
	}()
	log.Info("bot is running", slog.Int("commands", len(bot.Router().RegisteredCommands())))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("stopped unexpectedly", slog.String("error", err.Error()))
			runErr = err
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("starting graceful shutdown...", slog.Duration("timeout", cfg.App.ShutdownTimeout))
	stopRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if ops != nil {
		if err := ops.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to stop ops server", slog.String("error", err.Error()))
		}
	}
	if err := bot.Stop(shutdownCtx); err != nil {
		log.Error("failed to stop bot gracefully", slog.String("error", err.Error()))
	}

	log.Info("shutdown completed")
	return runErr
}

// setupLogger builds the process logger: JSON in production unless
// LOG_FORMAT says otherwise.
func setupLogger(cfg *config.Config, service string) *slog.Logger {
	format := cfg.App.LogFormat
	if format == "" && cfg.IsProduction() {
		format = logger.FormatJSON
	}
	return logger.Setup(logger.Config{
		Level:       cfg.App.LogLevel,
		Format:      format,
		Service:     service,
		Environment: string(cfg.App.Environment),
	})
}
