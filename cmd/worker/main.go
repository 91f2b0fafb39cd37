// Package main is the background worker.
//
// The worker runs the periodic store sync without the chat bot, for
// deployments where the bot replicas leave syncing to a single process. It
// can also sync once or verify every stored record and exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JunyuanChen/SonnyBot-ng/config"
	"github.com/JunyuanChen/SonnyBot-ng/internal/app"
	"github.com/JunyuanChen/SonnyBot-ng/internal/application/query"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/JunyuanChen/SonnyBot-ng/internal/interface/http"
	"github.com/JunyuanChen/SonnyBot-ng/pkg/logger"
)

func main() {
	once := flag.Bool("once", false, "Sync the store once and exit")
	verify := flag.Bool("verify", false, "Load every record, report the ones that cannot be read and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *once, *verify); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, once, verify bool) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION AND LOGGER
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.LoadWorker()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	format := cfg.App.LogFormat
	if format == "" && cfg.IsProduction() {
		format = logger.FormatJSON
	}
	log := logger.Setup(logger.Config{
		Level:       cfg.App.LogLevel,
		Format:      format,
		Service:     "worker",
		Environment: string(cfg.App.Environment),
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	infra, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	if verify {
		return verifyRecords(ctx, infra, log)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched, err := app.NewScheduler(cfg, infra, log)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if once {
		log.Info("syncing store once")
		_, err := sched.RunNow(ctx, jobs.SyncStoreJobName)
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	for _, job := range sched.ListJobs() {
		log.Info("scheduled job",
			slog.String("job", job.Name),
			slog.Duration("interval", job.Interval),
			slog.Time("next_run", job.NextRun),
		)
	}
	var ops *httpserver.Server
	if cfg.HTTP.Enabled {
		ops = app.NewHTTPServer(cfg, infra, app.OpsOptions{Jobs: sched}, log)
		go func() {
			if err := ops.Start(); err != nil {
				log.Error("ops server stopped", slog.String("error", err.Error()))
			}
		}()
	}
	log.Info("worker is running")

	<-ctx.Done()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("starting graceful shutdown...")
	if ops != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		if err := ops.Shutdown(shutdownCtx); err != nil {
			log.Warn("failed to stop ops server", slog.String("error", err.Error()))
		}
		cancel()
	}
	if err := sched.Stop(); err != nil {
		log.Warn("failed to stop scheduler", slog.String("error", err.Error()))
	}

	totals := sched.Totals()
	log.Info("worker stopped",
		slog.Int64("runs", totals.Runs),
		slog.Int64("failures", totals.Failures),
		slog.Duration("busy", totals.Busy),
	)
	return nil
}

// verifyRecords decodes every stored record and logs a summary. Records that
// cannot be decoded are logged by the store and left out of the summary.
func verifyRecords(ctx context.Context, infra *app.Infrastructure, log *slog.Logger) error {
	var records []*user.Record
	err := infra.Runner.Run(ctx, "Verify", func(ctx context.Context) error {
		var err error
		records, err = infra.Store.All(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	var coins, messages int64
	for _, rec := range records {
		coins += rec.Coins
		messages += rec.MsgCount
	}
	log.Info("records verified",
		slog.Int("users", len(records)),
		slog.Int64("coins", coins),
		slog.Int64("messages", messages),
	)

	top, err := query.NewLeaderboardHandler(infra.QueryDeps(), 1).Handle(ctx, 1)
	if err != nil {
		return fmt.Errorf("verify: leaderboard: %w", err)
	}
	if len(top) > 0 {
		log.Info("leaderboard leader",
			slog.Uint64("user_id", uint64(top[0].UserID)),
			slog.Int("level", top[0].Level),
			slog.Int64("total_exp", top[0].TotalExp),
		)
	}
	return nil
}
