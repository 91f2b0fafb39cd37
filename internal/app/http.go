package app

import (
	"log/slog"

	"github.com/JunyuanChen/SonnyBot-ng/config"
	"github.com/JunyuanChen/SonnyBot-ng/internal/application/command"
	"github.com/JunyuanChen/SonnyBot-ng/internal/application/query"
	httpserver "github.com/JunyuanChen/SonnyBot-ng/internal/interface/http"
	"github.com/JunyuanChen/SonnyBot-ng/internal/interface/http/handlers"
)

// Version is reported by the health endpoint. Set with -ldflags at build time.
var Version = "dev"

// OpsOptions are the process-specific parts of the ops server.
type OpsOptions struct {
	Metrics httpserver.MetricsSource
	Jobs    httpserver.JobLister

	// Readiness checks in addition to the storage pings.
	Readiness map[string]handlers.HealthCheckFunc
}

// NewHTTPServer builds the ops server over the opened storage stack.
func NewHTTPServer(cfg *config.Config, infra *Infrastructure, opts OpsOptions, logger *slog.Logger) *httpserver.Server {
	health := handlers.NewCompositeHealthChecker(Version)
	for name, ping := range infra.HealthChecks() {
		health.AddCheck(name, ping)
	}
	for name, check := range opts.Readiness {
		health.AddReadinessCheck(name, check)
	}

	serverCfg := httpserver.DefaultConfig()
	serverCfg.Host = cfg.HTTP.Host
	serverCfg.Port = cfg.HTTP.Port
	serverCfg.APIKeys = cfg.HTTP.APIKeys
	serverCfg.MaxLeaderboard = cfg.Economy.LeaderboardLimit

	q := infra.QueryDeps()
	deps := httpserver.Dependencies{
		Leaderboard: query.NewLeaderboardHandler(q, cfg.Economy.LeaderboardSize),
		Stat:        query.NewStatHandler(q),
		Sync:        command.NewSyncDataHandler(infra.CommandDeps(nil)),
		Health:      health,
		Metrics:     opts.Metrics,
		Jobs:        opts.Jobs,
		Logger:      logger,
	}
	return httpserver.NewServer(serverCfg, deps)
}
