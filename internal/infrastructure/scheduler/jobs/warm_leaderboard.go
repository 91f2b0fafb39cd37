package jobs

import (
	"context"
	"log/slog"

	"github.com/JunyuanChen/SonnyBot-ng/internal/application/query"
)

// LeaderboardReader reads the leaderboard, rebuilding its cache on a miss.
type LeaderboardReader interface {
	Handle(ctx context.Context, n int) ([]query.LeaderboardEntry, error)
}

// WarmLeaderboardJob rebuilds the leaderboard cache ahead of the first
// request after a sync or expiry.
type WarmLeaderboardJob struct {
	reader LeaderboardReader
	logger *slog.Logger
}

// NewWarmLeaderboardJob creates a new WarmLeaderboardJob.
func NewWarmLeaderboardJob(reader LeaderboardReader, logger *slog.Logger) *WarmLeaderboardJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &WarmLeaderboardJob{reader: reader, logger: logger.With("job", "warm_leaderboard")}
}

// Name returns the job name.
func (j *WarmLeaderboardJob) Name() string {
	return "warm_leaderboard"
}

// Description returns a human-readable description.
func (j *WarmLeaderboardJob) Description() string {
	return "Rebuilds the cached leaderboard standings"
}

// Run reads the top of the leaderboard.
func (j *WarmLeaderboardJob) Run(ctx context.Context) error {
	entries, err := j.reader.Handle(ctx, 1)
	if err != nil {
		return err
	}
	j.logger.Debug("leaderboard warmed", "leader_present", len(entries) > 0)
	return nil
}
