// Package jobs contains the scheduled jobs of the bot.
package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// SyncStoreJobName names the store sync job.
const SyncStoreJobName = "sync_store"

// Syncer flushes pending record changes and reloads from the remote.
type Syncer interface {
	Handle(ctx context.Context) error
}

// ══════════════════════════════════════════════════════════════════════════════
// SYNC STORE JOB
// ══════════════════════════════════════════════════════════════════════════════

// SyncStoreJob periodically pushes lazily committed changes and picks up
// changes made by other writers of the data repository.
type SyncStoreJob struct {
	syncer Syncer
	logger *slog.Logger

	lastSuccess atomic.Pointer[time.Time]
}

// NewSyncStoreJob creates a new SyncStoreJob.
func NewSyncStoreJob(syncer Syncer, logger *slog.Logger) *SyncStoreJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncStoreJob{syncer: syncer, logger: logger.With("job", SyncStoreJobName)}
}

// Name returns the job name.
func (j *SyncStoreJob) Name() string {
	return SyncStoreJobName
}

// Description returns a human-readable description.
func (j *SyncStoreJob) Description() string {
	return "Flushes pending commits and reloads user records from the remote"
}

// Run executes the sync.
func (j *SyncStoreJob) Run(ctx context.Context) error {
	if err := j.syncer.Handle(ctx); err != nil {
		return err
	}
	now := time.Now()
	j.lastSuccess.Store(&now)
	return nil
}

// LastSuccess returns the time of the last successful sync, or the zero time.
func (j *SyncStoreJob) LastSuccess() time.Time {
	if t := j.lastSuccess.Load(); t != nil {
		return *t
	}
	return time.Time{}
}
