// Package command contains the write operations of the bot. Every handler
// runs its whole load, mutate, save and commit sequence under the store lock.
package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/JunyuanChen/SonnyBot-ng/internal/application/lock"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
)

// Deps are the collaborators shared by every handler.
type Deps struct {
	Store  user.Store
	Runner *lock.Runner
	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// loadBoth loads two records, reporting the first one missing.
func (d Deps) loadBoth(ctx context.Context, a, b user.ID) (*user.Record, *user.Record, error) {
	ra, err := d.Store.Load(ctx, a)
	if err != nil {
		return nil, nil, err
	}
	rb, err := d.Store.Load(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	return ra, rb, nil
}

// saveAndCommit saves rec and commits it under message.
func (d Deps) saveAndCommit(ctx context.Context, rec *user.Record, message string, ignoreFailure bool) error {
	if err := d.Store.Save(ctx, rec); err != nil {
		return err
	}
	return d.Store.Commit(ctx, message, ignoreFailure)
}
