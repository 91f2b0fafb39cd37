package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/shared"
)

// Runner runs operations under a Locker with a deadline.
type Runner struct {
	locker  Locker
	timeout time.Duration
	logger  *slog.Logger
}

// NewRunner creates a Runner. A non-positive timeout means 60 seconds.
func NewRunner(locker Locker, timeout time.Duration, logger *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{locker: locker, timeout: timeout, logger: logger}
}

// Run acquires the lock, runs fn and releases the lock, all within the
// runner's timeout. Failing to get the lock in time, or fn failing with a
// bare context error, is reported as shared.ErrTimeout.
func (r *Runner) Run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	release, err := r.locker.Acquire(ctx)
	if err != nil {
		r.logger.Warn("failed to acquire store lock",
			slog.String("op", op),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return shared.WrapError("lock", op, shared.ErrTimeout,
			"The bot is busy - please try again later", err)
	}
	defer release()

	err = fn(ctx)
	var de *shared.DomainError
	if err != nil && !errors.As(err, &de) && ctx.Err() != nil {
		err = shared.WrapError("lock", op, shared.ErrTimeout, "Operation timed out - see logs for details", err)
	}

	level := slog.LevelDebug
	if err != nil && !shared.IsRejected(err) && !shared.IsNotFound(err) {
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("op", op),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	r.logger.LogAttrs(ctx, level, "operation finished", attrs...)
	return err
}
