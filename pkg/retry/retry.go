// Package retry retries the calls the bot makes over the network: pushes to
// the git remote, judge page fetches, Bot API calls and database statements.
// The core never retries; only these collaborators do.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryableError marks an error worth another attempt.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so the default policy retries it.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err was wrapped with Retryable.
func IsRetryable(err error) bool {
	var r *RetryableError
	return errors.As(err, &r)
}

// PermanentError stops retrying whatever the policy says.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so no policy retries it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// Backoff is an exponential delay schedule.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// Jitter spreads each delay by up to this fraction either way.
	Jitter float64
}

// Delay returns the wait after the given failed attempt, counting from 1.
func (b Backoff) Delay(attempt int) time.Duration {
	mult := max(b.Multiplier, 1)
	d := float64(b.Initial) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 {
		d = math.Min(d, float64(b.Max))
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(math.Max(d, 0))
}

// Option adjusts a Retrier.
type Option func(*Retrier)

// WithRetryIf replaces the default policy, which retries only errors wrapped
// with Retryable.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) { r.retryIf = fn }
}

// WithOnRetry registers a callback run before each wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

// Retrier runs an operation up to a fixed number of attempts.
type Retrier struct {
	attempts int
	backoff  Backoff
	retryIf  func(error) bool
	onRetry  func(attempt int, err error, delay time.Duration)
}

// New creates a Retrier making at most attempts calls, at least one.
func New(attempts int, backoff Backoff, opts ...Option) *Retrier {
	r := &Retrier{attempts: max(attempts, 1), backoff: backoff, retryIf: IsRetryable}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// With returns a copy of r with opts applied.
func (r *Retrier) With(opts ...Option) *Retrier {
	c := *r
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// Do calls operation until it succeeds, the policy declines the error, the
// attempts run out or ctx ends. Retryable and Permanent wrappers are removed
// from the returned error.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return unwrap(last)
			}
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		last = err

		if IsPermanent(err) || !r.retryIf(err) || attempt >= r.attempts {
			return unwrap(err)
		}

		delay := r.backoff.Delay(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return unwrap(last)
		case <-timer.C:
		}
	}
}

func unwrap(err error) error {
	var p *PermanentError
	if errors.As(err, &p) && p == err {
		return p.Err
	}
	var r *RetryableError
	if errors.As(err, &r) && r == err {
		return r.Err
	}
	return err
}

// DoWithData is Do for operations that return a value.
func DoWithData[T any](ctx context.Context, r *Retrier, operation func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = operation(ctx)
		return opErr
	})
	return result, err
}

// ─────────────────────────────────────────────────────────────────────────────
// Presets
// ─────────────────────────────────────────────────────────────────────────────

// GitRetrier returns a Retrier for pushes and fetches to the data remote.
func GitRetrier(attempts int) *Retrier {
	return New(attempts, Backoff{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2, Jitter: 0.2})
}

// DMOJRetrier returns a Retrier for judge page fetches. It backs off slowly
// so the judge does not rate limit the bot.
func DMOJRetrier(attempts int) *Retrier {
	return New(attempts, Backoff{Initial: 500 * time.Millisecond, Max: 10 * time.Second, Multiplier: 2, Jitter: 0.2})
}

// TelegramRetrier returns a Retrier for Bot API calls.
func TelegramRetrier() *Retrier {
	return New(5, Backoff{Initial: 100 * time.Millisecond, Max: 5 * time.Second, Multiplier: 1.5, Jitter: 0.1})
}

// DatabaseRetrier returns a Retrier for transient database failures.
func DatabaseRetrier() *Retrier {
	return New(3, Backoff{Initial: 50 * time.Millisecond, Max: time.Second, Multiplier: 2, Jitter: 0.05})
}
