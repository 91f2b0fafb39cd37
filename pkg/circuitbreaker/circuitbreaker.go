// Package circuitbreaker stops the bot from calling a judge or chat API that
// keeps failing. After Trip consecutive failures the breaker opens and
// refuses calls for Cooldown; then a few trial calls decide whether it closes
// again.
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without calling the remote while the breaker is open,
// or while every trial slot of a half-open breaker is taken.
var ErrOpen = errors.New("circuit breaker is open")

// Settings configure a Breaker. Zero values fall back to one failure, a
// 30 second cooldown and a single trial.
type Settings struct {
	Name string

	// Trip is the number of consecutive failures that opens the breaker.
	Trip int

	Cooldown time.Duration

	// Trials is the number of calls let through at once while half-open.
	// The first trial to succeed closes the breaker, any failure reopens it.
	Trials int

	// Ignore reports errors that say nothing about the remote, such as the
	// caller cancelling. They count as neither success nor failure.
	Ignore func(error) bool

	Logger *slog.Logger
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	State    State
	Calls    int64
	Failures int64
	Rejected int64
	OpenedAt time.Time
}

// Breaker guards calls to one remote.
type Breaker struct {
	settings Settings
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	state    State
	streak   int
	trials   int
	openedAt time.Time
	stats    Stats
}

// New creates a closed breaker.
func New(settings Settings) *Breaker {
	if settings.Trip <= 0 {
		settings.Trip = 1
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.Trials <= 0 {
		settings.Trials = 1
	}
	logger := settings.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// Execute calls fn unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(err, trial)
	return err
}

func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && b.now().Sub(b.openedAt) >= b.settings.Cooldown {
		b.moveTo(HalfOpen)
	}

	switch b.state {
	case Closed:
		return false, nil
	case HalfOpen:
		if b.trials < b.settings.Trials {
			b.trials++
			return true, nil
		}
	}
	b.stats.Rejected++
	return false, ErrOpen
}

func (b *Breaker) record(err error, trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Calls++
	if err != nil && b.settings.Ignore != nil && b.settings.Ignore(err) {
		if trial {
			b.trials--
		}
		return
	}
	failed := err != nil
	if failed {
		b.stats.Failures++
	}

	switch {
	case trial && b.state == HalfOpen:
		b.trials--
		if failed {
			b.moveTo(Open)
		} else {
			b.moveTo(Closed)
		}
	case b.state == Closed:
		if !failed {
			b.streak = 0
			return
		}
		b.streak++
		if b.streak >= b.settings.Trip {
			b.moveTo(Open)
		}
	}
}

// moveTo must be called with mu held.
func (b *Breaker) moveTo(to State) {
	from := b.state
	b.state = to
	b.streak = 0
	b.trials = 0
	if to == Open {
		b.openedAt = b.now()
	}

	level := slog.LevelInfo
	if to == Open {
		level = slog.LevelWarn
	}
	b.logger.Log(context.Background(), level, "circuit breaker state changed",
		slog.String("breaker", b.settings.Name),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
}

// State returns the current state. An open breaker whose cooldown has passed
// still reports Open until the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns the counters of the breaker.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.State = b.state
	s.OpenedAt = b.openedAt
	return s
}

// Name returns the name of the breaker.
func (b *Breaker) Name() string {
	return b.settings.Name
}

// ─────────────────────────────────────────────────────────────────────────────
// Presets
// ─────────────────────────────────────────────────────────────────────────────

// DMOJBreaker returns the breaker of the judge client. The judge is a
// volunteer-run site, so it backs off for minutes.
func DMOJBreaker(logger *slog.Logger) *Breaker {
	return New(Settings{
		Name:     "dmoj",
		Trip:     3,
		Cooldown: 2 * time.Minute,
		Trials:   1,
		Ignore:   func(err error) bool { return errors.Is(err, context.Canceled) },
		Logger:   logger,
	})
}

// TelegramAPIBreaker returns the breaker of the Bot API client.
func TelegramAPIBreaker(logger *slog.Logger) *Breaker {
	return New(Settings{
		Name:     "telegram-api",
		Trip:     5,
		Cooldown: 30 * time.Second,
		Trials:   2,
		Ignore:   func(err error) bool { return errors.Is(err, context.Canceled) },
		Logger:   logger,
	})
}
