package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errDown = errors.New("down")

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

// fakeClock drives the cooldown without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newBreaker(s Settings) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(s)
	b.now = clock.now
	return b, clock
}

func TestOpensAfterTrip(t *testing.T) {
	b, _ := newBreaker(Settings{Name: "test", Trip: 2, Cooldown: time.Hour})
	ctx := context.Background()

	assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	assert.Equal(t, Closed, b.State())
	assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	assert.Equal(t, Open, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	stats := b.Stats()
	assert.Equal(t, int64(2), stats.Calls)
	assert.Equal(t, int64(2), stats.Failures)
	assert.Equal(t, int64(1), stats.Rejected)
}

func TestSuccessResetsStreak(t *testing.T) {
	b, _ := newBreaker(Settings{Trip: 2})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, ok)
	_ = b.Execute(ctx, fail)
	assert.Equal(t, Closed, b.State())
}

func TestHalfOpenTrialCloses(t *testing.T) {
	b, clock := newBreaker(Settings{Trip: 1, Cooldown: time.Minute})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.advance(30 * time.Second)
	assert.ErrorIs(t, b.Execute(ctx, ok), ErrOpen)

	clock.advance(30 * time.Second)
	assert.NoError(t, b.Execute(ctx, ok))
	assert.Equal(t, Closed, b.State())
}

func TestHalfOpenTrialFailureReopens(t *testing.T) {
	b, clock := newBreaker(Settings{Trip: 1, Cooldown: time.Minute})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.advance(time.Minute)
	assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	assert.Equal(t, Open, b.State())
	assert.Equal(t, clock.t, b.Stats().OpenedAt)
}

func TestHalfOpenLimitsTrials(t *testing.T) {
	b, clock := newBreaker(Settings{Trip: 1, Cooldown: time.Minute, Trials: 1})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.advance(time.Minute)

	err := b.Execute(ctx, func(ctx context.Context) error {
		// A second caller while the trial call is in flight is refused.
		assert.ErrorIs(t, b.Execute(ctx, ok), ErrOpen)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, Closed, b.State())
}

func TestDMOJBreakerIgnoresCancellation(t *testing.T) {
	b := DMOJBreaker(nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = b.Execute(ctx, func(context.Context) error { return context.Canceled })
	}
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, int64(10), b.Stats().Calls)
	assert.Zero(t, b.Stats().Failures)
	assert.Equal(t, "dmoj", b.Name())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "half-open", HalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
