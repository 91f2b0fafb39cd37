// Package lock serializes store operations. Every command handler runs its
// whole load, mutate, save and commit sequence while holding the store lock.
package lock

import (
	"context"
)

// Locker grants exclusive access until the returned release function is
// called. Acquire gives up when ctx is done.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Local is an in-process mutex that honours context cancellation.
type Local struct {
	ch chan struct{}
}

// NewLocal creates an unlocked Local.
func NewLocal() *Local {
	return &Local{ch: make(chan struct{}, 1)}
}

// Acquire waits for the mutex.
func (l *Local) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		<-l.ch
	}, nil
}

// Chain acquires its lockers in order and releases them in reverse.
// The usual chain is a Local lock followed by a distributed one, so only one
// goroutine per process competes for the distributed lease.
type Chain []Locker

// Acquire takes every lock in the chain or none.
func (c Chain) Acquire(ctx context.Context) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, l := range c {
		release, err := l.Acquire(ctx)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// With runs fn while holding l.
func With(ctx context.Context, l Locker, fn func(ctx context.Context) error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}
