package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotHeld is returned when releasing a lease that already expired or
// was taken over.
var ErrLockNotHeld = errors.New("lock: not held")

// releaseScript deletes the lock key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// StoreLock is a lease on a Redis key. Holding it means no other replica is
// inside a store operation on the same data repository.
type StoreLock struct {
	cache    *Cache
	key      string
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
}

// NewStoreLock creates a lock on resource. ttl bounds how long a crashed
// holder can block others.
func NewStoreLock(cache *Cache, resource string, ttl time.Duration, logger *slog.Logger) *StoreLock {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &StoreLock{
		cache:    cache,
		key:      cache.Key("lock:" + resource),
		ttl:      ttl,
		interval: 50 * time.Millisecond,
		logger:   logger.With("component", "store_lock"),
	}
}

// Acquire blocks until the lease is obtained or ctx is done. The returned
// function releases the lease; calling it more than once is harmless.
func (l *StoreLock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		ok, err := l.cache.Client().SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("lock: acquire %s: %w", l.key, err)
		}
		if ok {
			released := false
			return func() {
				if released {
					return
				}
				released = true
				if err := l.release(token); err != nil {
					l.logger.Warn("failed to release store lock", slog.String("error", err.Error()))
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *StoreLock) release(token string) error {
	// The caller's context may already be cancelled; release on our own.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := releaseScript.Run(ctx, l.cache.Client(), []string{l.key}, token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
