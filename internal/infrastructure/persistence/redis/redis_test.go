package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheFromClient(client, "test:"), mr
}

func TestCacheSetGet(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	var got map[string]int
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", map[string]int{"a": 1}, time.Minute))
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, map[string]int{"a": 1}, got)
	assert.True(t, mr.Exists("test:k"))

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrCacheMiss)
}

func TestStoreLockExcludes(t *testing.T) {
	c, _ := newTestCache(t)
	lock := NewStoreLock(c, "data", time.Minute, nil)
	ctx := context.Background()

	release, err := lock.Acquire(ctx)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	_, err = lock.Acquire(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()

	again, err := lock.Acquire(ctx)
	require.NoError(t, err)
	again()
}

func TestStoreLockSerializes(t *testing.T) {
	c, _ := newTestCache(t)
	lock := NewStoreLock(c, "data", time.Minute, nil)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := lock.Acquire(ctx)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestStoreLockExpiredLeaseIsNotStolenBack(t *testing.T) {
	c, mr := newTestCache(t)
	lock := NewStoreLock(c, "data", time.Second, nil)
	ctx := context.Background()

	release, err := lock.Acquire(ctx)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	other, err := lock.Acquire(ctx)
	require.NoError(t, err)

	// The stale holder must not delete the new holder's key.
	release()
	assert.True(t, mr.Exists("test:lock:data"))
	other()
	assert.False(t, mr.Exists("test:lock:data"))
}

func TestLeaderboardCache(t *testing.T) {
	c, mr := newTestCache(t)
	lb := NewLeaderboardCache(c, time.Minute)
	ctx := context.Background()

	_, err := lb.Standings(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)

	// Updates while cold are dropped.
	require.NoError(t, lb.RecordSaved(ctx, &user.Record{ID: 9, Exp: 10}))
	_, err = lb.Standings(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, lb.Replace(ctx, []user.Standing{
		{ID: 3, Total: 500},
		{ID: 1, Total: 2000},
		{ID: 2, Total: 500},
	}))
	got, err := lb.Standings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []user.Standing{{ID: 1, Total: 2000}, {ID: 2, Total: 500}, {ID: 3, Total: 500}}, got)

	rec := user.New(3)
	rec.Level = 2
	rec.Exp = 1
	require.NoError(t, lb.RecordSaved(ctx, rec))
	require.NoError(t, lb.RecordDestroyed(ctx, 2))

	got, err = lb.Standings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []user.Standing{rec.Standing(), {ID: 1, Total: 2000}}, got)

	require.NoError(t, lb.RecordsReplaced(ctx))
	_, err = lb.Standings(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, lb.Replace(ctx, nil))
	got, err = lb.Standings(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	mr.FastForward(2 * time.Minute)
	_, err = lb.Standings(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)
}
