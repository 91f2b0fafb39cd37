package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/persistence/recordstore"
)

// leaderboardMeta marks the sorted set as built, so an empty leaderboard is
// still a cache hit.
type leaderboardMeta struct {
	BuiltAt time.Time `json:"built_at"`
	Count   int       `json:"count"`
}

// updateScript adjusts a score only while the cache is built; otherwise the
// next read rebuilds from the store anyway.
var updateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	redis.call("ZADD", KEYS[1], ARGV[1], ARGV[2])
	return 1
end
return 0
`)

// LeaderboardCache keeps total EXP standings in a sorted set.
//
// Architecture:
//   - Sorted Set "leaderboard:exp" stores userID -> total EXP
//   - String "leaderboard:meta" marks the set as complete
//
// It follows store writes as a recordstore.Listener and expires after ttl so
// that writes made by other replicas are eventually picked up.
type LeaderboardCache struct {
	cache *Cache
	ttl   time.Duration
}

const (
	keyLeaderboardExp  = "leaderboard:exp"
	keyLeaderboardMeta = "leaderboard:meta"
)

var _ recordstore.Listener = (*LeaderboardCache)(nil)

// NewLeaderboardCache creates a new LeaderboardCache instance.
func NewLeaderboardCache(cache *Cache, ttl time.Duration) *LeaderboardCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LeaderboardCache{cache: cache, ttl: ttl}
}

// ══════════════════════════════════════════════════════════════════════════════
// READ OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Standings returns every cached standing ordered by descending total EXP,
// ties broken by ascending ID. Returns ErrCacheMiss when the cache is cold.
func (l *LeaderboardCache) Standings(ctx context.Context) ([]user.Standing, error) {
	var meta leaderboardMeta
	if err := l.cache.Get(ctx, keyLeaderboardMeta, &meta); err != nil {
		return nil, err
	}

	members, err := l.cache.Client().ZRangeWithScores(ctx, l.cache.Key(keyLeaderboardExp), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	standings := make([]user.Standing, 0, len(members))
	for _, z := range members {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		id, err := user.ParseID(member)
		if err != nil {
			continue
		}
		standings = append(standings, user.Standing{ID: id, Total: int64(z.Score)})
	}

	sort.Slice(standings, func(i, j int) bool {
		if standings[i].Total != standings[j].Total {
			return standings[i].Total > standings[j].Total
		}
		return standings[i].ID < standings[j].ID
	})
	return standings, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Replace rebuilds the cache from a full set of standings.
func (l *LeaderboardCache) Replace(ctx context.Context, standings []user.Standing) error {
	expKey := l.cache.Key(keyLeaderboardExp)

	pipe := l.cache.Client().TxPipeline()
	pipe.Del(ctx, expKey)
	if len(standings) > 0 {
		members := make([]redis.Z, len(standings))
		for i, s := range standings {
			members[i] = redis.Z{Score: float64(s.Total), Member: s.ID.String()}
		}
		pipe.ZAdd(ctx, expKey, members...)
		pipe.Expire(ctx, expKey, l.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("leaderboard_cache: replace: %w", err)
	}

	return l.cache.Set(ctx, keyLeaderboardMeta, leaderboardMeta{
		BuiltAt: time.Now().UTC(),
		Count:   len(standings),
	}, l.ttl)
}

// Invalidate drops the cached standings.
func (l *LeaderboardCache) Invalidate(ctx context.Context) error {
	return l.cache.Delete(ctx, keyLeaderboardMeta, keyLeaderboardExp)
}

// RecordSaved updates the saved user's score.
func (l *LeaderboardCache) RecordSaved(ctx context.Context, rec *user.Record) error {
	keys := []string{l.cache.Key(keyLeaderboardExp), l.cache.Key(keyLeaderboardMeta)}
	return updateScript.Run(ctx, l.cache.Client(), keys, rec.TotalExp(), rec.ID.String()).Err()
}

// RecordDestroyed removes the user from the standings.
func (l *LeaderboardCache) RecordDestroyed(ctx context.Context, id user.ID) error {
	return l.cache.Client().ZRem(ctx, l.cache.Key(keyLeaderboardExp), id.String()).Err()
}

// RecordsReplaced invalidates the cache after the store reloaded everything.
func (l *LeaderboardCache) RecordsReplaced(ctx context.Context) error {
	return l.Invalidate(ctx)
}
