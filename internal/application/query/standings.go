// Package query contains the read operations of the bot.
// Queries never modify records - they only read and return data.
package query

import (
	"context"
	"log/slog"

	"github.com/JunyuanChen/SonnyBot-ng/internal/application/lock"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/progression"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// StandingsCache holds precomputed leaderboard standings.
type StandingsCache interface {
	// Standings returns every standing in leaderboard order, or an error
	// when the cache cannot answer.
	Standings(ctx context.Context) ([]user.Standing, error)

	// Replace stores a complete set of standings.
	Replace(ctx context.Context, standings []user.Standing) error
}

// Deps are the collaborators shared by every query.
type Deps struct {
	Store  user.Store
	Runner *lock.Runner

	// Cache is optional.
	Cache  StandingsCache
	Logger *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// standings returns the ranked standings of every user: total EXP
// descending, ties by ascending ID. The cache is consulted first and rebuilt
// from the store when it misses.
func (d Deps) standings(ctx context.Context) ([]user.Standing, error) {
	if d.Cache != nil {
		cached, err := d.Cache.Standings(ctx)
		if err == nil {
			return cached, nil
		}
		d.logger().Debug("leaderboard cache miss", slog.String("error", err.Error()))
	}

	records, err := d.Store.All(ctx)
	if err != nil {
		return nil, err
	}
	// All is ordered by ID and RankUsers is stable, which breaks ties by ID.
	all := make([]user.Standing, len(records))
	for i, rec := range records {
		all[i] = rec.Standing()
	}
	ranked := progression.RankUsers(all)

	if d.Cache != nil {
		if err := d.Cache.Replace(ctx, ranked); err != nil {
			d.logger().Warn("failed to rebuild leaderboard cache", slog.String("error", err.Error()))
		}
	}
	return ranked, nil
}
