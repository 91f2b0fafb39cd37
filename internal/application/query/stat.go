package query

import (
	"context"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/progression"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
)

// StatResult is what the stat card shows about a user.
type StatResult struct {
	Record *user.Record

	// Rank is 1-based among every user by total EXP.
	Rank  int
	Users int

	// Requirement is the EXP needed to complete the current level.
	Requirement int64
}

// StatHandler reads the stats of one user.
type StatHandler struct {
	deps Deps
}

// NewStatHandler creates a new StatHandler.
func NewStatHandler(deps Deps) *StatHandler {
	return &StatHandler{deps: deps}
}

// Handle returns the stats of id.
func (h *StatHandler) Handle(ctx context.Context, id user.ID) (*StatResult, error) {
	var result *StatResult
	err := h.deps.Runner.Run(ctx, "Stat", func(ctx context.Context) error {
		rec, err := h.deps.Store.Load(ctx, id)
		if err != nil {
			return err
		}
		ranked, err := h.deps.standings(ctx)
		if err != nil {
			return err
		}

		rank := progression.RankOf(ranked, func(s user.Standing) bool { return s.ID == id })
		if rank == 0 {
			// A cache built before this record existed; place it by its own total.
			rank = 1 + countAbove(ranked, rec.Standing())
		}

		result = &StatResult{
			Record:      rec,
			Rank:        rank,
			Users:       max(len(ranked), rank),
			Requirement: progression.Requirement(rec.Level),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func countAbove(ranked []user.Standing, s user.Standing) int {
	n := 0
	for _, r := range ranked {
		if r.Total > s.Total || (r.Total == s.Total && r.ID < s.ID) {
			n++
		}
	}
	return n
}
