package query

import (
	"context"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
)

// DefaultLeaderboardSize is the number of entries shown when none is asked for.
const DefaultLeaderboardSize = 10

// LeaderboardEntry is one line of the leaderboard.
type LeaderboardEntry struct {
	Rank     int
	UserID   user.ID
	Level    int
	TotalExp int64
}

// LeaderboardHandler returns the top users by total EXP.
type LeaderboardHandler struct {
	deps Deps
	size int
}

// NewLeaderboardHandler creates a new LeaderboardHandler. size is the
// default number of entries.
func NewLeaderboardHandler(deps Deps, size int) *LeaderboardHandler {
	if size <= 0 {
		size = DefaultLeaderboardSize
	}
	return &LeaderboardHandler{deps: deps, size: size}
}

// Handle returns the top n entries; n <= 0 uses the default size.
func (h *LeaderboardHandler) Handle(ctx context.Context, n int) ([]LeaderboardEntry, error) {
	if n <= 0 {
		n = h.size
	}

	var entries []LeaderboardEntry
	err := h.deps.Runner.Run(ctx, "Leaderboard", func(ctx context.Context) error {
		ranked, err := h.deps.standings(ctx)
		if err != nil {
			return err
		}
		ranked = ranked[:min(n, len(ranked))]

		entries = make([]LeaderboardEntry, len(ranked))
		for i, s := range ranked {
			entries[i] = LeaderboardEntry{
				Rank:     i + 1,
				UserID:   s.ID,
				Level:    s.Level(),
				TotalExp: s.Total,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
