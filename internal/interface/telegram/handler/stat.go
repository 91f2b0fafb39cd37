package handler

import (
	"context"
	"strconv"

	"github.com/JunyuanChen/SonnyBot-ng/internal/application/query"
	"github.com/JunyuanChen/SonnyBot-ng/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// STAT & LEADERBOARD
// Read-only views of the records.
// ══════════════════════════════════════════════════════════════════════════════

// StatHandler handles the /stat command.
type StatHandler struct {
	query *query.StatHandler
}

// NewStatHandler creates a new StatHandler.
func NewStatHandler(q *query.StatHandler) *StatHandler {
	return &StatHandler{query: q}
}

// Handle shows the stat card of the target, or of the sender.
func (h *StatHandler) Handle(ctx context.Context, req *Request) (Reply, error) {
	target, _ := req.TargetOrSender()

	res, err := h.query.Handle(ctx, target.ID)
	if err != nil {
		return nil, presenter.Fail(target.Mention(), err)
	}
	return Reply{presenter.StatCard(target.Title(), res, req.Now)}, nil
}

// LeaderboardHandler handles the /leaderboard command.
type LeaderboardHandler struct {
	query *query.LeaderboardHandler
	max   int
}

// NewLeaderboardHandler creates a new LeaderboardHandler. limit caps the size
// a user may ask for.
func NewLeaderboardHandler(q *query.LeaderboardHandler, limit int) *LeaderboardHandler {
	if limit <= 0 {
		limit = 50
	}
	return &LeaderboardHandler{query: q, max: limit}
}

// Handle shows the top users. An optional argument sets how many.
func (h *LeaderboardHandler) Handle(ctx context.Context, req *Request) (Reply, error) {
	n := 0
	if len(req.Args) > 0 {
		v, err := strconv.Atoi(req.Args[0])
		if err != nil || v <= 0 {
			return nil, usage("/leaderboard [size]")
		}
		n = min(v, h.max)
	}

	entries, err := h.query.Handle(ctx, n)
	if err != nil {
		return nil, presenter.Fail(req.Sender.Mention(), err)
	}
	return Reply{presenter.Leaderboard(entries)}, nil
}
