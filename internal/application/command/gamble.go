package command

import (
	"context"
	"fmt"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/progression"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/shared"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
)

// DefaultGambleCost is the price of one gamble.
const DefaultGambleCost = 45

// GambleCommand spends coins on a random payout.
type GambleCommand struct {
	User user.ID
}

// GambleResult describes one gamble.
type GambleResult struct {
	Record *user.Record
	Cost   int64
	Reward int64
}

// Net is the balance change of the gamble.
func (r GambleResult) Net() int64 {
	return r.Reward - r.Cost
}

// GambleHandler handles the GambleCommand.
type GambleHandler struct {
	deps Deps
	cost int64
	src  progression.Source
}

// NewGambleHandler creates a new GambleHandler. src defaults to
// progression.DefaultSource.
func NewGambleHandler(deps Deps, cost int64, src progression.Source) *GambleHandler {
	if cost <= 0 {
		cost = DefaultGambleCost
	}
	if src == nil {
		src = progression.DefaultSource
	}
	return &GambleHandler{deps: deps, cost: cost, src: src}
}

// Handle runs one gamble. The payout is not boosted and the commit is best effort.
func (h *GambleHandler) Handle(ctx context.Context, cmd GambleCommand) (*GambleResult, error) {
	var result *GambleResult
	err := h.deps.Runner.Run(ctx, "Gamble", func(ctx context.Context) error {
		rec, err := h.deps.Store.Load(ctx, cmd.User)
		if err != nil {
			return err
		}
		if rec.Coins < h.cost {
			return shared.ErrNotEnoughCoins
		}

		reward := progression.GambleReward(h.src)
		if err := rec.AddCoins(reward - h.cost); err != nil {
			return err
		}
		if err := h.deps.saveAndCommit(ctx, rec, fmt.Sprintf("User %s gambled", cmd.User), true); err != nil {
			return err
		}
		result = &GambleResult{Record: rec, Cost: h.cost, Reward: reward}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
