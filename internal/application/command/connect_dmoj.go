package command

import (
	"context"
	"fmt"
	"time"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/achievement"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/shared"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// DMOJ ACHIEVEMENT COMMANDS
// Linking a judge account and pulling progress from it. The fetch happens
// inside the store lock so the reconciled progress is never stale.
// ══════════════════════════════════════════════════════════════════════════════

// AchievementResult is the outcome of a progress sync.
type AchievementResult struct {
	Record  *user.Record
	Rewards achievement.Rewards

	// ExpGained and CoinsGained include booster effects.
	ExpGained   int64
	CoinsGained int64
	Outcome     user.ExpOutcome
}

// ConnectDMOJCommand links a judge account to a user.
type ConnectDMOJCommand struct {
	User     user.ID
	Username string
}

// ConnectDMOJHandler handles the ConnectDMOJCommand.
type ConnectDMOJHandler struct {
	deps    Deps
	fetcher achievement.Fetcher
	engine  *achievement.Engine
}

// NewConnectDMOJHandler creates a new ConnectDMOJHandler.
func NewConnectDMOJHandler(deps Deps, fetcher achievement.Fetcher, engine *achievement.Engine) *ConnectDMOJHandler {
	return &ConnectDMOJHandler{deps: deps, fetcher: fetcher, engine: engine}
}

// Handle links the account and grants the rewards of its existing progress.
func (h *ConnectDMOJHandler) Handle(ctx context.Context, cmd ConnectDMOJCommand) (*AchievementResult, error) {
	var result *AchievementResult
	err := h.deps.Runner.Run(ctx, "ConnectDMOJ", func(ctx context.Context) error {
		rec, err := h.deps.Store.Load(ctx, cmd.User)
		if err != nil {
			return err
		}
		if rec.Connected() {
			return shared.ErrAlreadyConnected
		}

		fetched, err := h.fetcher.FetchProgress(ctx, cmd.Username)
		if err != nil {
			return err
		}
		if len(fetched) == 0 {
			return shared.ErrEmptyProfile
		}

		if err := rec.Connect(cmd.Username); err != nil {
			return err
		}
		result, err = grantProgress(rec, h.engine, fetched, h.deps.now())
		if err != nil {
			return err
		}

		msg := fmt.Sprintf("Connect User %s to DMOJ %s", cmd.User, cmd.Username)
		return h.deps.saveAndCommit(ctx, rec, msg, false)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FetchCCCProgressCommand refreshes a user's progress from the judge.
type FetchCCCProgressCommand struct {
	User user.ID
}

// FetchCCCProgressHandler handles the FetchCCCProgressCommand.
type FetchCCCProgressHandler struct {
	deps    Deps
	fetcher achievement.Fetcher
	engine  *achievement.Engine
}

// NewFetchCCCProgressHandler creates a new FetchCCCProgressHandler.
func NewFetchCCCProgressHandler(deps Deps, fetcher achievement.Fetcher, engine *achievement.Engine) *FetchCCCProgressHandler {
	return &FetchCCCProgressHandler{deps: deps, fetcher: fetcher, engine: engine}
}

// Handle pulls progress and grants whatever improved. The commit is best effort.
func (h *FetchCCCProgressHandler) Handle(ctx context.Context, cmd FetchCCCProgressCommand) (*AchievementResult, error) {
	var result *AchievementResult
	err := h.deps.Runner.Run(ctx, "FetchCCCProgress", func(ctx context.Context) error {
		rec, err := h.deps.Store.Load(ctx, cmd.User)
		if err != nil {
			return err
		}
		if !rec.Connected() {
			return shared.ErrNotConnected
		}

		fetched, err := h.fetcher.FetchProgress(ctx, rec.Username())
		if err != nil {
			return err
		}

		result, err = grantProgress(rec, h.engine, fetched, h.deps.now())
		if err != nil {
			return err
		}

		msg := fmt.Sprintf("Update CCC progress for User %s", cmd.User)
		return h.deps.saveAndCommit(ctx, rec, msg, true)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// grantProgress reconciles fetched progress into rec and applies the boosted
// rewards. rec is left unchanged on error.
func grantProgress(rec *user.Record, engine *achievement.Engine, fetched map[string]int, now time.Time) (*AchievementResult, error) {
	work := rec.Clone()
	rewards := engine.Reconcile(work.CCCProgress, fetched)

	exp := work.BoostExp(rewards.Exp, now)
	outcome, err := work.ApplyExp(exp, now)
	if err != nil {
		return nil, err
	}
	coins := work.BoostCoins(rewards.Coins, now)
	if err := work.AddCoins(coins); err != nil {
		return nil, err
	}

	*rec = *work
	return &AchievementResult{
		Record:      rec,
		Rewards:     rewards,
		ExpGained:   exp,
		CoinsGained: coins,
		Outcome:     outcome,
	}, nil
}
