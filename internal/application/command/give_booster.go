package command

import (
	"context"
	"fmt"
	"time"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/shared"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
	"github.com/JunyuanChen/SonnyBot-ng/pkg/timeutil"
)

// GiveBoosterCommand grants booster time to a user.
type GiveBoosterCommand struct {
	Target   user.ID
	Kind     user.BoosterKind
	Duration time.Duration
}

// GiveBoosterResult carries the new expiry.
type GiveBoosterResult struct {
	Record *user.Record
	Expiry time.Time
}

// GiveBoosterHandler handles the GiveBoosterCommand.
type GiveBoosterHandler struct {
	deps        Deps
	maxDuration time.Duration
}

// NewGiveBoosterHandler creates a new GiveBoosterHandler. A non-positive
// maxDuration disables the upper bound.
func NewGiveBoosterHandler(deps Deps, maxDuration time.Duration) *GiveBoosterHandler {
	return &GiveBoosterHandler{deps: deps, maxDuration: maxDuration}
}

// Handle extends the booster. Time stacks on top of a running booster.
func (h *GiveBoosterHandler) Handle(ctx context.Context, cmd GiveBoosterCommand) (*GiveBoosterResult, error) {
	if cmd.Duration <= 0 || (h.maxDuration > 0 && cmd.Duration > h.maxDuration) {
		return nil, shared.ErrInvalidDuration
	}

	var result *GiveBoosterResult
	err := h.deps.Runner.Run(ctx, "GiveBooster", func(ctx context.Context) error {
		rec, err := h.deps.Store.Load(ctx, cmd.Target)
		if err != nil {
			return err
		}
		expiry, err := rec.GrantBooster(cmd.Kind, cmd.Duration, h.deps.now())
		if err != nil {
			return err
		}

		msg := fmt.Sprintf("Give %s booster to User %s for %s", cmd.Kind, cmd.Target, timeutil.FormatDuration(cmd.Duration))
		if err := h.deps.saveAndCommit(ctx, rec, msg, false); err != nil {
			return err
		}
		result = &GiveBoosterResult{Record: rec, Expiry: expiry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
