package command

import (
	"context"
	"fmt"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHANGE EXP COMMAND
// Admin adjustment of a user's EXP. Crossing level boundaries pays out or
// claws back the level coins.
// ══════════════════════════════════════════════════════════════════════════════

// ChangeExpCommand contains the data to change a user's EXP.
type ChangeExpCommand struct {
	Target user.ID
	Amount int64
}

// ChangeExpResult contains the result of the change.
type ChangeExpResult struct {
	Record  *user.Record
	Outcome user.ExpOutcome
}

// ChangeExpHandler handles the ChangeExpCommand.
type ChangeExpHandler struct {
	deps Deps
}

// NewChangeExpHandler creates a new ChangeExpHandler.
func NewChangeExpHandler(deps Deps) *ChangeExpHandler {
	return &ChangeExpHandler{deps: deps}
}

// Handle executes the change EXP command.
func (h *ChangeExpHandler) Handle(ctx context.Context, cmd ChangeExpCommand) (*ChangeExpResult, error) {
	var result *ChangeExpResult
	err := h.deps.Runner.Run(ctx, "ChangeExp", func(ctx context.Context) error {
		rec, err := h.deps.Store.Load(ctx, cmd.Target)
		if err != nil {
			return err
		}

		outcome, err := rec.ApplyExp(cmd.Amount, h.deps.now())
		if err != nil {
			return err
		}

		msg := fmt.Sprintf("Change EXP of User %s by %d", cmd.Target, cmd.Amount)
		if err := h.deps.saveAndCommit(ctx, rec, msg, false); err != nil {
			return err
		}

		result = &ChangeExpResult{Record: rec, Outcome: outcome}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
