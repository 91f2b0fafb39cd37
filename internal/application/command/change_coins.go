package command

import (
	"context"
	"fmt"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
)

// ChangeCoinsCommand adjusts a user's coin balance.
type ChangeCoinsCommand struct {
	Target user.ID
	Amount int64
}

// ChangeCoinsHandler handles the ChangeCoinsCommand.
type ChangeCoinsHandler struct {
	deps Deps
}

// NewChangeCoinsHandler creates a new ChangeCoinsHandler.
func NewChangeCoinsHandler(deps Deps) *ChangeCoinsHandler {
	return &ChangeCoinsHandler{deps: deps}
}

// Handle executes the command. The balance may not go negative.
func (h *ChangeCoinsHandler) Handle(ctx context.Context, cmd ChangeCoinsCommand) (*user.Record, error) {
	var rec *user.Record
	err := h.deps.Runner.Run(ctx, "ChangeCoins", func(ctx context.Context) error {
		var err error
		rec, err = h.deps.Store.Load(ctx, cmd.Target)
		if err != nil {
			return err
		}
		if err := rec.AddCoins(cmd.Amount); err != nil {
			return err
		}
		msg := fmt.Sprintf("Change coins of User %s by %d", cmd.Target, cmd.Amount)
		return h.deps.saveAndCommit(ctx, rec, msg, false)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ChangeMessageCountCommand adjusts a user's message count.
type ChangeMessageCountCommand struct {
	Target user.ID
	Amount int64
}

// ChangeMessageCountHandler handles the ChangeMessageCountCommand.
type ChangeMessageCountHandler struct {
	deps Deps
}

// NewChangeMessageCountHandler creates a new ChangeMessageCountHandler.
func NewChangeMessageCountHandler(deps Deps) *ChangeMessageCountHandler {
	return &ChangeMessageCountHandler{deps: deps}
}

// Handle executes the command. The count may not go negative.
func (h *ChangeMessageCountHandler) Handle(ctx context.Context, cmd ChangeMessageCountCommand) (*user.Record, error) {
	var rec *user.Record
	err := h.deps.Runner.Run(ctx, "ChangeMessageCount", func(ctx context.Context) error {
		var err error
		rec, err = h.deps.Store.Load(ctx, cmd.Target)
		if err != nil {
			return err
		}
		if err := rec.AddMessages(cmd.Amount); err != nil {
			return err
		}
		msg := fmt.Sprintf("Change message count of User %s by %d", cmd.Target, cmd.Amount)
		return h.deps.saveAndCommit(ctx, rec, msg, false)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}
