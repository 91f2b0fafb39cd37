package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/shared"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACT COINS COMMAND
// Moves coins from one user to another as a single checkpoint.
// ══════════════════════════════════════════════════════════════════════════════

// TransactCoinsCommand contains the data of a transfer.
type TransactCoinsCommand struct {
	Sender   user.ID
	Receiver user.ID
	Amount   int64
}

// Validate checks the command before anything is loaded.
func (c TransactCoinsCommand) Validate() error {
	if c.Amount <= 0 {
		return shared.ErrNonPositiveAmount
	}
	if c.Sender == c.Receiver {
		return shared.ErrSelfTransfer
	}
	return nil
}

// TransactCoinsResult contains both balances after the transfer.
type TransactCoinsResult struct {
	Sender   *user.Record
	Receiver *user.Record
}

// TransactCoinsHandler handles the TransactCoinsCommand.
type TransactCoinsHandler struct {
	deps Deps
}

// NewTransactCoinsHandler creates a new TransactCoinsHandler.
func NewTransactCoinsHandler(deps Deps) *TransactCoinsHandler {
	return &TransactCoinsHandler{deps: deps}
}

// Handle executes the transfer.
func (h *TransactCoinsHandler) Handle(ctx context.Context, cmd TransactCoinsCommand) (*TransactCoinsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var result *TransactCoinsResult
	err := h.deps.Runner.Run(ctx, "TransactCoins", func(ctx context.Context) error {
		sender, receiver, err := h.deps.loadBoth(ctx, cmd.Sender, cmd.Receiver)
		if err != nil {
			return err
		}
		before := sender.Clone()

		if err := sender.AddCoins(-cmd.Amount); err != nil {
			return err
		}
		if err := receiver.AddCoins(cmd.Amount); err != nil {
			return err
		}

		if err := h.deps.Store.Save(ctx, sender); err != nil {
			return err
		}
		if err := h.deps.Store.Save(ctx, receiver); err != nil {
			// Put the sender back so a half transfer is never committed.
			if rbErr := h.deps.Store.Save(ctx, before); rbErr != nil {
				h.deps.logger().Error("failed to roll back sender after failed transfer",
					slog.String("user_id", cmd.Sender.String()),
					slog.String("error", rbErr.Error()),
				)
			}
			return err
		}

		msg := fmt.Sprintf("Transact %d coins from User %s to User %s", cmd.Amount, cmd.Sender, cmd.Receiver)
		if err := h.deps.Store.Commit(ctx, msg, false); err != nil {
			return err
		}

		result = &TransactCoinsResult{Sender: sender, Receiver: receiver}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
