package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/JunyuanChen/SonnyBot-ng/internal/application/command"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/shared"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
	"github.com/JunyuanChen/SonnyBot-ng/internal/interface/telegram/presenter"
	"github.com/JunyuanChen/SonnyBot-ng/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN ADJUSTMENTS
// /changeexp, /changecoins and /changemessagecount take a target and a signed
// amount.
// ══════════════════════════════════════════════════════════════════════════════

// ChangeExpHandler handles the /changeexp command.
type ChangeExpHandler struct {
	cmd *command.ChangeExpHandler
}

// NewChangeExpHandler creates a new ChangeExpHandler.
func NewChangeExpHandler(cmd *command.ChangeExpHandler) *ChangeExpHandler {
	return &ChangeExpHandler{cmd: cmd}
}

// Handle processes the /changeexp command.
func (h *ChangeExpHandler) Handle(ctx context.Context, req *Request) (Reply, error) {
	const u = "/changeexp <user id> <amount>, or reply with /changeexp <amount>"
	target, rest, ok := req.Target()
	if !ok {
		return nil, usage(u)
	}
	amount, err := parseAmount(rest, u)
	if err != nil {
		return nil, err
	}

	res, err := h.cmd.Handle(ctx, command.ChangeExpCommand{Target: target.ID, Amount: amount})
	if err != nil {
		return nil, presenter.Fail(target.Mention(), err)
	}
	return Reply{}.Add(
		presenter.LevelChange(target.Mention(), res.Outcome),
		fmt.Sprintf("%s's EXP has been updated by %d!", target.Mention(), amount),
	), nil
}

// ChangeCoinsHandler handles the /changecoins command.
type ChangeCoinsHandler struct {
	cmd *command.ChangeCoinsHandler
}

// NewChangeCoinsHandler creates a new ChangeCoinsHandler.
func NewChangeCoinsHandler(cmd *command.ChangeCoinsHandler) *ChangeCoinsHandler {
	return &ChangeCoinsHandler{cmd: cmd}
}

// Handle processes the /changecoins command.
func (h *ChangeCoinsHandler) Handle(ctx context.Context, req *Request) (Reply, error) {
	const u = "/changecoins <user id> <amount>, or reply with /changecoins <amount>"
	target, rest, ok := req.Target()
	if !ok {
		return nil, usage(u)
	}
	amount, err := parseAmount(rest, u)
	if err != nil {
		return nil, err
	}

	if _, err := h.cmd.Handle(ctx, command.ChangeCoinsCommand{Target: target.ID, Amount: amount}); err != nil {
		return nil, presenter.Fail(target.Mention(), err)
	}
	return Reply{fmt.Sprintf("%s's coins has been updated by %d!", target.Mention(), amount)}, nil
}

// ChangeMessageCountHandler handles the /changemessagecount command.
type ChangeMessageCountHandler struct {
	cmd *command.ChangeMessageCountHandler
}

// NewChangeMessageCountHandler creates a new ChangeMessageCountHandler.
func NewChangeMessageCountHandler(cmd *command.ChangeMessageCountHandler) *ChangeMessageCountHandler {
	return &ChangeMessageCountHandler{cmd: cmd}
}

// Handle processes the /changemessagecount command.
func (h *ChangeMessageCountHandler) Handle(ctx context.Context, req *Request) (Reply, error) {
	const u = "/changemessagecount <user id> <amount>, or reply with /changemessagecount <amount>"
	target, rest, ok := req.Target()
	if !ok {
		return nil, usage(u)
	}
	amount, err := parseAmount(rest, u)
	if err != nil {
		return nil, err
	}

	if _, err := h.cmd.Handle(ctx, command.ChangeMessageCountCommand{Target: target.ID, Amount: amount}); err != nil {
		return nil, presenter.Fail(target.Mention(), err)
	}
	return Reply{fmt.Sprintf("%s's message count has been updated by %d!", target.Mention(), amount)}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MEMBER ECONOMY
// ══════════════════════════════════════════════════════════════════════════════

// TransactCoinsHandler handles the /transactcoins command.
type TransactCoinsHandler struct {
	cmd *command.TransactCoinsHandler
}

// NewTransactCoinsHandler creates a new TransactCoinsHandler.
func NewTransactCoinsHandler(cmd *command.TransactCoinsHandler) *TransactCoinsHandler {
	return &TransactCoinsHandler{cmd: cmd}
}

// Handle moves coins from the sender to the target.
func (h *TransactCoinsHandler) Handle(ctx context.Context, req *Request) (Reply, error) {
	const u = "/transactcoins <user id> <amount>, or reply with /transactcoins <amount>"
	receiver, rest, ok := req.Target()
	if !ok {
		return nil, usage(u)
	}
	amount, err := parseAmount(rest, u)
	if err != nil {
		return nil, err
	}

	sender := req.Sender
	_, err = h.cmd.Handle(ctx, command.TransactCoinsCommand{Sender: sender.ID, Receiver: receiver.ID, Amount: amount})
	switch {
	case err == nil:
		return Reply{fmt.Sprintf("%s successfully transacted %d coins to %s!", sender.Mention(), amount, receiver.Mention())}, nil
	case errors.Is(err, shared.ErrNotEnoughCoins):
		return Reply{fmt.Sprintf("%s, you don't have enough coins!", sender.Mention())}, nil
	case shared.IsNotFound(err):
		return nil, presenter.Fail(receiver.Mention(), err)
	default:
		return nil, presenter.Fail(sender.Mention(), err)
	}
}

// GambleHandler handles the /gamble command.
type GambleHandler struct {
	cmd *command.GambleHandler
}

// NewGambleHandler creates a new GambleHandler.
func NewGambleHandler(cmd *command.GambleHandler) *GambleHandler {
	return &GambleHandler{cmd: cmd}
}

// Handle spends the sender's coins on one gamble.
func (h *GambleHandler) Handle(ctx context.Context, req *Request) (Reply, error) {
	sender := req.Sender
	res, err := h.cmd.Handle(ctx, command.GambleCommand{User: sender.ID})
	if err != nil {
		return nil, presenter.Fail(sender.Mention(), err)
	}

	verdict := "won"
	if res.Net() < 0 {
		verdict = "lost"
	}
	return Reply{fmt.Sprintf("%s paid %d coins, got %d back and %s %d coins! Balance: %d coins.",
		sender.Mention(), res.Cost, res.Reward, verdict, abs(res.Net()), res.Record.Coins)}, nil
}

// GiveBoostHandler handles the /giveboost command.
type GiveBoostHandler struct {
	cmd *command.GiveBoosterHandler
}

// NewGiveBoostHandler creates a new GiveBoostHandler.
func NewGiveBoostHandler(cmd *command.GiveBoosterHandler) *GiveBoostHandler {
	return &GiveBoostHandler{cmd: cmd}
}

// Handle grants a booster. The duration accepts units such as 2h, 1d12h or
// 1w; a bare number means hours.
func (h *GiveBoostHandler) Handle(ctx context.Context, req *Request) (Reply, error) {
	const u = "/giveboost <user id> <exp|coin> <duration>, or reply with /giveboost <exp|coin> <duration>"
	target, rest, ok := req.Target()
	if !ok || len(rest) != 2 {
		return nil, usage(u)
	}
	kind, err := user.ParseBoosterKind(rest[0])
	if err != nil {
		return nil, presenter.Fail(req.Sender.Mention(), err)
	}
	d, err := timeutil.ParseDuration(rest[1])
	if err != nil {
		return nil, usage(u)
	}

	res, err := h.cmd.Handle(ctx, command.GiveBoosterCommand{Target: target.ID, Kind: kind, Duration: d})
	if err != nil {
		return nil, presenter.Fail(target.Mention(), err)
	}
	return Reply{fmt.Sprintf("%s received a %s booster for %s! It expires at %s (%s).",
		target.Mention(), kind, timeutil.FormatDuration(d),
		timeutil.FormatInstant(res.Expiry), timeutil.FormatRemaining(res.Expiry, req.Now))}, nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
