package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/JunyuanChen/SonnyBot-ng/internal/application/command"
	"github.com/JunyuanChen/SonnyBot-ng/internal/application/query"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/shared"
	"github.com/JunyuanChen/SonnyBot-ng/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// DMOJ ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// ConnectDMOJHandler handles the /connectdmojaccount command.
type ConnectDMOJHandler struct {
	cmd     *command.ConnectDMOJHandler
	account *query.DMOJAccountHandler
}

// NewConnectDMOJHandler creates a new ConnectDMOJHandler. account is used to
// name the already connected account.
func NewConnectDMOJHandler(cmd *command.ConnectDMOJHandler, account *query.DMOJAccountHandler) *ConnectDMOJHandler {
	return &ConnectDMOJHandler{cmd: cmd, account: account}
}

// Handle links the sender to a judge account and grants its rewards.
func (h *ConnectDMOJHandler) Handle(ctx context.Context, req *Request) (Reply, error) {
	if len(req.Args) != 1 {
		return nil, usage("/connectdmojaccount <username>")
	}
	sender, username := req.Sender, req.Args[0]
	m := sender.Mention()

	res, err := h.cmd.Handle(ctx, command.ConnectDMOJCommand{User: sender.ID, Username: username})
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrAlreadyConnected):
		name, qerr := h.account.Handle(ctx, sender.ID)
		if qerr != nil {
			return nil, presenter.Fail(m, err)
		}
		return Reply{fmt.Sprintf("%s, you have already connected to a DMOJ Account (%s)!", m, presenter.Escape(name))}, nil
	case errors.Is(err, shared.ErrEmptyProfile):
		return Reply{fmt.Sprintf("%s, cannot connect DMOJ Account %s! Please ensure the account exists "+
			"and have finished at least 1 CCC problem.", m, presenter.Escape(username))}, nil
	default:
		return nil, presenter.Fail(m, err)
	}

	return progressReply(m, res).Add(
		fmt.Sprintf("%s, you have successfully connected to DMOJ Account %s!", m, presenter.Escape(username)),
	), nil
}

// FetchCCCProgressHandler handles the /fetchcccprogress command.
type FetchCCCProgressHandler struct {
	cmd *command.FetchCCCProgressHandler
}

// NewFetchCCCProgressHandler creates a new FetchCCCProgressHandler.
func NewFetchCCCProgressHandler(cmd *command.FetchCCCProgressHandler) *FetchCCCProgressHandler {
	return &FetchCCCProgressHandler{cmd: cmd}
}

// Handle pulls fresh progress for the target, or the sender.
func (h *FetchCCCProgressHandler) Handle(ctx context.Context, req *Request) (Reply, error) {
	target, _ := req.TargetOrSender()
	m := target.Mention()

	res, err := h.cmd.Handle(ctx, command.FetchCCCProgressCommand{User: target.ID})
	if err != nil {
		return nil, presenter.Fail(m, err)
	}
	return progressReply(m, res).Add(fmt.Sprintf("%s, your CCC progress is updated!", m)), nil
}

func progressReply(m string, res *command.AchievementResult) Reply {
	r := Reply{}.Add(presenter.LevelChange(m, res.Outcome))
	if res.CoinsGained > 0 {
		r = r.Add(fmt.Sprintf("%s earned %d coins!", m, res.CoinsGained))
	}
	return r
}

// GetDMOJAccountHandler handles the /getdmojaccount command.
type GetDMOJAccountHandler struct {
	query *query.DMOJAccountHandler
}

// NewGetDMOJAccountHandler creates a new GetDMOJAccountHandler.
func NewGetDMOJAccountHandler(q *query.DMOJAccountHandler) *GetDMOJAccountHandler {
	return &GetDMOJAccountHandler{query: q}
}

// Handle names the judge account of the target, or the sender.
func (h *GetDMOJAccountHandler) Handle(ctx context.Context, req *Request) (Reply, error) {
	target, _ := req.TargetOrSender()
	name, err := h.query.Handle(ctx, target.ID)
	if err != nil {
		return nil, presenter.Fail(target.Mention(), err)
	}
	return Reply{fmt.Sprintf("%s, your DMOJ Account is: %s!", target.Mention(), presenter.Escape(name))}, nil
}

// CCCProgressListHandler handles the /cccprogresslist command.
type CCCProgressListHandler struct {
	query *query.CCCProgressListHandler
}

// NewCCCProgressListHandler creates a new CCCProgressListHandler.
func NewCCCProgressListHandler(q *query.CCCProgressListHandler) *CCCProgressListHandler {
	return &CCCProgressListHandler{query: q}
}

// Handle lists the recorded progress of the target, or the sender.
func (h *CCCProgressListHandler) Handle(ctx context.Context, req *Request) (Reply, error) {
	target, _ := req.TargetOrSender()
	entries, err := h.query.Handle(ctx, target.ID)
	if err != nil {
		return nil, presenter.Fail(target.Mention(), err)
	}
	return Reply(presenter.ProgressList(target.Mention(), entries)), nil
}
