package handler

import (
	"context"
	"fmt"

	"github.com/JunyuanChen/SonnyBot-ng/internal/application/command"
	"github.com/JunyuanChen/SonnyBot-ng/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD MAINTENANCE
// ══════════════════════════════════════════════════════════════════════════════

// ResetUserStatHandler handles the /resetuserstat command.
type ResetUserStatHandler struct {
	cmd *command.ResetUserStatHandler
}

// NewResetUserStatHandler creates a new ResetUserStatHandler.
func NewResetUserStatHandler(cmd *command.ResetUserStatHandler) *ResetUserStatHandler {
	return &ResetUserStatHandler{cmd: cmd}
}

// Handle resets the target's progression; judge progress is kept.
func (h *ResetUserStatHandler) Handle(ctx context.Context, req *Request) (Reply, error) {
	target, _, ok := req.Target()
	if !ok {
		return nil, usage("/resetuserstat <user id>, or reply with /resetuserstat")
	}
	if _, err := h.cmd.Handle(ctx, command.ResetUserStatCommand{Target: target.ID}); err != nil {
		return nil, presenter.Fail(target.Mention(), err)
	}
	return Reply{fmt.Sprintf("%s's stats are reset! (CCC progress not included)", target.Mention())}, nil
}

// RemoveUserHandler handles the /removeuser command.
type RemoveUserHandler struct {
	cmd *command.RemoveUserHandler
}

// NewRemoveUserHandler creates a new RemoveUserHandler.
func NewRemoveUserHandler(cmd *command.RemoveUserHandler) *RemoveUserHandler {
	return &RemoveUserHandler{cmd: cmd}
}

// Handle deletes the target's record.
func (h *RemoveUserHandler) Handle(ctx context.Context, req *Request) (Reply, error) {
	target, _, ok := req.Target()
	if !ok {
		return nil, usage("/removeuser <user id>, or reply with /removeuser")
	}
	if err := h.cmd.Handle(ctx, command.RemoveUserCommand{Target: target.ID}); err != nil {
		return nil, presenter.Fail(target.Mention(), err)
	}
	return Reply{fmt.Sprintf("User %s has been deleted!", target.Mention())}, nil
}

// SyncDataHandler handles the /syncdata command.
type SyncDataHandler struct {
	cmd *command.SyncDataHandler
}

// NewSyncDataHandler creates a new SyncDataHandler.
func NewSyncDataHandler(cmd *command.SyncDataHandler) *SyncDataHandler {
	return &SyncDataHandler{cmd: cmd}
}

// Handle flushes pending changes and reloads from the remote.
func (h *SyncDataHandler) Handle(ctx context.Context, req *Request) (Reply, error) {
	if err := h.cmd.Handle(ctx); err != nil {
		return nil, presenter.Fail(req.Sender.Mention(), err)
	}
	return Reply{"Successfully synced to remote!"}, nil
}
