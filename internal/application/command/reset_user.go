package command

import (
	"context"
	"fmt"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
)

// ResetUserStatCommand clears a user's stats. Judge progress is kept.
type ResetUserStatCommand struct {
	Target user.ID
}

// ResetUserStatHandler handles the ResetUserStatCommand.
type ResetUserStatHandler struct {
	deps Deps
}

// NewResetUserStatHandler creates a new ResetUserStatHandler.
func NewResetUserStatHandler(deps Deps) *ResetUserStatHandler {
	return &ResetUserStatHandler{deps: deps}
}

// Handle executes the reset. The commit is best effort.
func (h *ResetUserStatHandler) Handle(ctx context.Context, cmd ResetUserStatCommand) (*user.Record, error) {
	var rec *user.Record
	err := h.deps.Runner.Run(ctx, "ResetUserStat", func(ctx context.Context) error {
		var err error
		rec, err = h.deps.Store.Load(ctx, cmd.Target)
		if err != nil {
			return err
		}
		rec.Reset()
		return h.deps.saveAndCommit(ctx, rec, fmt.Sprintf("Reset stat for User %s", cmd.Target), true)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// RemoveUserCommand deletes a user's record.
type RemoveUserCommand struct {
	Target user.ID
}

// RemoveUserHandler handles the RemoveUserCommand.
type RemoveUserHandler struct {
	deps Deps
}

// NewRemoveUserHandler creates a new RemoveUserHandler.
func NewRemoveUserHandler(deps Deps) *RemoveUserHandler {
	return &RemoveUserHandler{deps: deps}
}

// Handle destroys the record and commits the deletion.
func (h *RemoveUserHandler) Handle(ctx context.Context, cmd RemoveUserCommand) error {
	return h.deps.Runner.Run(ctx, "RemoveUser", func(ctx context.Context) error {
		return h.deps.Store.Destroy(ctx, cmd.Target)
	})
}

// SyncDataHandler flushes pending changes and reloads from the remote.
type SyncDataHandler struct {
	deps Deps
}

// NewSyncDataHandler creates a new SyncDataHandler.
func NewSyncDataHandler(deps Deps) *SyncDataHandler {
	return &SyncDataHandler{deps: deps}
}

// Handle runs a store sync.
func (h *SyncDataHandler) Handle(ctx context.Context) error {
	return h.deps.Runner.Run(ctx, "SyncData", func(ctx context.Context) error {
		return h.deps.Store.Sync(ctx)
	})
}
