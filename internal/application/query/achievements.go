package query

import (
	"context"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/achievement"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/shared"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
)

// CCCProgressListHandler lists the recorded achievement progress of a user.
type CCCProgressListHandler struct {
	deps   Deps
	engine *achievement.Engine
}

// NewCCCProgressListHandler creates a new CCCProgressListHandler.
func NewCCCProgressListHandler(deps Deps, engine *achievement.Engine) *CCCProgressListHandler {
	return &CCCProgressListHandler{deps: deps, engine: engine}
}

// Handle returns the progress on catalog problems in catalog order.
func (h *CCCProgressListHandler) Handle(ctx context.Context, id user.ID) ([]achievement.ProgressEntry, error) {
	var entries []achievement.ProgressEntry
	err := h.deps.Runner.Run(ctx, "CCCProgressList", func(ctx context.Context) error {
		rec, err := h.deps.Store.Load(ctx, id)
		if err != nil {
			return err
		}
		entries = h.engine.ProgressList(rec.CCCProgress)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// DMOJAccountHandler returns the judge account linked to a user.
type DMOJAccountHandler struct {
	deps Deps
}

// NewDMOJAccountHandler creates a new DMOJAccountHandler.
func NewDMOJAccountHandler(deps Deps) *DMOJAccountHandler {
	return &DMOJAccountHandler{deps: deps}
}

// Handle returns the username, or shared.ErrNotConnected.
func (h *DMOJAccountHandler) Handle(ctx context.Context, id user.ID) (string, error) {
	var username string
	err := h.deps.Runner.Run(ctx, "GetDMOJAccount", func(ctx context.Context) error {
		rec, err := h.deps.Store.Load(ctx, id)
		if err != nil {
			return err
		}
		if !rec.Connected() {
			return shared.ErrNotConnected
		}
		username = rec.Username()
		return nil
	})
	return username, err
}
