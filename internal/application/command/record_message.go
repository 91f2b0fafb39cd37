package command

import (
	"context"
	"fmt"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/progression"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHAT EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// RecordMessageCommand rewards one chat message.
type RecordMessageCommand struct {
	User    user.ID
	Content string
}

// RecordMessageResult describes the reward of a message.
type RecordMessageResult struct {
	Record  *user.Record
	Outcome user.ExpOutcome
}

// RecordMessageHandler handles the RecordMessageCommand.
type RecordMessageHandler struct {
	deps Deps
	src  progression.Source
}

// NewRecordMessageHandler creates a new RecordMessageHandler.
func NewRecordMessageHandler(deps Deps, src progression.Source) *RecordMessageHandler {
	if src == nil {
		src = progression.DefaultSource
	}
	return &RecordMessageHandler{deps: deps, src: src}
}

// Handle grants the message reward. Only a level-up is committed; other
// messages stay saved locally until the next checkpoint. When that commit
// fails the result is still returned alongside the error.
func (h *RecordMessageHandler) Handle(ctx context.Context, cmd RecordMessageCommand) (*RecordMessageResult, error) {
	var result *RecordMessageResult
	err := h.deps.Runner.Run(ctx, "RecordMessage", func(ctx context.Context) error {
		rec, err := h.deps.Store.LoadOrCreate(ctx, cmd.User)
		if err != nil {
			return err
		}

		now := h.deps.now()
		reward := rec.BoostExp(progression.ChatMessageReward(cmd.Content, h.src), now)
		if err := rec.AddMessages(1); err != nil {
			return err
		}
		outcome, err := rec.ApplyExp(reward, now)
		if err != nil {
			return err
		}
		if err := h.deps.Store.Save(ctx, rec); err != nil {
			return err
		}

		result = &RecordMessageResult{Record: rec, Outcome: outcome}
		if outcome.Up() {
			msg := fmt.Sprintf("Upgrade User %s to Lvl. %d", cmd.User, outcome.NewLevel)
			return h.deps.Store.Commit(ctx, msg, false)
		}
		return nil
	})
	return result, err
}

// MemberJoinedHandler creates the record of a new member.
type MemberJoinedHandler struct {
	deps Deps
}

// NewMemberJoinedHandler creates a new MemberJoinedHandler.
func NewMemberJoinedHandler(deps Deps) *MemberJoinedHandler {
	return &MemberJoinedHandler{deps: deps}
}

// Handle ensures the member has a record.
func (h *MemberJoinedHandler) Handle(ctx context.Context, id user.ID) (*user.Record, error) {
	var rec *user.Record
	err := h.deps.Runner.Run(ctx, "MemberJoined", func(ctx context.Context) error {
		var err error
		rec, err = h.deps.Store.LoadOrCreate(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}
