package handler

import (
	"context"

	"github.com/JunyuanChen/SonnyBot-ng/internal/application/command"
	"github.com/JunyuanChen/SonnyBot-ng/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHAT EVENTS
// Plain messages earn EXP; joining members get a record.
// ══════════════════════════════════════════════════════════════════════════════

// EventsHandler reacts to chat events that are not commands.
type EventsHandler struct {
	message *command.RecordMessageHandler
	joined  *command.MemberJoinedHandler
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(message *command.RecordMessageHandler, joined *command.MemberJoinedHandler) *EventsHandler {
	return &EventsHandler{message: message, joined: joined}
}

// OnMessage rewards a chat message. Only a level change is announced. The
// announcement is returned even when committing the level-up failed.
func (h *EventsHandler) OnMessage(ctx context.Context, author Subject, content string) (Reply, error) {
	res, err := h.message.Handle(ctx, command.RecordMessageCommand{User: author.ID, Content: content})

	var reply Reply
	if res != nil {
		reply = reply.Add(presenter.LevelChange(author.Mention(), res.Outcome))
	}
	return reply, presenter.Fail(author.Mention(), err)
}

// OnJoin creates the member's record and greets them.
func (h *EventsHandler) OnJoin(ctx context.Context, member Subject) (Reply, error) {
	if _, err := h.joined.Handle(ctx, member.ID); err != nil {
		return nil, presenter.Fail(member.Mention(), err)
	}
	return Reply{presenter.Joined(member.Mention())}, nil
}
