// Package handler contains Telegram command handlers.
//
// A handler parses the arguments of one command, runs the matching
// application command or query and turns the result into replies. Failures
// are returned wrapped with presenter.Fail so the router can reply with the
// user that the failure concerns.
package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/external/telegram"
	"github.com/JunyuanChen/SonnyBot-ng/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST & REPLY
// ══════════════════════════════════════════════════════════════════════════════

// Subject is a user a command is about.
type Subject struct {
	ID   user.ID
	Name string
}

// Mention links to the subject.
func (s Subject) Mention() string {
	return presenter.Mention(s.ID, s.Name)
}

// Title is the subject's name, or its ID when the name is unknown.
func (s Subject) Title() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID.String()
}

// Request is one parsed command.
type Request struct {
	Command string
	Args    []string
	Sender  Subject

	// ReplyTo is the author of the message the command replied to, if any.
	ReplyTo *Subject

	// Now is when the command was received.
	Now time.Time
}

// NewRequest parses msg. It returns nil for messages without a command.
func NewRequest(msg *telegram.Message, now time.Time) *Request {
	cmd := telegram.ExtractCommand(msg)
	if cmd == "" || msg.From == nil {
		return nil
	}

	req := &Request{
		Command: cmd,
		Args:    telegram.ExtractCommandArgs(msg),
		Sender:  SubjectOf(msg.From),
		Now:     now,
	}
	if r := msg.ReplyToMessage; r != nil && r.From != nil && !r.From.IsBot {
		s := SubjectOf(r.From)
		req.ReplyTo = &s
	}
	return req
}

// SubjectOf converts a Telegram user.
func SubjectOf(u *telegram.User) Subject {
	return Subject{ID: user.ID(u.ID), Name: u.FullName()}
}

// Target resolves who the command is about and returns the remaining
// arguments. The replied-to user wins; otherwise a numeric first argument is
// taken as a user ID. ok is false when neither is present.
func (r *Request) Target() (target Subject, rest []string, ok bool) {
	if r.ReplyTo != nil {
		return *r.ReplyTo, r.Args, true
	}
	if len(r.Args) > 0 {
		if id, err := user.ParseID(r.Args[0]); err == nil {
			return Subject{ID: id}, r.Args[1:], true
		}
	}
	return Subject{}, r.Args, false
}

// TargetOrSender is Target falling back to the sender.
func (r *Request) TargetOrSender() (Subject, []string) {
	if t, rest, ok := r.Target(); ok {
		return t, rest
	}
	return r.Sender, r.Args
}

// Reply is the list of messages a command answers with, in order.
type Reply []string

// Add appends the non-empty messages.
func (r Reply) Add(msgs ...string) Reply {
	for _, m := range msgs {
		if m != "" {
			r = append(r, m)
		}
	}
	return r
}

// Command handles one chat command.
type Command interface {
	Handle(ctx context.Context, req *Request) (Reply, error)
}

// CommandFunc adapts a function to Command.
type CommandFunc func(ctx context.Context, req *Request) (Reply, error)

// Handle calls f.
func (f CommandFunc) Handle(ctx context.Context, req *Request) (Reply, error) {
	return f(ctx, req)
}

// ══════════════════════════════════════════════════════════════════════════════
// ARGUMENT PARSING
// ══════════════════════════════════════════════════════════════════════════════

// UsageError reports malformed arguments.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string { return "usage: " + e.Usage }

func usage(u string) error {
	return &UsageError{Usage: u}
}

func parseAmount(args []string, u string) (int64, error) {
	if len(args) != 1 {
		return 0, usage(u)
	}
	n, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, usage(u)
	}
	return n, nil
}
