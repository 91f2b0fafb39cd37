// Package presenter formats application results for Telegram display.
// Every reply is HTML; user supplied text is escaped before it is embedded.
package presenter

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/shared"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// MENTIONS
// ══════════════════════════════════════════════════════════════════════════════

// Mention links to a user. The ID is shown when the name is unknown.
func Mention(id user.ID, name string) string {
	if name == "" {
		name = id.String()
	}
	return fmt.Sprintf(`<a href="tg://user?id=%s">%s</a>`, id, html.EscapeString(name))
}

// Escape makes s safe to embed in a reply.
func Escape(s string) string {
	return html.EscapeString(s)
}

// ══════════════════════════════════════════════════════════════════════════════
// FAILURES
// Errors are logged in full by the bot; users only ever see the short replies
// built here.
// ══════════════════════════════════════════════════════════════════════════════

// Failure binds an error to the mention of the user it concerns.
type Failure struct {
	Subject string
	Err     error
}

// Fail wraps err so that ErrorReply can name subject.
func Fail(subject string, err error) error {
	if err == nil {
		return nil
	}
	return &Failure{Subject: subject, Err: err}
}

func (f *Failure) Error() string { return f.Err.Error() }

func (f *Failure) Unwrap() error { return f.Err }

const (
	networkReply = "Network errors encountered - see logs for details"
	storageReply = "Failed to save - see logs for details"
	genericReply = "Something went wrong - see logs for details"
)

// ErrorReply turns an error into the reply shown to users.
func ErrorReply(err error) string {
	subject := ""
	var f *Failure
	if errors.As(err, &f) {
		subject = f.Subject
	}

	switch {
	case shared.IsNotFound(err):
		if subject == "" {
			return "User not found!"
		}
		return fmt.Sprintf("User %s not found!", subject)
	case shared.IsTimeout(err):
		if msg := shared.RejectionMessage(err); msg != "" {
			return msg
		}
		return "The bot is busy - please try again later"
	case shared.IsNetwork(err):
		return networkReply
	case shared.IsStorage(err):
		return storageReply
	case shared.IsRejected(err):
		if subject == "" {
			subject = "User"
		}
		return rejectionReply(subject, err)
	default:
		return genericReply
	}
}

func rejectionReply(subject string, err error) string {
	switch {
	case errors.Is(err, shared.ErrNotEnoughExp):
		return fmt.Sprintf("%s does not have enough EXP!", subject)
	case errors.Is(err, shared.ErrNotEnoughCoins):
		return fmt.Sprintf("%s does not have enough coins!", subject)
	case errors.Is(err, shared.ErrNegativeMsgCount):
		return fmt.Sprintf("%s's message count can't be negative!", subject)
	case errors.Is(err, shared.ErrNonPositiveAmount):
		return fmt.Sprintf("%s, amount must be positive!", subject)
	case errors.Is(err, shared.ErrSelfTransfer):
		return fmt.Sprintf("%s, you cannot transact coins to yourself!", subject)
	case errors.Is(err, shared.ErrNotConnected):
		return fmt.Sprintf("%s, you have not connected a DMOJ Account yet!", subject)
	}

	msg := shared.RejectionMessage(err)
	if msg == "" {
		return genericReply
	}
	return fmt.Sprintf("%s, %s!", subject, strings.TrimSuffix(msg, "."))
}

// ══════════════════════════════════════════════════════════════════════════════
// ANNOUNCEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// LevelChange announces a level change, or returns "" when the level stayed.
func LevelChange(subject string, out user.ExpOutcome) string {
	switch {
	case out.Up():
		return fmt.Sprintf("%s upgraded to Lvl. %d and was rewarded %d coins!", subject, out.NewLevel, out.CoinDelta)
	case out.Down():
		return fmt.Sprintf("%s downgraded to Lvl. %d and lost %d coins!", subject, out.NewLevel, -out.CoinDelta)
	default:
		return ""
	}
}

// Joined greets a new member.
func Joined(subject string) string {
	return fmt.Sprintf("User %s has joined the server!", subject)
}
