package handler

import (
	"context"
	"strings"

	"github.com/JunyuanChen/SonnyBot-ng/internal/interface/telegram/presenter"
)

// HelpEntry documents one command.
type HelpEntry struct {
	Command     string
	Args        string
	Description string
	Admin       bool
}

// Commands lists every command the bot understands, in help order.
var Commands = []HelpEntry{
	{"stat", "[user]", "show your stats, or another user's", false},
	{"leaderboard", "[size]", "show the top users by EXP", false},
	{"transactcoins", "<user> <amount>", "give some of your coins to another user", false},
	{"gamble", "", "spend coins for a random payout", false},
	{"connectdmojaccount", "<username>", "link your DMOJ account and claim its CCC rewards", false},
	{"getdmojaccount", "[user]", "show the linked DMOJ account", false},
	{"fetchcccprogress", "[user]", "claim rewards for new CCC progress", false},
	{"cccprogresslist", "[user]", "list completed CCC problems", false},
	{"help", "", "show this message", false},
	{"changeexp", "<user> <amount>", "change a user's EXP", true},
	{"changecoins", "<user> <amount>", "change a user's coins", true},
	{"changemessagecount", "<user> <amount>", "change a user's message count", true},
	{"resetuserstat", "<user>", "reset a user's stats, keeping CCC progress", true},
	{"removeuser", "<user>", "delete a user's record", true},
	{"giveboost", "<user> <exp|coin> <duration>", "give a user a 2x booster", true},
	{"syncdata", "", "flush pending changes and reload from the remote", true},
}

// HelpHandler handles the /help command.
type HelpHandler struct {
	isAdmin func(Subject) bool
}

// NewHelpHandler creates a new HelpHandler. Admin commands are only listed
// for senders isAdmin accepts; a nil isAdmin hides them.
func NewHelpHandler(isAdmin func(Subject) bool) *HelpHandler {
	return &HelpHandler{isAdmin: isAdmin}
}

// Handle lists the commands. <user> is a user id, or reply to one of their
// messages instead.
func (h *HelpHandler) Handle(_ context.Context, req *Request) (Reply, error) {
	admin := h.isAdmin != nil && h.isAdmin(req.Sender)

	var sb strings.Builder
	sb.WriteString("<b>Commands</b>\n")
	for _, c := range Commands {
		if c.Admin && !admin {
			continue
		}
		sb.WriteString("/" + c.Command)
		if c.Args != "" {
			sb.WriteString(" " + presenter.Escape(c.Args))
		}
		sb.WriteString(" - " + c.Description)
		if c.Admin {
			sb.WriteString(" (admin)")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n<i>&lt;user&gt; is a user id, or reply to one of their messages instead.</i>")
	return Reply{sb.String()}, nil
}
