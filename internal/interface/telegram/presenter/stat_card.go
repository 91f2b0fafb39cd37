package presenter

import (
	"fmt"
	"strings"
	"time"

	"github.com/JunyuanChen/SonnyBot-ng/internal/application/query"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/achievement"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/progression"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
	"github.com/JunyuanChen/SonnyBot-ng/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STAT CARD
// A text rendition of the stat image: level, rank, level progress, coins and
// message count.
// ══════════════════════════════════════════════════════════════════════════════

const progressBarLength = 10

// StatCard renders the stats of one user.
func StatCard(name string, res *query.StatResult, now time.Time) string {
	rec := res.Record
	var sb strings.Builder

	fmt.Fprintf(&sb, "📊 <b>%s</b>\n", Escape(name))
	fmt.Fprintf(&sb, "🎮 Level: <b>%d</b> • 🏆 Rank: <b>#%d</b>", rec.Level, res.Rank)
	if res.Users > 0 {
		fmt.Fprintf(&sb, " of %d", res.Users)
	}
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "⚡ EXP: <b>%s / %s</b>\n", progression.Abbrev(rec.Exp), progression.Abbrev(res.Requirement))
	sb.WriteString(progressBar(rec.Exp, res.Requirement))
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "🪙 Coins: <b>%d</b>\n", rec.Coins)
	fmt.Fprintf(&sb, "💬 Messages: <b>%s</b>", progression.Abbrev(rec.MsgCount))

	if rec.Connected() {
		fmt.Fprintf(&sb, "\n🧩 DMOJ: <code>%s</code>", Escape(rec.Username()))
	}
	if line := boosterLine("EXP", rec.BoosterExpiry(user.BoosterExp), now); line != "" {
		sb.WriteString("\n" + line)
	}
	if line := boosterLine("Coin", rec.BoosterExpiry(user.BoosterCoin), now); line != "" {
		sb.WriteString("\n" + line)
	}

	return sb.String()
}

// progressBar draws how far the user is into the current level.
func progressBar(exp, requirement int64) string {
	if requirement <= 0 {
		requirement = 1
	}
	filled := int(exp * progressBarLength / requirement)
	filled = min(max(filled, 0), progressBarLength)

	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", progressBarLength-filled) + "]" +
		fmt.Sprintf(" %d%%", exp*100/requirement)
}

func boosterLine(label string, expiry *time.Time, now time.Time) string {
	if !progression.BoosterActive(expiry, now) {
		return ""
	}
	return fmt.Sprintf("🚀 %s booster: %s", label, timeutil.FormatRemaining(*expiry, now))
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNT & PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// maxChunk keeps each progress message well under the Telegram limit.
const maxChunk = 1500

// ProgressList lists completed judge problems, split into messages of at most
// maxChunk bytes.
func ProgressList(subject string, entries []achievement.ProgressEntry) []string {
	if len(entries) == 0 {
		return []string{fmt.Sprintf("%s, you have not completed any CCC problem yet!", subject)}
	}

	var chunks []string
	var sb strings.Builder
	for _, e := range entries {
		line := fmt.Sprintf("User has completed %d%% of %s\n", e.Percentage, Escape(e.Name))
		if sb.Len()+len(line) > maxChunk {
			chunks = append(chunks, strings.TrimRight(sb.String(), "\n"))
			sb.Reset()
		}
		sb.WriteString(line)
	}
	if sb.Len() > 0 {
		chunks = append(chunks, strings.TrimRight(sb.String(), "\n"))
	}
	return chunks
}
