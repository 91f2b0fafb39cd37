package presenter

import (
	"fmt"
	"strings"

	"github.com/JunyuanChen/SonnyBot-ng/internal/application/query"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/progression"
)

// Leaderboard renders the top users by total EXP.
func Leaderboard(entries []query.LeaderboardEntry) string {
	var sb strings.Builder
	sb.WriteString("🏆 <b>Leaderboard</b>\n\n")

	if len(entries) == 0 {
		sb.WriteString("📭 <i>Nobody has earned any EXP yet</i>")
		return sb.String()
	}

	for i, e := range entries {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s %s • Lvl. %d • <code>%s EXP</code>",
			formatRank(e.Rank), Mention(e.UserID, ""), e.Level, progression.Abbrev(e.TotalExp))
	}
	return sb.String()
}

// formatRank formats a position with its medal.
func formatRank(rank int) string {
	switch rank {
	case 1:
		return "🥇"
	case 2:
		return "🥈"
	case 3:
		return "🥉"
	default:
		return fmt.Sprintf("%d.", rank)
	}
}
