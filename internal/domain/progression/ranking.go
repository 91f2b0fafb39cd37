package progression

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Ranked is anything that can be placed on the leaderboard.
type Ranked interface {
	TotalExp() int64
}

// RankUsers returns a copy of users ordered by descending total EXP.
// Users with equal total EXP keep their relative input order.
func RankUsers[T Ranked](users []T) []T {
	ranked := make([]T, len(users))
	copy(ranked, users)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].TotalExp() > ranked[j].TotalExp()
	})
	return ranked
}

// RankOf returns the 1-based position of the first user matching pred in an
// already ranked slice, or 0 when no user matches.
func RankOf[T Ranked](ranked []T, pred func(T) bool) int {
	for i, u := range ranked {
		if pred(u) {
			return i + 1
		}
	}
	return 0
}

// Abbrev shortens large numbers for display: 12345 becomes "12.3k" and
// 87654321 becomes "87.65M". Values up to and including 1000 are printed as is.
func Abbrev(n int64) string {
	v := float64(n)
	switch {
	case v/1e9 > 1:
		return formatRounded(v/1e9, 3) + "G"
	case v/1e6 > 1:
		return formatRounded(v/1e6, 2) + "M"
	case v/1e3 > 1:
		return formatRounded(v/1e3, 1) + "k"
	default:
		return strconv.FormatInt(n, 10)
	}
}

func formatRounded(v float64, digits int) string {
	scale := math.Pow(10, float64(digits))
	s := strconv.FormatFloat(math.Round(v*scale)/scale, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
