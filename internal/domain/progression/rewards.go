package progression

import (
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANDOMNESS
// ══════════════════════════════════════════════════════════════════════════════

// Source is the randomness used by rewards that are drawn at random.
// *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	Float64() float64
	Int64N(n int64) int64
}

type globalSource struct{}

func (globalSource) Float64() float64     { return rand.Float64() }
func (globalSource) Int64N(n int64) int64 { return rand.Int64N(n) }

// DefaultSource draws from the math/rand/v2 global generator.
var DefaultSource Source = globalSource{}

// ══════════════════════════════════════════════════════════════════════════════
// COINS
// ══════════════════════════════════════════════════════════════════════════════

// LevelUpReward returns the coins granted for moving between two levels:
// the sum of 5 + L/15 for every L crossed. The arguments may be given in
// either order; the caller decides whether the amount is granted or taken.
func LevelUpReward(oldLevel, newLevel int) int64 {
	if oldLevel > newLevel {
		oldLevel, newLevel = newLevel, oldLevel
	}
	var coins int64
	for l := oldLevel; l < newLevel; l++ {
		coins += 5 + int64(l/15)
	}
	return coins
}

// LevelChangeCoins returns the signed coin adjustment that accompanies a level
// change. Gains are boosted by an active coin booster. Losses are capped by
// the coins the user holds so the balance never goes negative.
func LevelChangeCoins(change LevelChange, coins int64, coinBooster *time.Time, now time.Time) int64 {
	switch {
	case change.Up():
		return ApplyBooster(LevelUpReward(change.OldLevel, change.NewLevel), coinBooster, now)
	case change.Down():
		return -min(LevelUpReward(change.NewLevel, change.OldLevel), coins)
	default:
		return 0
	}
}

// GambleReward draws the payout of one gamble: round(100 * (2^r - 1)) for r
// uniform in [0, 1). The payout lies in [0, 100).
func GambleReward(src Source) int64 {
	r := src.Float64()
	return int64(math.Round(100 * (math.Exp2(r) - 1)))
}

// ══════════════════════════════════════════════════════════════════════════════
// EXP
// ══════════════════════════════════════════════════════════════════════════════

// ChatMessageReward draws the EXP earned by a chat message. With w the number
// of whitespace separated words the reward is uniform over [w/2, w + w/2].
func ChatMessageReward(content string, src Source) int64 {
	w := int64(len(strings.Fields(content)))
	lo, hi := w/2, w+w/2
	if hi <= lo {
		return lo
	}
	return lo + src.Int64N(hi-lo+1)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// AchievementReward returns the share of totalReward earned at percentage.
//
// The first half of completion pays 20% of the reward and the second half pays
// the remaining 80%, since the early test cases of a problem are the easy ones.
func AchievementReward(totalReward int64, percentage int) int64 {
	p := float64(percentage) / 100
	var weighted float64
	if p <= 0.5 {
		weighted = 0.4 * p
	} else {
		weighted = 1.6*p - 0.6
	}
	return int64(math.RoundToEven(float64(totalReward) * weighted))
}

// IncrementalAchievementReward returns the reward still owed when progress on
// a problem moves from oldPct to newPct. Progress only ratchets upward, so a
// newPct below oldPct owes nothing.
func IncrementalAchievementReward(totalReward int64, oldPct, newPct int) int64 {
	if newPct <= oldPct {
		return 0
	}
	return AchievementReward(totalReward, newPct) - AchievementReward(totalReward, oldPct)
}

// ══════════════════════════════════════════════════════════════════════════════
// BOOSTERS
// ══════════════════════════════════════════════════════════════════════════════

// BoosterMultiplier is the factor applied while a booster is active.
const BoosterMultiplier = 2

// BoosterActive reports whether a booster with the given expiry is in effect.
func BoosterActive(expiry *time.Time, now time.Time) bool {
	return expiry != nil && expiry.After(now)
}

// ApplyBooster doubles value while the booster expiry lies in the future.
func ApplyBooster(value int64, expiry *time.Time, now time.Time) int64 {
	if !BoosterActive(expiry, now) {
		return value
	}
	if value > math.MaxInt64/BoosterMultiplier {
		return math.MaxInt64
	}
	return value * BoosterMultiplier
}

// ExtendBooster returns the new expiry after granting d more booster time.
// Time is added on top of a booster that is still running.
func ExtendBooster(expiry *time.Time, now time.Time, d time.Duration) time.Time {
	start := now
	if BoosterActive(expiry, now) {
		start = *expiry
	}
	return start.Add(d)
}
