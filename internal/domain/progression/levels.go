package progression

import (
	"math"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL REQUIREMENTS
// ══════════════════════════════════════════════════════════════════════════════

// RejectedLevel is the level the state machine ends at when a negative delta
// exhausts every lower level. It is never a valid persisted level.
const RejectedLevel = -1

// MaxTotalExp bounds the total EXP of a user.
const MaxTotalExp int64 = 1_000_000_000_000_000

// Requirement returns the EXP needed to advance from level to level+1.
func Requirement(level int) int64 {
	return 1000 * (int64(level) + 1)
}

// CumulativeRequirement returns the sum of Requirement(L) for L in [0, level).
// This is the EXP a user "spent" to reach level.
func CumulativeRequirement(level int) int64 {
	l := int64(level)
	return 500 * l * (l + 1)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

// State is a (level, EXP) pair.
type State struct {
	Level int
	Exp   int64
}

// TotalExp returns EXP plus the cumulative requirement of all lower levels.
func (s State) TotalExp() int64 {
	return TotalExp(s.Level, s.Exp)
}

// TotalExp computes the ranking key of a (level, EXP) pair.
func TotalExp(level int, exp int64) int64 {
	return exp + CumulativeRequirement(level)
}

// FromTotal decomposes a total EXP value back into a normalized state.
func FromTotal(total int64) State {
	s := State{}
	if total < 0 {
		return s
	}
	for total >= Requirement(s.Level) {
		total -= Requirement(s.Level)
		s.Level++
	}
	s.Exp = total
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// STATE MACHINE
// ══════════════════════════════════════════════════════════════════════════════

// LevelChange reports how a delta moved a user across level boundaries.
type LevelChange struct {
	OldLevel int
	NewLevel int
}

// Up reports whether at least one level was gained.
func (c LevelChange) Up() bool { return c.NewLevel > c.OldLevel }

// Down reports whether at least one level was lost.
func (c LevelChange) Down() bool { return c.NewLevel < c.OldLevel }

// Changed reports whether the level moved at all.
func (c LevelChange) Changed() bool { return c.NewLevel != c.OldLevel }

// ApplyExpDelta adds delta to (level, exp) and normalizes the result across as
// many level boundaries as needed.
//
// Going up, every time the EXP reaches the requirement of the current level it
// is consumed and the level increments. Going down, the level decrements first
// and the requirement of the new, lower level is added back. If the EXP is
// still negative once the level drops below zero the delta is rejected with
// shared.ErrNotEnoughExp and the returned state must not be persisted. A
// delta that would push the total past MaxTotalExp is rejected with
// shared.ErrExpOutOfRange.
func ApplyExpDelta(level int, exp, delta int64) (State, error) {
	if delta > 0 && TotalExp(level, exp) > MaxTotalExp-delta {
		return State{Level: level, Exp: exp}, shared.ErrExpOutOfRange
	}
	if delta < 0 && exp < math.MinInt64-delta {
		return State{Level: RejectedLevel, Exp: exp}, shared.ErrNotEnoughExp
	}
	exp += delta

	if exp >= 0 {
		for exp >= Requirement(level) {
			exp -= Requirement(level)
			level++
		}
		return State{Level: level, Exp: exp}, nil
	}

	for exp < 0 && level > RejectedLevel {
		level--
		exp += Requirement(level)
	}
	if level == RejectedLevel {
		return State{Level: RejectedLevel, Exp: exp}, shared.ErrNotEnoughExp
	}
	return State{Level: level, Exp: exp}, nil
}

// Apply is ApplyExpDelta on a State.
func (s State) Apply(delta int64) (State, error) {
	return ApplyExpDelta(s.Level, s.Exp, delta)
}
