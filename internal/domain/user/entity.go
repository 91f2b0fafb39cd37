// Package user contains the user record of the bot: the per-member progression
// state and the mutations allowed on it.
// This is the core of the business logic and has no infrastructure dependencies.
package user

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/progression"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// ID is the chat platform identifier of a user.
type ID uint64

// ParseID parses the decimal form of an ID.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, shared.WrapError("user", "ParseID", shared.ErrInvalidInput, "invalid user id "+strconv.Quote(s), err)
	}
	return ID(v), nil
}

// String returns the decimal form of the ID, which is also the storage key.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// BoosterKind selects which reward a booster multiplies.
type BoosterKind string

const (
	BoosterExp  BoosterKind = "exp"
	BoosterCoin BoosterKind = "coin"
)

// ParseBoosterKind accepts "exp" or "coin" in any case.
func ParseBoosterKind(s string) (BoosterKind, error) {
	switch BoosterKind(strings.ToLower(strings.TrimSpace(s))) {
	case BoosterExp:
		return BoosterExp, nil
	case BoosterCoin, "coins":
		return BoosterCoin, nil
	default:
		return "", shared.ErrInvalidBoosterKind
	}
}

// DefaultLevel is the level of a freshly created record.
const DefaultLevel = 0

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record is the persisted state of one user. The JSON keys are the on-disk
// format of the per-user unit and must not change.
type Record struct {
	// ID is the storage key and is not part of the document.
	ID ID `json:"-"`

	// Exp is the EXP accumulated at the current level.
	Exp int64 `json:"exp"`

	// Level is never negative once persisted.
	Level int `json:"level"`

	Coins    int64 `json:"coins"`
	MsgCount int64 `json:"msgCount"`

	// DMOJUsername links the judge account; nil until connected.
	DMOJUsername *string `json:"dmojUsername"`

	// CCCProgress maps a problem path to the best percentage reached.
	CCCProgress map[string]int `json:"cccProgress"`

	CoinBoosterExpiry *time.Time `json:"coinBoosterExpiry,omitempty"`
	ExpBoosterExpiry  *time.Time `json:"expBoosterExpiry,omitempty"`
}

// New returns a record with default values.
func New(id ID) *Record {
	return &Record{
		ID:          id,
		Level:       DefaultLevel,
		CCCProgress: map[string]int{},
	}
}

// Clone returns a deep copy that shares no memory with r.
func (r *Record) Clone() *Record {
	c := *r
	c.CCCProgress = maps.Clone(r.CCCProgress)
	if c.CCCProgress == nil {
		c.CCCProgress = map[string]int{}
	}
	if r.DMOJUsername != nil {
		name := *r.DMOJUsername
		c.DMOJUsername = &name
	}
	c.CoinBoosterExpiry = cloneTime(r.CoinBoosterExpiry)
	c.ExpBoosterExpiry = cloneTime(r.ExpBoosterExpiry)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// State returns the (level, EXP) pair of the record.
func (r *Record) State() progression.State {
	return progression.State{Level: r.Level, Exp: r.Exp}
}

// TotalExp is the ranking key of the record.
func (r *Record) TotalExp() int64 {
	return progression.TotalExp(r.Level, r.Exp)
}

// Validate checks the invariants of a persistable record.
func (r *Record) Validate() error {
	switch {
	case r.Level < 0:
		return shared.NewDomainError("user", "Validate", shared.ErrInvalidInput, fmt.Sprintf("level %d is negative", r.Level))
	case r.Exp < 0:
		return shared.NewDomainError("user", "Validate", shared.ErrInvalidInput, fmt.Sprintf("exp %d is negative", r.Exp))
	case r.Coins < 0:
		return shared.NewDomainError("user", "Validate", shared.ErrInvalidInput, fmt.Sprintf("coins %d is negative", r.Coins))
	case r.MsgCount < 0:
		return shared.NewDomainError("user", "Validate", shared.ErrInvalidInput, fmt.Sprintf("message count %d is negative", r.MsgCount))
	}
	for problem, pct := range r.CCCProgress {
		if pct < 0 || pct > 100 {
			return shared.NewDomainError("user", "Validate", shared.ErrInvalidInput,
				fmt.Sprintf("progress %d%% of %s out of range", pct, problem))
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MUTATIONS
// Every mutation either applies fully or leaves the record untouched.
// ══════════════════════════════════════════════════════════════════════════════

// ExpOutcome describes what ApplyExp did to a record.
type ExpOutcome struct {
	progression.LevelChange

	// ExpDelta is the EXP actually applied.
	ExpDelta int64

	// CoinDelta is the coin adjustment caused by the level change.
	CoinDelta int64
}

// ApplyExp adds delta EXP, moving across level boundaries as needed and
// settling the coins that go with each level change. A delta that would take
// the record below level 0 is rejected with shared.ErrNotEnoughExp.
func (r *Record) ApplyExp(delta int64, now time.Time) (ExpOutcome, error) {
	next, err := r.State().Apply(delta)
	if err != nil {
		return ExpOutcome{}, err
	}

	out := ExpOutcome{
		LevelChange: progression.LevelChange{OldLevel: r.Level, NewLevel: next.Level},
		ExpDelta:    delta,
	}
	out.CoinDelta = progression.LevelChangeCoins(out.LevelChange, r.Coins, r.CoinBoosterExpiry, now)
	if out.CoinDelta > 0 && r.Coins > MaxCoins-out.CoinDelta {
		return ExpOutcome{}, shared.ErrCoinsOutOfRange
	}

	r.Level, r.Exp = next.Level, next.Exp
	r.Coins += out.CoinDelta
	return out, nil
}

// MaxCoins and MaxMsgCount bound the counters of a record.
const (
	MaxCoins    int64 = 1_000_000_000_000_000
	MaxMsgCount int64 = 1_000_000_000_000_000
)

// AddCoins changes the coin balance. The balance may not go negative or
// above MaxCoins.
func (r *Record) AddCoins(delta int64) error {
	if delta > 0 && r.Coins > MaxCoins-delta {
		return shared.ErrCoinsOutOfRange
	}
	if r.Coins+delta < 0 {
		return shared.ErrNotEnoughCoins
	}
	r.Coins += delta
	return nil
}

// AddMessages changes the message count. The count may not go negative.
func (r *Record) AddMessages(delta int64) error {
	if delta > 0 && r.MsgCount > MaxMsgCount-delta {
		return shared.ErrMsgCountOutOfRange
	}
	if r.MsgCount+delta < 0 {
		return shared.ErrNegativeMsgCount
	}
	r.MsgCount += delta
	return nil
}

// Reset clears EXP, level, coins, message count and boosters. The linked
// judge account and its achievement progress are kept.
func (r *Record) Reset() {
	r.Exp = 0
	r.Level = 0
	r.Coins = 0
	r.MsgCount = 0
	r.CoinBoosterExpiry = nil
	r.ExpBoosterExpiry = nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Boosters
// ─────────────────────────────────────────────────────────────────────────────

// BoosterExpiry returns the expiry of the booster of the given kind.
func (r *Record) BoosterExpiry(kind BoosterKind) *time.Time {
	if kind == BoosterCoin {
		return r.CoinBoosterExpiry
	}
	return r.ExpBoosterExpiry
}

// GrantBooster extends the booster of the given kind by d and returns the new
// expiry.
func (r *Record) GrantBooster(kind BoosterKind, d time.Duration, now time.Time) (time.Time, error) {
	if d <= 0 {
		return time.Time{}, shared.ErrInvalidDuration
	}
	expiry := progression.ExtendBooster(r.BoosterExpiry(kind), now, d).UTC()
	switch kind {
	case BoosterCoin:
		r.CoinBoosterExpiry = &expiry
	case BoosterExp:
		r.ExpBoosterExpiry = &expiry
	default:
		return time.Time{}, shared.ErrInvalidBoosterKind
	}
	return expiry, nil
}

// BoostExp applies the EXP booster to a raw EXP reward.
func (r *Record) BoostExp(v int64, now time.Time) int64 {
	return progression.ApplyBooster(v, r.ExpBoosterExpiry, now)
}

// BoostCoins applies the coin booster to a raw coin reward.
func (r *Record) BoostCoins(v int64, now time.Time) int64 {
	return progression.ApplyBooster(v, r.CoinBoosterExpiry, now)
}

// ─────────────────────────────────────────────────────────────────────────────
// Judge account
// ─────────────────────────────────────────────────────────────────────────────

// Connected reports whether a judge account is linked.
func (r *Record) Connected() bool {
	return r.DMOJUsername != nil && *r.DMOJUsername != ""
}

// Username returns the linked judge account or an empty string.
func (r *Record) Username() string {
	if r.DMOJUsername == nil {
		return ""
	}
	return *r.DMOJUsername
}

// Connect links a judge account. A record can be linked only once.
func (r *Record) Connect(username string) error {
	if r.Connected() {
		return shared.ErrAlreadyConnected
	}
	if strings.TrimSpace(username) == "" {
		return shared.NewDomainError("user", "Connect", shared.ErrInvalidInput, "username is empty")
	}
	r.DMOJUsername = &username
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ENCODING
// ══════════════════════════════════════════════════════════════════════════════

// Marshal encodes the record as a pretty-printed document.
func (r *Record) Marshal() ([]byte, error) {
	c := r.Clone()
	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("marshal user %s: %w", r.ID, err)
	}
	return append(data, '\n'), nil
}

// Unmarshal decodes a persisted document into a record with the given ID.
func Unmarshal(id ID, data []byte) (*Record, error) {
	r := &Record{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("unmarshal user %s: %w", id, err)
	}
	r.ID = id
	if r.CCCProgress == nil {
		r.CCCProgress = map[string]int{}
	}
	return r, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STANDINGS
// ══════════════════════════════════════════════════════════════════════════════

// Standing is what the leaderboard needs to know about a user.
type Standing struct {
	ID    ID
	Total int64
}

// TotalExp implements progression.Ranked.
func (s Standing) TotalExp() int64 { return s.Total }

// Level returns the level the total EXP corresponds to.
func (s Standing) Level() int { return progression.FromTotal(s.Total).Level }

// Standing returns the record's leaderboard input.
func (r *Record) Standing() Standing {
	return Standing{ID: r.ID, Total: r.TotalExp()}
}
