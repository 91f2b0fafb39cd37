package user

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/shared"
)

var now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestParseID(t *testing.T) {
	id, err := ParseID(" 869696625017229432 ")
	require.NoError(t, err)
	assert.Equal(t, ID(869696625017229432), id)
	assert.Equal(t, "869696625017229432", id.String())

	_, err = ParseID("-5")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	_, err = ParseID("notes")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestNew(t *testing.T) {
	r := New(42)
	assert.Equal(t, ID(42), r.ID)
	assert.Equal(t, DefaultLevel, r.Level)
	assert.NotNil(t, r.CCCProgress)
	assert.False(t, r.Connected())
	assert.NoError(t, r.Validate())
}

func TestCloneIsDeep(t *testing.T) {
	r := New(1)
	require.NoError(t, r.Connect("alice"))
	r.CCCProgress["/problem/ccc21j1"] = 40
	_, err := r.GrantBooster(BoosterExp, time.Hour, now)
	require.NoError(t, err)

	c := r.Clone()
	c.CCCProgress["/problem/ccc21j1"] = 100
	*c.DMOJUsername = "mallory"
	*c.ExpBoosterExpiry = now
	c.Coins = 999

	assert.Equal(t, 40, r.CCCProgress["/problem/ccc21j1"])
	assert.Equal(t, "alice", r.Username())
	assert.Equal(t, now.Add(time.Hour), *r.ExpBoosterExpiry)
	assert.Zero(t, r.Coins)
}

func TestApplyExpLevelUp(t *testing.T) {
	r := New(1)
	r.Exp = 900

	out, err := r.ApplyExp(200, now)
	require.NoError(t, err)

	assert.Equal(t, 1, r.Level)
	assert.Equal(t, int64(100), r.Exp)
	assert.True(t, out.Up())
	assert.Equal(t, int64(5), out.CoinDelta)
	assert.Equal(t, int64(5), r.Coins)
}

func TestApplyExpLevelDownLosesCoins(t *testing.T) {
	r := New(1)
	r.Level, r.Exp, r.Coins = 2, 500, 7

	out, err := r.ApplyExp(-3500, now)
	require.NoError(t, err)

	assert.Equal(t, 0, r.Level)
	assert.Equal(t, int64(0), r.Exp)
	assert.True(t, out.Down())
	assert.Equal(t, int64(-7), out.CoinDelta)
	assert.Zero(t, r.Coins)
}

func TestApplyExpRejectedLeavesRecord(t *testing.T) {
	r := New(1)
	r.Exp, r.Coins = 5, 3

	_, err := r.ApplyExp(-100, now)
	assert.ErrorIs(t, err, shared.ErrNotEnoughExp)
	assert.Equal(t, 0, r.Level)
	assert.Equal(t, int64(5), r.Exp)
	assert.Equal(t, int64(3), r.Coins)
}

func TestApplyExpCoinBooster(t *testing.T) {
	r := New(1)
	_, err := r.GrantBooster(BoosterCoin, time.Hour, now)
	require.NoError(t, err)

	out, err := r.ApplyExp(1000, now)
	require.NoError(t, err)
	assert.Equal(t, int64(10), out.CoinDelta)

	out, err = r.ApplyExp(2000, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(5), out.CoinDelta)
}

func TestAddCoinsAndMessages(t *testing.T) {
	r := New(1)
	require.NoError(t, r.AddCoins(10))
	assert.ErrorIs(t, r.AddCoins(-11), shared.ErrNotEnoughCoins)
	assert.Equal(t, int64(10), r.Coins)
	require.NoError(t, r.AddCoins(-10))
	assert.Zero(t, r.Coins)

	require.NoError(t, r.AddMessages(3))
	assert.ErrorIs(t, r.AddMessages(-4), shared.ErrNegativeMsgCount)
	assert.Equal(t, int64(3), r.MsgCount)
}

func TestCountersOutOfRange(t *testing.T) {
	r := New(1)
	r.Coins = 5
	r.MsgCount = 5

	assert.ErrorIs(t, r.AddCoins(math.MaxInt64), shared.ErrCoinsOutOfRange)
	assert.True(t, shared.IsRejected(r.AddCoins(MaxCoins)))
	assert.ErrorIs(t, r.AddCoins(math.MinInt64), shared.ErrNotEnoughCoins)
	assert.Equal(t, int64(5), r.Coins)
	require.NoError(t, r.AddCoins(MaxCoins-5))
	assert.Equal(t, MaxCoins, r.Coins)

	assert.ErrorIs(t, r.AddMessages(math.MaxInt64), shared.ErrMsgCountOutOfRange)
	assert.ErrorIs(t, r.AddMessages(math.MinInt64), shared.ErrNegativeMsgCount)
	assert.Equal(t, int64(5), r.MsgCount)

	before := r.Clone()
	_, err := r.ApplyExp(math.MaxInt64, time.Now())
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	assert.Equal(t, before, r)
}

func TestResetKeepsAchievements(t *testing.T) {
	r := New(1)
	r.Level, r.Exp, r.Coins, r.MsgCount = 5, 12, 300, 1000
	require.NoError(t, r.Connect("bob"))
	r.CCCProgress["/problem/ccc20s1"] = 100
	_, err := r.GrantBooster(BoosterCoin, time.Hour, now)
	require.NoError(t, err)

	r.Reset()

	assert.Equal(t, 0, r.Level)
	assert.Zero(t, r.Exp)
	assert.Zero(t, r.Coins)
	assert.Zero(t, r.MsgCount)
	assert.Nil(t, r.CoinBoosterExpiry)
	assert.Equal(t, "bob", r.Username())
	assert.Equal(t, 100, r.CCCProgress["/problem/ccc20s1"])
}

func TestConnect(t *testing.T) {
	r := New(1)
	assert.ErrorIs(t, r.Connect("  "), shared.ErrInvalidInput)
	require.NoError(t, r.Connect("carol"))
	assert.ErrorIs(t, r.Connect("dave"), shared.ErrAlreadyConnected)
	assert.ErrorIs(t, r.Connect("dave"), shared.ErrRejected)
	assert.Equal(t, "carol", r.Username())
}

func TestGrantBooster(t *testing.T) {
	r := New(1)

	expiry, err := r.GrantBooster(BoosterExp, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), expiry)
	assert.Equal(t, int64(20), r.BoostExp(10, now))
	assert.Equal(t, int64(10), r.BoostCoins(10, now))

	expiry, err = r.GrantBooster(BoosterExp, time.Hour, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, now.Add(2*time.Hour), expiry)

	_, err = r.GrantBooster(BoosterCoin, 0, now)
	assert.ErrorIs(t, err, shared.ErrInvalidDuration)
}

func TestParseBoosterKind(t *testing.T) {
	k, err := ParseBoosterKind("EXP")
	require.NoError(t, err)
	assert.Equal(t, BoosterExp, k)

	k, err = ParseBoosterKind("coins")
	require.NoError(t, err)
	assert.Equal(t, BoosterCoin, k)

	_, err = ParseBoosterKind("gems")
	assert.ErrorIs(t, err, shared.ErrInvalidBoosterKind)
}

func TestMarshalFormat(t *testing.T) {
	r := New(7)
	r.Exp, r.Level, r.Coins, r.MsgCount = 10, 2, 30, 4

	data, err := r.Marshal()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, map[string]any{
		"exp":          float64(10),
		"level":        float64(2),
		"coins":        float64(30),
		"msgCount":     float64(4),
		"dmojUsername": nil,
		"cccProgress":  map[string]any{},
	}, doc)
}

func TestUnmarshal(t *testing.T) {
	data := []byte(`{"exp": 5, "level": 1, "coins": 0, "msgCount": 9, "dmojUsername": "erin", "cccProgress": null}`)

	r, err := Unmarshal(99, data)
	require.NoError(t, err)
	assert.Equal(t, ID(99), r.ID)
	assert.Equal(t, "erin", r.Username())
	assert.NotNil(t, r.CCCProgress)

	_, err = Unmarshal(99, []byte(`{"exp": `))
	assert.Error(t, err)
}
