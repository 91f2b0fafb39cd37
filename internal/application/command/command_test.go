package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JunyuanChen/SonnyBot-ng/internal/application/lock"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/achievement"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/shared"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/persistence/recordstore"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

var errInjected = errors.New("injected failure")

// flakyBackend wraps a MemoryBackend and fails selected operations.
type flakyBackend struct {
	*recordstore.MemoryBackend

	mu             sync.Mutex
	failWrites     map[string]bool
	failCheckpoint bool
}

func (b *flakyBackend) Write(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	fail := b.failWrites[key]
	b.mu.Unlock()
	if fail {
		return errInjected
	}
	return b.MemoryBackend.Write(ctx, key, data)
}

func (b *flakyBackend) Checkpoint(ctx context.Context, message string) error {
	b.mu.Lock()
	fail := b.failCheckpoint
	b.mu.Unlock()
	if fail {
		return errInjected
	}
	return b.MemoryBackend.Checkpoint(ctx, message)
}

type fakeFetcher struct {
	progress map[string]int
	err      error
	calls    int
}

func (f *fakeFetcher) FetchProgress(_ context.Context, _ string) (map[string]int, error) {
	f.calls++
	return f.progress, f.err
}

type fixedSource struct {
	f float64
	n int64
}

func (s fixedSource) Float64() float64   { return s.f }
func (s fixedSource) Int64N(int64) int64 { return s.n }

type fixture struct {
	backend *flakyBackend
	store   *recordstore.Store
	deps    Deps
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := &flakyBackend{MemoryBackend: recordstore.NewMemoryBackend(), failWrites: map[string]bool{}}
	store := recordstore.New(backend, recordstore.Config{})
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &fixture{
		backend: backend,
		store:   store,
		now:     now,
		deps: Deps{
			Store:  store,
			Runner: lock.NewRunner(lock.NewLocal(), time.Second, nil),
			Now:    func() time.Time { return now },
		},
	}
}

// seed saves a record without committing.
func (f *fixture) seed(t *testing.T, id user.ID, mutate func(*user.Record)) {
	t.Helper()
	rec := user.New(id)
	if mutate != nil {
		mutate(rec)
	}
	require.NoError(t, f.store.Save(context.Background(), rec))
}

func (f *fixture) load(t *testing.T, id user.ID) *user.Record {
	t.Helper()
	rec, err := f.store.Load(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func (f *fixture) lastCommit() string {
	commits := f.backend.Commits()
	if len(commits) == 0 {
		return ""
	}
	return commits[len(commits)-1]
}

func testEngine(t *testing.T) *achievement.Engine {
	t.Helper()
	catalog, err := achievement.LoadCatalog([]byte(`{
		"/problem/a": {"name": "Problem A", "difficulty": 10},
		"/problem/b": {"name": "Problem B", "difficulty": 5}
	}`))
	require.NoError(t, err)
	return achievement.NewEngine(catalog, achievement.DefaultCurves())
}

// ══════════════════════════════════════════════════════════════════════════════
// BALANCES
// ══════════════════════════════════════════════════════════════════════════════

func TestChangeExp(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, nil)
	h := NewChangeExpHandler(f.deps)

	res, err := h.Handle(context.Background(), ChangeExpCommand{Target: 1, Amount: 1500})
	require.NoError(t, err)
	assert.True(t, res.Outcome.Up())
	assert.Equal(t, int64(5), res.Outcome.CoinDelta)
	assert.Equal(t, "Change EXP of User 1 by 1500", f.lastCommit())

	rec := f.load(t, 1)
	assert.Equal(t, 1, rec.Level)
	assert.Equal(t, int64(500), rec.Exp)
	assert.Equal(t, int64(5), rec.Coins)
}

func TestChangeExpRejectsBelowLevelZero(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, func(r *user.Record) { r.Exp = 100 })
	h := NewChangeExpHandler(f.deps)

	_, err := h.Handle(context.Background(), ChangeExpCommand{Target: 1, Amount: -101})
	require.ErrorIs(t, err, shared.ErrNotEnoughExp)
	assert.True(t, shared.IsRejected(err))
	assert.Empty(t, f.backend.Commits())
	assert.Equal(t, int64(100), f.load(t, 1).Exp)
}

func TestChangeExpUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := NewChangeExpHandler(f.deps).Handle(context.Background(), ChangeExpCommand{Target: 9, Amount: 1})
	assert.True(t, shared.IsNotFound(err))
}

func TestChangeCoinsAndMessages(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, func(r *user.Record) { r.Coins = 10; r.MsgCount = 3 })
	ctx := context.Background()

	rec, err := NewChangeCoinsHandler(f.deps).Handle(ctx, ChangeCoinsCommand{Target: 1, Amount: -10})
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Coins)
	assert.Equal(t, "Change coins of User 1 by -10", f.lastCommit())

	_, err = NewChangeCoinsHandler(f.deps).Handle(ctx, ChangeCoinsCommand{Target: 1, Amount: -1})
	assert.ErrorIs(t, err, shared.ErrNotEnoughCoins)

	rec, err = NewChangeMessageCountHandler(f.deps).Handle(ctx, ChangeMessageCountCommand{Target: 1, Amount: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.MsgCount)
	assert.Equal(t, "Change message count of User 1 by 4", f.lastCommit())

	_, err = NewChangeMessageCountHandler(f.deps).Handle(ctx, ChangeMessageCountCommand{Target: 1, Amount: -8})
	assert.ErrorIs(t, err, shared.ErrNegativeMsgCount)
	assert.Equal(t, int64(7), f.load(t, 1).MsgCount)
}

func TestTransactCoins(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, func(r *user.Record) { r.Coins = 100 })
	f.seed(t, 2, func(r *user.Record) { r.Coins = 5 })
	h := NewTransactCoinsHandler(f.deps)
	ctx := context.Background()

	res, err := h.Handle(ctx, TransactCoinsCommand{Sender: 1, Receiver: 2, Amount: 30})
	require.NoError(t, err)
	assert.Equal(t, int64(70), res.Sender.Coins)
	assert.Equal(t, int64(35), res.Receiver.Coins)
	assert.Equal(t, "Transact 30 coins from User 1 to User 2", f.lastCommit())

	_, err = h.Handle(ctx, TransactCoinsCommand{Sender: 1, Receiver: 2, Amount: 71})
	assert.ErrorIs(t, err, shared.ErrNotEnoughCoins)
	_, err = h.Handle(ctx, TransactCoinsCommand{Sender: 1, Receiver: 1, Amount: 1})
	assert.ErrorIs(t, err, shared.ErrSelfTransfer)
	_, err = h.Handle(ctx, TransactCoinsCommand{Sender: 1, Receiver: 2, Amount: 0})
	assert.ErrorIs(t, err, shared.ErrNonPositiveAmount)
	_, err = h.Handle(ctx, TransactCoinsCommand{Sender: 1, Receiver: 3, Amount: 1})
	assert.True(t, shared.IsNotFound(err))

	assert.Equal(t, int64(70), f.load(t, 1).Coins)
	assert.Equal(t, int64(35), f.load(t, 2).Coins)
}

func TestTransactCoinsRestoresSenderWhenReceiverSaveFails(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, func(r *user.Record) { r.Coins = 100 })
	f.seed(t, 2, nil)
	f.backend.failWrites["2"] = true

	_, err := NewTransactCoinsHandler(f.deps).Handle(context.Background(),
		TransactCoinsCommand{Sender: 1, Receiver: 2, Amount: 30})
	require.Error(t, err)
	assert.True(t, shared.IsStorage(err))
	assert.Empty(t, f.backend.Commits())

	f.store.ClearCache()
	assert.Equal(t, int64(100), f.load(t, 1).Coins)
	assert.Equal(t, int64(0), f.load(t, 2).Coins)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMINISTRATION
// ══════════════════════════════════════════════════════════════════════════════

func TestResetUserStatKeepsJudgeProgress(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, func(r *user.Record) {
		r.Level, r.Exp, r.Coins, r.MsgCount = 3, 10, 50, 7
		_ = r.Connect("alice")
		r.CCCProgress["/problem/a"] = 50
	})
	f.backend.failCheckpoint = true

	rec, err := NewResetUserStatHandler(f.deps).Handle(context.Background(), ResetUserStatCommand{Target: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Level)
	assert.Equal(t, int64(0), rec.Coins)

	got := f.load(t, 1)
	assert.Equal(t, int64(0), got.MsgCount)
	assert.Equal(t, "alice", got.Username())
	assert.Equal(t, 50, got.CCCProgress["/problem/a"])
}

func TestRemoveUser(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, nil)
	h := NewRemoveUserHandler(f.deps)

	require.NoError(t, h.Handle(context.Background(), RemoveUserCommand{Target: 1}))
	assert.Equal(t, "Delete user 1", f.lastCommit())

	_, err := f.store.Load(context.Background(), 1)
	assert.True(t, shared.IsNotFound(err))
	assert.True(t, shared.IsNotFound(h.Handle(context.Background(), RemoveUserCommand{Target: 1})))
}

func TestSyncDataFlushes(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, NewSyncDataHandler(f.deps).Handle(context.Background()))
	assert.Equal(t, "Flush lazily committed data", f.lastCommit())
}

func TestGiveBoosterStacks(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, nil)
	h := NewGiveBoosterHandler(f.deps, 7*24*time.Hour)
	ctx := context.Background()

	res, err := h.Handle(ctx, GiveBoosterCommand{Target: 1, Kind: user.BoosterExp, Duration: 2 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(2*time.Hour), res.Expiry)
	assert.Equal(t, "Give exp booster to User 1 for 2h", f.lastCommit())

	res, err = h.Handle(ctx, GiveBoosterCommand{Target: 1, Kind: user.BoosterExp, Duration: 90 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(210*time.Minute), res.Expiry)
	assert.Nil(t, f.load(t, 1).CoinBoosterExpiry)

	_, err = h.Handle(ctx, GiveBoosterCommand{Target: 1, Kind: user.BoosterCoin, Duration: 8 * 24 * time.Hour})
	assert.ErrorIs(t, err, shared.ErrInvalidDuration)
	_, err = h.Handle(ctx, GiveBoosterCommand{Target: 1, Kind: user.BoosterCoin, Duration: 0})
	assert.ErrorIs(t, err, shared.ErrInvalidDuration)
}

// ══════════════════════════════════════════════════════════════════════════════
// ECONOMY
// ══════════════════════════════════════════════════════════════════════════════

func TestGamble(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, func(r *user.Record) { r.Coins = 100 })
	f.seed(t, 2, func(r *user.Record) { r.Coins = 44 })
	h := NewGambleHandler(f.deps, 0, fixedSource{f: 0.5})
	ctx := context.Background()

	res, err := h.Handle(ctx, GambleCommand{User: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(41), res.Reward)
	assert.Equal(t, int64(-4), res.Net())
	assert.Equal(t, int64(96), f.load(t, 1).Coins)
	assert.Equal(t, "User 1 gambled", f.lastCommit())

	_, err = h.Handle(ctx, GambleCommand{User: 2})
	assert.ErrorIs(t, err, shared.ErrNotEnoughCoins)
	assert.Equal(t, int64(44), f.load(t, 2).Coins)
}

func TestGambleIgnoresCommitFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, func(r *user.Record) { r.Coins = 45 })
	f.backend.failCheckpoint = true

	res, err := NewGambleHandler(f.deps, 45, fixedSource{f: 0}).Handle(context.Background(), GambleCommand{User: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Record.Coins)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

func TestConnectDMOJ(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, nil)
	fetcher := &fakeFetcher{progress: map[string]int{"/problem/a": 100, "/problem/zzz": 100}}
	h := NewConnectDMOJHandler(f.deps, fetcher, testEngine(t))

	res, err := h.Handle(context.Background(), ConnectDMOJCommand{User: 1, Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.ExpGained)
	assert.Equal(t, int64(20), res.CoinsGained)
	assert.Equal(t, "Connect User 1 to DMOJ alice", f.lastCommit())

	rec := f.load(t, 1)
	assert.Equal(t, "alice", rec.Username())
	assert.Equal(t, 1, rec.Level)
	assert.Equal(t, int64(25), rec.Coins, "20 problem coins plus 5 for level 1")
	assert.Equal(t, 100, rec.CCCProgress["/problem/a"])

	_, err = h.Handle(context.Background(), ConnectDMOJCommand{User: 1, Username: "bob"})
	assert.ErrorIs(t, err, shared.ErrAlreadyConnected)
	assert.Equal(t, 1, fetcher.calls)
}

func TestConnectDMOJWithBoosters(t *testing.T) {
	f := newFixture(t)
	expiry := f.now.Add(time.Hour)
	f.seed(t, 1, func(r *user.Record) { r.ExpBoosterExpiry = &expiry; r.CoinBoosterExpiry = &expiry })
	fetcher := &fakeFetcher{progress: map[string]int{"/problem/a": 50}}

	res, err := NewConnectDMOJHandler(f.deps, fetcher, testEngine(t)).Handle(context.Background(),
		ConnectDMOJCommand{User: 1, Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(400), res.ExpGained)
	assert.Equal(t, int64(8), res.CoinsGained)
}

func TestConnectDMOJRejectsEmptyProfile(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, nil)
	h := NewConnectDMOJHandler(f.deps, &fakeFetcher{progress: map[string]int{}}, testEngine(t))

	_, err := h.Handle(context.Background(), ConnectDMOJCommand{User: 1, Username: "ghost"})
	assert.ErrorIs(t, err, shared.ErrEmptyProfile)
	assert.False(t, f.load(t, 1).Connected())
	assert.Empty(t, f.backend.Commits())
}

func TestConnectDMOJNetworkFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, nil)
	netErr := shared.WrapError("dmoj", "FetchProgress", shared.ErrNetwork, "Network errors encountered - see logs for details", errInjected)
	h := NewConnectDMOJHandler(f.deps, &fakeFetcher{err: netErr}, testEngine(t))

	_, err := h.Handle(context.Background(), ConnectDMOJCommand{User: 1, Username: "alice"})
	assert.True(t, shared.IsNetwork(err))
	assert.False(t, f.load(t, 1).Connected())
}

func TestFetchCCCProgress(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, nil)
	f.seed(t, 2, func(r *user.Record) {
		_ = r.Connect("alice")
		r.CCCProgress["/problem/a"] = 50
		r.CCCProgress["/problem/b"] = 100
	})
	fetcher := &fakeFetcher{progress: map[string]int{"/problem/a": 100, "/problem/b": 40}}
	h := NewFetchCCCProgressHandler(f.deps, fetcher, testEngine(t))
	ctx := context.Background()

	_, err := h.Handle(ctx, FetchCCCProgressCommand{User: 1})
	assert.ErrorIs(t, err, shared.ErrNotConnected)

	res, err := h.Handle(ctx, FetchCCCProgressCommand{User: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"/problem/a"}, res.Rewards.Improved)
	assert.Equal(t, int64(800), res.ExpGained)
	assert.Equal(t, "Update CCC progress for User 2", f.lastCommit())

	rec := f.load(t, 2)
	assert.Equal(t, 100, rec.CCCProgress["/problem/a"])
	assert.Equal(t, 100, rec.CCCProgress["/problem/b"])
}

// ══════════════════════════════════════════════════════════════════════════════
// CHAT EVENTS
// ══════════════════════════════════════════════════════════════════════════════

func TestRecordMessageCreatesUser(t *testing.T) {
	f := newFixture(t)
	h := NewRecordMessageHandler(f.deps, fixedSource{n: 0})

	res, err := h.Handle(context.Background(), RecordMessageCommand{User: 5, Content: "one two three four"})
	require.NoError(t, err)
	assert.False(t, res.Outcome.Changed())
	assert.Equal(t, []string{"Create new user 5"}, f.backend.Commits())

	rec := f.load(t, 5)
	assert.Equal(t, int64(1), rec.MsgCount)
	assert.Equal(t, int64(2), rec.Exp)
}

func TestRecordMessageLevelUp(t *testing.T) {
	f := newFixture(t)
	expiry := f.now.Add(time.Minute)
	f.seed(t, 1, func(r *user.Record) { r.Exp = 998; r.ExpBoosterExpiry = &expiry })
	h := NewRecordMessageHandler(f.deps, fixedSource{n: 0})

	res, err := h.Handle(context.Background(), RecordMessageCommand{User: 1, Content: "a b"})
	require.NoError(t, err)
	assert.True(t, res.Outcome.Up())
	assert.Equal(t, "Upgrade User 1 to Lvl. 1", f.lastCommit())
	assert.Equal(t, int64(0), f.load(t, 1).Exp)
}

func TestRecordMessageReportsCommitFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, func(r *user.Record) { r.Exp = 999 })
	f.backend.failCheckpoint = true

	res, err := NewRecordMessageHandler(f.deps, fixedSource{n: 0}).Handle(context.Background(),
		RecordMessageCommand{User: 1, Content: "a b"})
	require.Error(t, err)
	assert.True(t, shared.IsStorage(err))
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Outcome.NewLevel)
	assert.Equal(t, 1, f.load(t, 1).Level)
}

func TestMemberJoined(t *testing.T) {
	f := newFixture(t)
	rec, err := NewMemberJoinedHandler(f.deps).Handle(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, user.ID(8), rec.ID)
	assert.Equal(t, "Create new user 8", f.lastCommit())
}

func TestHandlersTimeOutWhileLockHeld(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, nil)
	local := lock.NewLocal()
	release, err := local.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	f.deps.Runner = lock.NewRunner(local, 20*time.Millisecond, nil)
	_, err = NewChangeCoinsHandler(f.deps).Handle(context.Background(), ChangeCoinsCommand{Target: 1, Amount: 1})
	assert.True(t, shared.IsTimeout(err))
}
