package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JunyuanChen/SonnyBot-ng/internal/application/command"
	"github.com/JunyuanChen/SonnyBot-ng/internal/application/lock"
	"github.com/JunyuanChen/SonnyBot-ng/internal/application/query"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/achievement"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/shared"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/external/telegram"
	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/persistence/recordstore"
	"github.com/JunyuanChen/SonnyBot-ng/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

type fakeFetcher struct {
	progress map[string]int
	err      error
}

func (f *fakeFetcher) FetchProgress(context.Context, string) (map[string]int, error) {
	return f.progress, f.err
}

type fixedSource struct{}

func (fixedSource) Float64() float64   { return 0 }
func (fixedSource) Int64N(int64) int64 { return 0 }

type fixture struct {
	store   *recordstore.Store
	cmd     command.Deps
	query   query.Deps
	fetcher *fakeFetcher
	engine  *achievement.Engine
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := recordstore.New(recordstore.NewMemoryBackend(), recordstore.Config{})
	runner := lock.NewRunner(lock.NewLocal(), time.Second, nil)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	catalog, err := achievement.LoadCatalog([]byte(`{
		"/problem/a": {"name": "Problem A", "difficulty": 10}
	}`))
	require.NoError(t, err)

	return &fixture{
		store:   store,
		cmd:     command.Deps{Store: store, Runner: runner, Now: func() time.Time { return now }},
		query:   query.Deps{Store: store, Runner: runner},
		fetcher: &fakeFetcher{},
		engine:  achievement.NewEngine(catalog, achievement.DefaultCurves()),
		now:     now,
	}
}

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

func (f *fixture) request(sender user.ID, args ...string) *Request {
	return &Request{Sender: Subject{ID: sender, Name: "Sender"}, Args: args, Now: f.now}
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST PARSING
// ══════════════════════════════════════════════════════════════════════════════

func TestNewRequest(t *testing.T) {
	msg := &telegram.Message{
		Text: "/changeexp@sonny_bot 500",
		From: &telegram.User{ID: 1, FirstName: "Ann"},
		Entities: []telegram.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: 20},
		},
		ReplyToMessage: &telegram.Message{From: &telegram.User{ID: 2, FirstName: "Bob"}},
	}

	req := NewRequest(msg, time.Unix(0, 0))
	require.NotNil(t, req)
	assert.Equal(t, "changeexp", req.Command)
	assert.Equal(t, []string{"500"}, req.Args)
	assert.Equal(t, Subject{ID: 1, Name: "Ann"}, req.Sender)
	require.NotNil(t, req.ReplyTo)
	assert.Equal(t, user.ID(2), req.ReplyTo.ID)
}

func TestNewRequest_IgnoresPlainTextAndBotReplies(t *testing.T) {
	assert.Nil(t, NewRequest(&telegram.Message{Text: "hello", From: &telegram.User{ID: 1}}, time.Now()))

	msg := &telegram.Message{
		Text:           "/stat",
		From:           &telegram.User{ID: 1},
		Entities:       []telegram.MessageEntity{{Type: "bot_command", Offset: 0, Length: 5}},
		ReplyToMessage: &telegram.Message{From: &telegram.User{ID: 9, IsBot: true}},
	}
	req := NewRequest(msg, time.Now())
	require.NotNil(t, req)
	assert.Nil(t, req.ReplyTo)
}

func TestRequestTarget(t *testing.T) {
	tests := []struct {
		name     string
		req      *Request
		wantID   user.ID
		wantRest []string
		wantOK   bool
	}{
		{
			name:     "reply wins over arguments",
			req:      &Request{Args: []string{"42", "10"}, ReplyTo: &Subject{ID: 7}},
			wantID:   7,
			wantRest: []string{"42", "10"},
			wantOK:   true,
		},
		{
			name:     "numeric first argument",
			req:      &Request{Args: []string{"42", "10"}},
			wantID:   42,
			wantRest: []string{"10"},
			wantOK:   true,
		},
		{
			name:     "no target",
			req:      &Request{Args: []string{"bob"}},
			wantRest: []string{"bob"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, rest, ok := tt.req.Target()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, target.ID)
			assert.Equal(t, tt.wantRest, rest)
		})
	}
}

func TestTargetOrSender(t *testing.T) {
	req := &Request{Sender: Subject{ID: 3}}
	target, _ := req.TargetOrSender()
	assert.Equal(t, user.ID(3), target.ID)
}

func TestReplyAddSkipsEmpty(t *testing.T) {
	r := Reply{}.Add("a", "", "b")
	assert.Equal(t, Reply{"a", "b"}, r)
}

// ══════════════════════════════════════════════════════════════════════════════
// ECONOMY
// ══════════════════════════════════════════════════════════════════════════════

func TestChangeExp_AnnouncesLevelUp(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 2, nil)
	h := NewChangeExpHandler(command.NewChangeExpHandler(f.cmd))

	reply, err := h.Handle(context.Background(), f.request(1, "2", "1500"))
	require.NoError(t, err)
	require.Len(t, reply, 2)
	assert.Contains(t, reply[0], "upgraded to Lvl. 1")
	assert.Contains(t, reply[1], "EXP has been updated by 1500!")

	rec := f.load(t, 2)
	assert.Equal(t, 1, rec.Level)
	assert.Equal(t, int64(500), rec.Exp)
}

func TestChangeExp_UsageErrors(t *testing.T) {
	f := newFixture(t)
	h := NewChangeExpHandler(command.NewChangeExpHandler(f.cmd))

	for _, args := range [][]string{nil, {"2"}, {"2", "lots"}, {"2", "1", "2"}} {
		_, err := h.Handle(context.Background(), f.request(1, args...))
		var ue *UsageError
		assert.ErrorAs(t, err, &ue, "args %v", args)
	}
}

func TestChangeExp_UnknownUser(t *testing.T) {
	f := newFixture(t)
	h := NewChangeExpHandler(command.NewChangeExpHandler(f.cmd))

	_, err := h.Handle(context.Background(), f.request(1, "99", "10"))
	require.Error(t, err)
	assert.True(t, shared.IsNotFound(err))
	assert.Contains(t, presenter.ErrorReply(err), "tg://user?id=99")
}

func TestTransactCoins(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, func(r *user.Record) { r.Coins = 100 })
	f.seed(t, 2, nil)
	h := NewTransactCoinsHandler(command.NewTransactCoinsHandler(f.cmd))

	reply, err := h.Handle(context.Background(), f.request(1, "2", "40"))
	require.NoError(t, err)
	require.Len(t, reply, 1)
	assert.Contains(t, reply[0], "successfully transacted 40 coins")

	assert.Equal(t, int64(60), f.load(t, 1).Coins)
	assert.Equal(t, int64(40), f.load(t, 2).Coins)
}

func TestTransactCoins_NotEnoughCoins(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, func(r *user.Record) { r.Coins = 10 })
	f.seed(t, 2, nil)
	h := NewTransactCoinsHandler(command.NewTransactCoinsHandler(f.cmd))

	reply, err := h.Handle(context.Background(), f.request(1, "2", "40"))
	require.NoError(t, err)
	require.Len(t, reply, 1)
	assert.Contains(t, reply[0], "you don't have enough coins!")
	assert.Equal(t, int64(10), f.load(t, 1).Coins)
}

func TestGiveBoost(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 2, nil)
	h := NewGiveBoostHandler(command.NewGiveBoosterHandler(f.cmd, 0))

	reply, err := h.Handle(context.Background(), f.request(1, "2", "exp", "1h"))
	require.NoError(t, err)
	require.Len(t, reply, 1)
	assert.Contains(t, reply[0], "received a exp booster")

	expiry := f.load(t, 2).ExpBoosterExpiry
	require.NotNil(t, expiry)
	assert.True(t, expiry.Equal(f.now.Add(time.Hour)))
}

func TestGiveBoost_BadKind(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 2, nil)
	h := NewGiveBoostHandler(command.NewGiveBoosterHandler(f.cmd, 0))

	_, err := h.Handle(context.Background(), f.request(1, "2", "gold", "1h"))
	assert.ErrorIs(t, err, shared.ErrInvalidBoosterKind)

	_, err = h.Handle(context.Background(), f.request(1, "2", "exp", "soon"))
	var ue *UsageError
	assert.ErrorAs(t, err, &ue)
}

// ══════════════════════════════════════════════════════════════════════════════
// DMOJ
// ══════════════════════════════════════════════════════════════════════════════

func TestConnectDMOJ(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, nil)
	f.fetcher.progress = map[string]int{"/problem/a": 100}
	h := NewConnectDMOJHandler(
		command.NewConnectDMOJHandler(f.cmd, f.fetcher, f.engine),
		query.NewDMOJAccountHandler(f.query),
	)

	reply, err := h.Handle(context.Background(), f.request(1, "ann"))
	require.NoError(t, err)
	require.NotEmpty(t, reply)
	assert.Contains(t, reply[len(reply)-1], "successfully connected to DMOJ Account ann!")
	assert.Equal(t, "ann", f.load(t, 1).Username())
}

func TestConnectDMOJ_AlreadyConnected(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, func(r *user.Record) { require.NoError(t, r.Connect("old")) })
	h := NewConnectDMOJHandler(
		command.NewConnectDMOJHandler(f.cmd, f.fetcher, f.engine),
		query.NewDMOJAccountHandler(f.query),
	)

	reply, err := h.Handle(context.Background(), f.request(1, "ann"))
	require.NoError(t, err)
	require.Len(t, reply, 1)
	assert.Contains(t, reply[0], "already connected to a DMOJ Account (old)!")
}

func TestConnectDMOJ_EmptyProfile(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, nil)
	h := NewConnectDMOJHandler(
		command.NewConnectDMOJHandler(f.cmd, f.fetcher, f.engine),
		query.NewDMOJAccountHandler(f.query),
	)

	reply, err := h.Handle(context.Background(), f.request(1, "ghost"))
	require.NoError(t, err)
	require.Len(t, reply, 1)
	assert.Contains(t, reply[0], "cannot connect DMOJ Account ghost!")
	assert.False(t, f.load(t, 1).Connected())
}

func TestConnectDMOJ_NetworkFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, nil)
	f.fetcher.err = shared.WrapError("dmoj", "FetchProgress", shared.ErrNetwork, "unreachable", errors.New("dial"))
	h := NewConnectDMOJHandler(
		command.NewConnectDMOJHandler(f.cmd, f.fetcher, f.engine),
		query.NewDMOJAccountHandler(f.query),
	)

	_, err := h.Handle(context.Background(), f.request(1, "ann"))
	require.Error(t, err)
	assert.Equal(t, "Network errors encountered - see logs for details", presenter.ErrorReply(err))
}

func TestGetDMOJAccount_NotConnected(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, nil)
	h := NewGetDMOJAccountHandler(query.NewDMOJAccountHandler(f.query))

	_, err := h.Handle(context.Background(), f.request(1))
	require.Error(t, err)
	assert.Contains(t, presenter.ErrorReply(err), "have not connected a DMOJ Account yet!")
}

// ══════════════════════════════════════════════════════════════════════════════
// HELP & EVENTS
// ══════════════════════════════════════════════════════════════════════════════

func TestHelp_HidesAdminCommands(t *testing.T) {
	h := NewHelpHandler(func(s Subject) bool { return s.ID == 1 })

	reply, err := h.Handle(context.Background(), &Request{Sender: Subject{ID: 2}})
	require.NoError(t, err)
	assert.Contains(t, reply[0], "/stat")
	assert.NotContains(t, reply[0], "/removeuser")

	reply, err = h.Handle(context.Background(), &Request{Sender: Subject{ID: 1}})
	require.NoError(t, err)
	assert.Contains(t, reply[0], "/removeuser &lt;user&gt;")
}

func TestEvents_OnMessageLevelUp(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, func(r *user.Record) { r.Exp = 999 })
	h := NewEventsHandler(
		command.NewRecordMessageHandler(f.cmd, fixedSource{}),
		command.NewMemberJoinedHandler(f.cmd),
	)

	reply, err := h.OnMessage(context.Background(), Subject{ID: 1}, "a b c d")
	require.NoError(t, err)
	require.Len(t, reply, 1)
	assert.Contains(t, reply[0], "upgraded to Lvl. 1")

	rec := f.load(t, 1)
	assert.Equal(t, int64(1), rec.MsgCount)
	assert.Equal(t, 1, rec.Level)
}

func TestEvents_OnMessageQuiet(t *testing.T) {
	f := newFixture(t)
	h := NewEventsHandler(
		command.NewRecordMessageHandler(f.cmd, fixedSource{}),
		command.NewMemberJoinedHandler(f.cmd),
	)

	reply, err := h.OnMessage(context.Background(), Subject{ID: 5}, "hello there")
	require.NoError(t, err)
	assert.Empty(t, reply)
	assert.Equal(t, int64(1), f.load(t, 5).MsgCount)
}

func TestEvents_OnJoin(t *testing.T) {
	f := newFixture(t)
	h := NewEventsHandler(
		command.NewRecordMessageHandler(f.cmd, fixedSource{}),
		command.NewMemberJoinedHandler(f.cmd),
	)

	reply, err := h.OnJoin(context.Background(), Subject{ID: 8, Name: "Newbie"})
	require.NoError(t, err)
	require.Len(t, reply, 1)
	assert.Contains(t, reply[0], "has joined the server!")
	assert.Equal(t, user.DefaultLevel, f.load(t, 8).Level)
}
