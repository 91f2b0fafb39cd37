package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JunyuanChen/SonnyBot-ng/config"
	"github.com/JunyuanChen/SonnyBot-ng/internal/application/command"
	"github.com/JunyuanChen/SonnyBot-ng/internal/application/lock"
	"github.com/JunyuanChen/SonnyBot-ng/internal/application/query"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/achievement"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/external/telegram"
	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/persistence/recordstore"
	"github.com/JunyuanChen/SonnyBot-ng/internal/interface/telegram/handler"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

type fakeAPI struct {
	mu      sync.Mutex
	replies []string
	meErr   error
}

func (a *fakeAPI) Reply(_ context.Context, _ *telegram.Message, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, text)
	return nil
}

func (a *fakeAPI) GetMe(context.Context) (*telegram.User, error) {
	if a.meErr != nil {
		return nil, a.meErr
	}
	return &telegram.User{ID: 1000, IsBot: true, Username: "sonny_bot"}, nil
}

func (a *fakeAPI) StartPolling(ctx context.Context, _ telegram.UpdateHandler) error {
	<-ctx.Done()
	return nil
}

func (a *fakeAPI) sent() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.replies...)
}

type nullFetcher struct{}

func (nullFetcher) FetchProgress(context.Context, string) (map[string]int, error) {
	return nil, nil
}

type zeroSource struct{}

func (zeroSource) Float64() float64   { return 0 }
func (zeroSource) Int64N(int64) int64 { return 0 }

const adminID = 1

func newTestBot(t *testing.T, opts ...func(*BotConfig)) (*Bot, *fakeAPI, *recordstore.Store) {
	t.Helper()
	store := recordstore.New(recordstore.NewMemoryBackend(), recordstore.Config{})
	runner := lock.NewRunner(lock.NewLocal(), time.Second, nil)
	cmd := command.Deps{Store: store, Runner: runner}
	q := query.Deps{Store: store, Runner: runner}

	catalog, err := achievement.LoadCatalog([]byte(`{}`))
	require.NoError(t, err)
	engine := achievement.NewEngine(catalog, achievement.DefaultCurves())

	deps := BotDependencies{
		ChangeExp:          command.NewChangeExpHandler(cmd),
		ChangeCoins:        command.NewChangeCoinsHandler(cmd),
		ChangeMessageCount: command.NewChangeMessageCountHandler(cmd),
		TransactCoins:      command.NewTransactCoinsHandler(cmd),
		Gamble:             command.NewGambleHandler(cmd, command.DefaultGambleCost, zeroSource{}),
		GiveBooster:        command.NewGiveBoosterHandler(cmd, 0),
		ConnectDMOJ:        command.NewConnectDMOJHandler(cmd, nullFetcher{}, engine),
		FetchCCCProgress:   command.NewFetchCCCProgressHandler(cmd, nullFetcher{}, engine),
		ResetUserStat:      command.NewResetUserStatHandler(cmd),
		RemoveUser:         command.NewRemoveUserHandler(cmd),
		SyncData:           command.NewSyncDataHandler(cmd),
		RecordMessage:      command.NewRecordMessageHandler(cmd, zeroSource{}),
		MemberJoined:       command.NewMemberJoinedHandler(cmd),
		Stat:               query.NewStatHandler(q),
		Leaderboard:        query.NewLeaderboardHandler(q, query.DefaultLeaderboardSize),
		CCCProgressList:    query.NewCCCProgressListHandler(q, engine),
		DMOJAccount:        query.NewDMOJAccountHandler(q),
	}

	api := &fakeAPI{}
	cfg := DefaultBotConfig("token")
	cfg.AdminIDs = []user.ID{adminID}
	for _, opt := range opts {
		opt(&cfg)
	}
	return newBot(cfg, api, deps), api, store
}

func commandMessage(from int64, text string, cmdLen int) *telegram.Update {
	return &telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			MessageID: 10,
			From:      &telegram.User{ID: from, FirstName: "Member"},
			Chat:      &telegram.Chat{ID: -100, Type: "supergroup"},
			Text:      text,
			Entities:  []telegram.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
		},
	}
}

func textMessage(from int64, text string) *telegram.Update {
	return &telegram.Update{
		UpdateID: 2,
		Message: &telegram.Message{
			From: &telegram.User{ID: from, FirstName: "Member"},
			Chat: &telegram.Chat{ID: -100, Type: "supergroup"},
			Text: text,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestNewBot_RegistersEveryCommand(t *testing.T) {
	b, _, _ := newTestBot(t)
	registered := b.Router().RegisteredCommands()
	for _, c := range handler.Commands {
		assert.Contains(t, registered, c.Command)
	}
}

func TestNewBot_RequiresToken(t *testing.T) {
	_, err := NewBot(BotConfig{}, BotDependencies{})
	assert.Error(t, err)
}

func TestHandleUpdate_AdminCommand(t *testing.T) {
	b, api, store := newTestBot(t)
	require.NoError(t, store.Save(context.Background(), user.New(2)))

	err := b.handleUpdate(context.Background(), commandMessage(adminID, "/changecoins 2 25", 12))
	require.NoError(t, err)

	rec, err := store.Load(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(25), rec.Coins)
	require.Len(t, api.sent(), 1)
	assert.Contains(t, api.sent()[0], "coins has been updated by 25!")
}

func TestHandleUpdate_DeniesNonAdmin(t *testing.T) {
	b, api, store := newTestBot(t)
	require.NoError(t, store.Save(context.Background(), user.New(2)))

	err := b.handleUpdate(context.Background(), commandMessage(2, "/changecoins 2 25", 12))
	require.NoError(t, err)

	rec, err := store.Load(context.Background(), 2)
	require.NoError(t, err)
	assert.Zero(t, rec.Coins)
	assert.Equal(t, []string{"You don't have permission to use this command!"}, api.sent())
}

func TestHandleUpdate_UsageError(t *testing.T) {
	b, api, _ := newTestBot(t)

	err := b.handleUpdate(context.Background(), commandMessage(adminID, "/changecoins", 12))
	require.NoError(t, err)
	require.Len(t, api.sent(), 1)
	assert.Contains(t, api.sent()[0], "Usage: /changecoins &lt;user id&gt;")
}

func TestHandleUpdate_NotFoundReply(t *testing.T) {
	b, api, _ := newTestBot(t)

	err := b.handleUpdate(context.Background(), commandMessage(adminID, "/changecoins 77 5", 12))
	require.NoError(t, err)
	require.Len(t, api.sent(), 1)
	assert.Contains(t, api.sent()[0], "not found!")
}

func TestHandleUpdate_UnknownCommandIgnored(t *testing.T) {
	b, api, _ := newTestBot(t)

	err := b.handleUpdate(context.Background(), commandMessage(2, "/weather", 8))
	require.NoError(t, err)
	assert.Empty(t, api.sent())
}

func TestHandleUpdate_PlainMessageEarnsExp(t *testing.T) {
	b, api, store := newTestBot(t)

	err := b.handleUpdate(context.Background(), textMessage(5, "hello there friend"))
	require.NoError(t, err)

	rec, err := store.Load(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.MsgCount)
	assert.Empty(t, api.sent())
}

func TestHandleUpdate_BotMessagesIgnored(t *testing.T) {
	b, _, store := newTestBot(t)

	update := textMessage(6, "beep")
	update.Message.From.IsBot = true
	require.NoError(t, b.handleUpdate(context.Background(), update))

	_, err := store.Load(context.Background(), 6)
	assert.Error(t, err)
}

func TestHandleUpdate_NewMembers(t *testing.T) {
	b, api, store := newTestBot(t)

	update := &telegram.Update{Message: &telegram.Message{
		From: &telegram.User{ID: 7},
		Chat: &telegram.Chat{ID: -100},
		NewChatMembers: []telegram.User{
			{ID: 7, FirstName: "Newbie"},
			{ID: 8, IsBot: true},
		},
	}}
	require.NoError(t, b.handleUpdate(context.Background(), update))

	_, err := store.Load(context.Background(), 7)
	require.NoError(t, err)
	_, err = store.Load(context.Background(), 8)
	assert.Error(t, err)
	require.Len(t, api.sent(), 1)
	assert.Contains(t, api.sent()[0], "has joined the server!")
}

func TestHandleUpdate_DisabledFeatures(t *testing.T) {
	flags, err := config.LoadFeatureFlags(map[string]string{
		config.FeatureGamble:         "false",
		config.FeatureMessageRewards: "false",
	})
	require.NoError(t, err)
	b, api, store := newTestBot(t, func(c *BotConfig) { c.Features = flags })
	require.NoError(t, store.Save(context.Background(), user.New(2)))

	require.NoError(t, b.handleUpdate(context.Background(), commandMessage(2, "/gamble", 7)))
	assert.Equal(t, []string{DisabledMessage}, api.sent())

	require.NoError(t, b.handleUpdate(context.Background(), textMessage(2, "hello there")))
	rec, err := store.Load(context.Background(), 2)
	require.NoError(t, err)
	assert.Zero(t, rec.MsgCount)
}

func TestRouter_RecoversPanics(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.Router().RegisterCommand("boom", handler.CommandFunc(func(context.Context, *handler.Request) (handler.Reply, error) {
		panic("boom")
	}))

	err := b.handleUpdate(context.Background(), commandMessage(2, "/boom", 5))
	require.NoError(t, err)
	require.Len(t, api.sent(), 1)

	snapshot := b.Metrics()
	assert.Equal(t, int64(1), snapshot.TotalErrors)
}

func TestRouter_PartialReplyBeforeError(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.Router().RegisterCommand("half", handler.CommandFunc(func(context.Context, *handler.Request) (handler.Reply, error) {
		return handler.Reply{"first"}, errors.New("second failed")
	}))

	require.NoError(t, b.handleUpdate(context.Background(), commandMessage(2, "/half", 5)))
	assert.Equal(t, []string{"first", "Something went wrong - see logs for details"}, api.sent())
}

func TestStart_FailsOnBadToken(t *testing.T) {
	b, api, _ := newTestBot(t)
	api.meErr = errors.New("unauthorized")

	err := b.Start(context.Background())
	require.Error(t, err)
	assert.False(t, b.IsRunning())
}

func TestStartStop(t *testing.T) {
	b, _, _ := newTestBot(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.Start(ctx) }()

	require.Eventually(t, b.IsRunning, time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, b.Stop(context.Background()))
	assert.False(t, b.IsRunning())
}
