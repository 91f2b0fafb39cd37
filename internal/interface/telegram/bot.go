package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JunyuanChen/SonnyBot-ng/config"
	"github.com/JunyuanChen/SonnyBot-ng/internal/application/command"
	"github.com/JunyuanChen/SonnyBot-ng/internal/application/query"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/external/telegram"
	"github.com/JunyuanChen/SonnyBot-ng/internal/interface/telegram/handler"
	"github.com/JunyuanChen/SonnyBot-ng/internal/interface/telegram/middleware"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOT CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// BotConfig contains configuration for the Telegram bot.
type BotConfig struct {
	// Token is the Telegram Bot API token.
	Token string

	// PollingTimeout is the timeout for long polling (in seconds).
	PollingTimeout int

	// Debug enables debug logging.
	Debug bool

	// Logger for structured logging.
	Logger *slog.Logger

	// AdminIDs may run the admin commands.
	AdminIDs []user.ID

	// RequestsPerMinute and BurstSize bound the commands of one member.
	RequestsPerMinute int
	BurstSize         int

	// LeaderboardLimit caps the size a member may ask /leaderboard for.
	LeaderboardLimit int

	// MaxConcurrentUpdates limits concurrent update processing.
	MaxConcurrentUpdates int

	// GracefulShutdownTimeout is the timeout for graceful shutdown.
	GracefulShutdownTimeout time.Duration

	// Features turns optional commands and chat events off. Nil enables
	// everything.
	Features *config.FeatureFlags

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// commandFeatures maps the commands behind a feature flag to the flag.
var commandFeatures = map[string]string{
	"gamble":             config.FeatureGamble,
	"transactcoins":      config.FeatureTransfers,
	"connectdmojaccount": config.FeatureDMOJ,
	"getdmojaccount":     config.FeatureDMOJ,
	"fetchcccprogress":   config.FeatureDMOJ,
	"cccprogresslist":    config.FeatureDMOJ,
}

// DefaultBotConfig returns sensible defaults.
func DefaultBotConfig(token string) BotConfig {
	return BotConfig{
		Token:                   token,
		PollingTimeout:          30,
		Logger:                  slog.Default(),
		RequestsPerMinute:       30,
		BurstSize:               10,
		LeaderboardLimit:        50,
		MaxConcurrentUpdates:    100,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// BotDependencies contains the application handlers the bot exposes.
type BotDependencies struct {
	// Commands
	ChangeExp          *command.ChangeExpHandler
	ChangeCoins        *command.ChangeCoinsHandler
	ChangeMessageCount *command.ChangeMessageCountHandler
	TransactCoins      *command.TransactCoinsHandler
	Gamble             *command.GambleHandler
	GiveBooster        *command.GiveBoosterHandler
	ConnectDMOJ        *command.ConnectDMOJHandler
	FetchCCCProgress   *command.FetchCCCProgressHandler
	ResetUserStat      *command.ResetUserStatHandler
	RemoveUser         *command.RemoveUserHandler
	SyncData           *command.SyncDataHandler
	RecordMessage      *command.RecordMessageHandler
	MemberJoined       *command.MemberJoinedHandler

	// Queries
	Stat            *query.StatHandler
	Leaderboard     *query.LeaderboardHandler
	CCCProgressList *query.CCCProgressListHandler
	DMOJAccount     *query.DMOJAccountHandler
}

// API is the part of the Telegram client the bot uses.
type API interface {
	Sender
	GetMe(ctx context.Context) (*telegram.User, error)
	StartPolling(ctx context.Context, handler telegram.UpdateHandler) error
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT
// ══════════════════════════════════════════════════════════════════════════════

// Bot is the main Telegram bot controller.
type Bot struct {
	config BotConfig
	api    API
	router *Router
	events *handler.EventsHandler
	logger *slog.Logger

	auth    *middleware.AuthMiddleware
	metrics *middleware.MetricsMiddleware

	// Lifecycle management
	running   bool
	runningMu sync.RWMutex
	updateSem chan struct{}
	lanes     *lanes
	wg        sync.WaitGroup
}

// NewBot creates a new Telegram bot with all dependencies.
func NewBot(cfg BotConfig, deps BotDependencies) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	clientConfig := telegram.DefaultClientConfig(cfg.Token)
	clientConfig.Logger = cfg.Logger
	clientConfig.Debug = cfg.Debug
	if cfg.PollingTimeout > 0 {
		clientConfig.PollingTimeout = cfg.PollingTimeout
	}

	return newBot(cfg, telegram.NewClient(clientConfig), deps), nil
}

func newBot(cfg BotConfig, api API, deps BotDependencies) *Bot {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxConcurrentUpdates <= 0 {
		cfg.MaxConcurrentUpdates = 100
	}
	if cfg.GracefulShutdownTimeout <= 0 {
		cfg.GracefulShutdownTimeout = 30 * time.Second
	}

	authConfig := middleware.DefaultAuthConfig()
	authConfig.AdminIDs = cfg.AdminIDs

	limitConfig := middleware.DefaultRateLimitConfig()
	if cfg.RequestsPerMinute > 0 {
		limitConfig.RequestsPerMinute = cfg.RequestsPerMinute
	}
	if cfg.BurstSize > 0 {
		limitConfig.BurstSize = cfg.BurstSize
	}
	limitConfig.Whitelisted = cfg.AdminIDs

	metricsConfig := middleware.DefaultMetricsConfig()
	metricsConfig.OnSlowRequest = func(command string, d time.Duration) {
		cfg.Logger.Warn("slow command", slog.String("command", command), slog.Duration("duration", d))
	}

	b := &Bot{
		config:    cfg,
		api:       api,
		events:    handler.NewEventsHandler(deps.RecordMessage, deps.MemberJoined),
		logger:    cfg.Logger,
		auth:      middleware.NewAuthMiddleware(authConfig),
		metrics:   middleware.NewMetricsMiddleware(metricsConfig),
		updateSem: make(chan struct{}, cfg.MaxConcurrentUpdates),
		lanes:     newLanes(),
	}
	b.router = NewRouter(api, RouterConfig{
		Logger:      cfg.Logger,
		Auth:        b.auth,
		RateLimiter: middleware.NewRateLimiter(limitConfig),
		Recovery:    middleware.NewRecoveryMiddleware(middleware.DefaultRecoveryConfig()),
		Metrics:     b.metrics,
		Enabled: func(command string, sender user.ID) bool {
			feature, ok := commandFeatures[command]
			return !ok || b.featureEnabled(feature, sender)
		},
	})
	b.registerCommands(deps)
	return b
}

// featureEnabled reports whether feature is on for id.
func (b *Bot) featureEnabled(feature string, id user.ID) bool {
	if b.config.Features == nil {
		return true
	}
	return b.config.Features.IsEnabled(feature, &config.FeatureContext{
		UserID:  int64(id),
		IsAdmin: b.auth.IsAdmin(id),
	})
}

func (b *Bot) registerCommands(deps BotDependencies) {
	r := b.router

	r.RegisterCommand("stat", handler.NewStatHandler(deps.Stat))
	r.RegisterCommand("leaderboard", handler.NewLeaderboardHandler(deps.Leaderboard, b.config.LeaderboardLimit))
	r.RegisterCommand("transactcoins", handler.NewTransactCoinsHandler(deps.TransactCoins))
	r.RegisterCommand("gamble", handler.NewGambleHandler(deps.Gamble))
	r.RegisterCommand("connectdmojaccount", handler.NewConnectDMOJHandler(deps.ConnectDMOJ, deps.DMOJAccount))
	r.RegisterCommand("getdmojaccount", handler.NewGetDMOJAccountHandler(deps.DMOJAccount))
	r.RegisterCommand("fetchcccprogress", handler.NewFetchCCCProgressHandler(deps.FetchCCCProgress))
	r.RegisterCommand("cccprogresslist", handler.NewCCCProgressListHandler(deps.CCCProgressList))
	r.RegisterCommand("help", handler.NewHelpHandler(func(s handler.Subject) bool {
		return b.auth.IsAdmin(s.ID)
	}))

	// Admin only; gated by the auth middleware.
	r.RegisterCommand("changeexp", handler.NewChangeExpHandler(deps.ChangeExp))
	r.RegisterCommand("changecoins", handler.NewChangeCoinsHandler(deps.ChangeCoins))
	r.RegisterCommand("changemessagecount", handler.NewChangeMessageCountHandler(deps.ChangeMessageCount))
	r.RegisterCommand("resetuserstat", handler.NewResetUserStatHandler(deps.ResetUserStat))
	r.RegisterCommand("removeuser", handler.NewRemoveUserHandler(deps.RemoveUser))
	r.RegisterCommand("giveboost", handler.NewGiveBoostHandler(deps.GiveBooster))
	r.RegisterCommand("syncdata", handler.NewSyncDataHandler(deps.SyncData))
	r.RegisterCommand("start", handler.CommandFunc(func(ctx context.Context, req *handler.Request) (handler.Reply, error) {
		return handler.Reply{fmt.Sprintf("Hi %s! Chat here to earn EXP and coins. Send /help to see what I can do.",
			req.Sender.Mention())}, nil
	}))
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE MANAGEMENT
// ══════════════════════════════════════════════════════════════════════════════

// Start verifies the token and polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	b.runningMu.Lock()
	if b.running {
		b.runningMu.Unlock()
		return errors.New("bot is already running")
	}
	b.running = true
	b.runningMu.Unlock()

	b.logger.Info("starting telegram bot",
		slog.Bool("debug", b.config.Debug),
		slog.Int("admins", len(b.config.AdminIDs)),
	)

	if err := b.verifyToken(ctx); err != nil {
		b.runningMu.Lock()
		b.running = false
		b.runningMu.Unlock()
		return fmt.Errorf("failed to verify bot token: %w", err)
	}

	return b.api.StartPolling(ctx, b.dispatch)
}

// Stop waits for in-flight updates and logs the command metrics.
func (b *Bot) Stop(ctx context.Context) error {
	b.runningMu.Lock()
	if !b.running {
		b.runningMu.Unlock()
		return nil
	}
	b.running = false
	b.runningMu.Unlock()

	b.logger.Info("stopping telegram bot")

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	defer b.logMetrics()
	select {
	case <-done:
		b.logger.Info("all handlers completed gracefully")
	case <-time.After(b.config.GracefulShutdownTimeout):
		b.logger.Warn("graceful shutdown timeout exceeded")
	case <-ctx.Done():
		b.logger.Warn("context cancelled during shutdown")
		return ctx.Err()
	}
	return nil
}

// IsRunning returns whether the bot is currently running.
func (b *Bot) IsRunning() bool {
	b.runningMu.RLock()
	defer b.runningMu.RUnlock()
	return b.running
}

// Router returns the command router.
func (b *Bot) Router() *Router {
	return b.router
}

// Metrics returns the command metrics so far.
func (b *Bot) Metrics() middleware.MetricsSnapshot {
	return b.metrics.Snapshot()
}

func (b *Bot) verifyToken(ctx context.Context) error {
	me, err := b.api.GetMe(ctx)
	if err != nil {
		return err
	}
	b.logger.Info("bot verified",
		slog.Int64("id", me.ID),
		slog.String("username", me.Username),
	)
	return nil
}

func (b *Bot) logMetrics() {
	s := b.metrics.Snapshot()
	b.logger.Info("command metrics",
		slog.Int64("total", s.TotalRequests),
		slog.Int64("errors", s.TotalErrors),
	)
	for _, c := range s.Commands {
		b.logger.Info("command metrics",
			slog.String("command", c.Name),
			slog.Int64("count", c.Count),
			slog.Int64("errors", c.Errors),
			slog.Duration("avg", c.AvgDuration),
			slog.Duration("max", c.MaxDuration),
		)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE HANDLING
// ══════════════════════════════════════════════════════════════════════════════

// dispatch hands an update to a worker so a slow command does not hold up
// polling. It blocks while MaxConcurrentUpdates updates are in flight.
// Updates from the same sender are handled one at a time, in arrival order.
func (b *Bot) dispatch(ctx context.Context, update *telegram.Update) error {
	select {
	case b.updateSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	// The earlier update of this sender already holds a slot, so waiting on
	// it cannot starve the semaphore.
	prev, done := b.lanes.enter(laneKey(update))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() { <-b.updateSem }()
		defer done()
		<-prev

		// Handlers outlive the polling context so shutdown lets them finish.
		if err := b.handleUpdate(context.WithoutCancel(ctx), update); err != nil {
			b.logger.Error("failed to handle update",
				slog.Int64("update_id", update.UpdateID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

// handleUpdate processes a single Telegram update.
func (b *Bot) handleUpdate(ctx context.Context, update *telegram.Update) error {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return nil
	}

	requestID := uuid.NewString()
	logger := b.logger.With(
		slog.String("request_id", requestID),
		slog.Int64("update_id", update.UpdateID),
		slog.Int64("user_id", msg.From.ID),
	)
	ctx = middleware.ContextWithRequestID(ctx, requestID)
	ctx = middleware.ContextWithLogger(ctx, logger)
	ctx = middleware.ContextWithUserID(ctx, user.ID(msg.From.ID))

	var errs []error
	greet := b.featureEnabled(config.FeatureJoinGreeting, user.ID(msg.From.ID))
	for i := range msg.NewChatMembers {
		member := &msg.NewChatMembers[i]
		if member.IsBot {
			continue
		}
		subject := handler.SubjectOf(member)
		errs = append(errs, b.router.HandleEvent(ctx, msg, subject.ID, "member_joined",
			func(ctx context.Context) (handler.Reply, error) {
				reply, err := b.events.OnJoin(ctx, subject)
				if !greet {
					reply = nil
				}
				return reply, err
			}))
	}

	if msg.From.IsBot {
		return errors.Join(errs...)
	}

	if req := handler.NewRequest(msg, b.config.Now()); req != nil {
		if b.config.Debug {
			logger.Debug("command received", slog.String("command", req.Command), slog.Any("args", req.Args))
		}
		errs = append(errs, b.router.HandleCommand(ctx, msg, req))
		return errors.Join(errs...)
	}

	if msg.Text != "" && b.featureEnabled(config.FeatureMessageRewards, user.ID(msg.From.ID)) {
		author := handler.SubjectOf(msg.From)
		errs = append(errs, b.router.HandleEvent(ctx, msg, author.ID, "message",
			func(ctx context.Context) (handler.Reply, error) {
				return b.events.OnMessage(ctx, author, msg.Text)
			}))
	}
	return errors.Join(errs...)
}
