// Package telegram is the chat surface of the bot. It receives Telegram
// updates, routes commands and chat events to handlers and sends the replies.
package telegram

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/shared"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/external/telegram"
	"github.com/JunyuanChen/SonnyBot-ng/internal/interface/telegram/handler"
	"github.com/JunyuanChen/SonnyBot-ng/internal/interface/telegram/middleware"
	"github.com/JunyuanChen/SonnyBot-ng/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROUTER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Sender delivers replies to the chat a message came from.
type Sender interface {
	Reply(ctx context.Context, msg *telegram.Message, text string) error
}

// RouterConfig contains configuration for the router. Nil middlewares are
// replaced by their defaults.
type RouterConfig struct {
	Logger *slog.Logger

	Auth        *middleware.AuthMiddleware
	RateLimiter *middleware.RateLimiter
	Recovery    *middleware.RecoveryMiddleware
	Metrics     *middleware.MetricsMiddleware

	// Enabled reports whether sender may use command at all. Nil enables
	// every command.
	Enabled func(command string, sender user.ID) bool
}

// DisabledMessage is the reply to a command turned off by a feature flag.
const DisabledMessage = "This command is currently disabled."

// ══════════════════════════════════════════════════════════════════════════════
// ROUTER
// ══════════════════════════════════════════════════════════════════════════════

// Router dispatches commands to their handlers.
type Router struct {
	sender Sender
	logger *slog.Logger

	auth        *middleware.AuthMiddleware
	rateLimiter *middleware.RateLimiter
	recovery    *middleware.RecoveryMiddleware
	metrics     *middleware.MetricsMiddleware
	enabled     func(command string, sender user.ID) bool

	mu       sync.RWMutex
	commands map[string]handler.Command
}

// NewRouter creates a router that answers through sender.
func NewRouter(sender Sender, config RouterConfig) *Router {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Auth == nil {
		config.Auth = middleware.NewAuthMiddleware(middleware.DefaultAuthConfig())
	}
	if config.RateLimiter == nil {
		config.RateLimiter = middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
	}
	if config.Recovery == nil {
		config.Recovery = middleware.NewRecoveryMiddleware(middleware.DefaultRecoveryConfig())
	}
	if config.Metrics == nil {
		config.Metrics = middleware.NewMetricsMiddleware(middleware.DefaultMetricsConfig())
	}

	return &Router{
		sender:      sender,
		logger:      config.Logger,
		auth:        config.Auth,
		rateLimiter: config.RateLimiter,
		recovery:    config.Recovery,
		metrics:     config.Metrics,
		enabled:     config.Enabled,
		commands:    make(map[string]handler.Command),
	}
}

// RegisterCommand registers h under command, without the leading slash.
func (r *Router) RegisterCommand(command string, h handler.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[strings.ToLower(strings.TrimPrefix(command, "/"))] = h
}

// RegisteredCommands returns the registered command names, sorted.
func (r *Router) RegisteredCommands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCH
// ══════════════════════════════════════════════════════════════════════════════

// HandleCommand runs the handler of req.Command and replies to msg. Commands
// nobody registered are ignored, since a group chat carries the commands of
// other bots too.
func (r *Router) HandleCommand(ctx context.Context, msg *telegram.Message, req *handler.Request) error {
	r.mu.RLock()
	h, ok := r.commands[req.Command]
	r.mu.RUnlock()
	if !ok {
		r.loggerFor(ctx).Debug("ignoring unknown command", slog.String("command", req.Command))
		return nil
	}

	if res := r.rateLimiter.Check(req.Sender.ID); !res.Allowed {
		return r.send(ctx, msg, handler.Reply{res.ResponseMessage})
	}
	if res := r.auth.Authorize(req.Sender.ID, req.Command); !res.ShouldContinue {
		return r.send(ctx, msg, handler.Reply{res.ResponseMessage})
	}
	if r.enabled != nil && !r.enabled(req.Command, req.Sender.ID) {
		return r.send(ctx, msg, handler.Reply{DisabledMessage})
	}

	return r.run(ctx, msg, req.Sender.ID, req.Command, func(ctx context.Context) (handler.Reply, error) {
		return h.Handle(ctx, req)
	})
}

// HandleEvent runs a chat event handler, such as the reward of a plain
// message, with the same recovery and error replies as commands.
func (r *Router) HandleEvent(
	ctx context.Context,
	msg *telegram.Message,
	sender user.ID,
	name string,
	fn func(ctx context.Context) (handler.Reply, error),
) error {
	return r.run(ctx, msg, sender, name, fn)
}

func (r *Router) run(
	ctx context.Context,
	msg *telegram.Message,
	sender user.ID,
	name string,
	fn func(ctx context.Context) (handler.Reply, error),
) error {
	rc := r.metrics.Start(name)

	var reply handler.Reply
	err := r.recovery.Run(ctx, sender, name, func() error {
		var err error
		reply, err = fn(ctx)
		return err
	})
	rc.End(err)

	var p *middleware.PanicError
	if errors.As(err, &p) {
		return r.send(ctx, msg, handler.Reply{r.recovery.Message()})
	}

	if err != nil {
		reply = reply.Add(r.errorReply(ctx, name, err))
	}
	return r.send(ctx, msg, reply)
}

// errorReply logs err and returns what the user is told about it.
func (r *Router) errorReply(ctx context.Context, name string, err error) string {
	var ue *handler.UsageError
	if errors.As(err, &ue) {
		return "Usage: " + presenter.Escape(ue.Usage)
	}

	logger := r.loggerFor(ctx)
	attrs := []any{slog.String("command", name), slog.String("error", err.Error())}
	switch {
	case shared.IsRejected(err), shared.IsNotFound(err):
		logger.Debug("command rejected", attrs...)
	case shared.IsTimeout(err):
		logger.Warn("command timed out", attrs...)
	default:
		logger.Error("command failed", attrs...)
	}
	return presenter.ErrorReply(err)
}

// loggerFor prefers the per update logger carried by ctx.
func (r *Router) loggerFor(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(middleware.LoggerContextKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return r.logger
}

// send delivers every message of reply in order. A failed message does not
// stop the ones after it.
func (r *Router) send(ctx context.Context, msg *telegram.Message, reply handler.Reply) error {
	var errs []error
	for _, text := range reply {
		if text == "" {
			continue
		}
		if err := r.sender.Reply(ctx, msg, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
