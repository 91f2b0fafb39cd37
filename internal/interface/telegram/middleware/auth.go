// Package middleware contains Telegram bot middlewares for request processing.
// They run around every command before it reaches its handler: admin checks,
// rate limiting, panic recovery and metrics.
package middleware

import (
	"context"
	"log/slog"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT KEYS
// Used to pass data through the request context.
// ══════════════════════════════════════════════════════════════════════════════

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// UserIDContextKey is the context key for the sender of the update.
	UserIDContextKey contextKey = "user_id"

	// RequestIDContextKey is the context key for the update correlation id.
	RequestIDContextKey contextKey = "request_id"

	// LoggerContextKey is the context key for the request scoped logger.
	LoggerContextKey contextKey = "logger"
)

// ContextWithUserID adds the sender to the context.
func ContextWithUserID(ctx context.Context, id user.ID) context.Context {
	return context.WithValue(ctx, UserIDContextKey, id)
}

// UserIDFromContext returns the sender, or 0 if not set.
func UserIDFromContext(ctx context.Context) user.ID {
	id, _ := ctx.Value(UserIDContextKey).(user.ID)
	return id
}

// ContextWithRequestID adds the update correlation id to the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDContextKey, id)
}

// RequestIDFromContext returns the correlation id, or "" if not set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDContextKey).(string)
	return id
}

// ContextWithLogger stores a request scoped logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// LoggerFromContext returns the request scoped logger, or slog.Default().
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN AUTHORIZATION
// Admin commands mutate other users' records. Only configured user ids may
// run them.
// ══════════════════════════════════════════════════════════════════════════════

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	// AdminIDs may run admin commands.
	AdminIDs []user.ID

	// AdminCommands need an admin sender.
	AdminCommands []string

	// DeniedMessage is the reply to a non-admin.
	DeniedMessage string
}

// DefaultAuthConfig returns the admin command set with no admins configured.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		AdminCommands: []string{
			"changeexp", "changecoins", "changemessagecount",
			"resetuserstat", "removeuser", "giveboost", "syncdata",
		},
		DeniedMessage: "You don't have permission to use this command!",
	}
}

// AuthMiddleware decides whether a sender may run a command.
type AuthMiddleware struct {
	admins   map[user.ID]struct{}
	commands map[string]struct{}
	denied   string
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(config AuthConfig) *AuthMiddleware {
	m := &AuthMiddleware{
		admins:   make(map[user.ID]struct{}, len(config.AdminIDs)),
		commands: make(map[string]struct{}, len(config.AdminCommands)),
		denied:   config.DeniedMessage,
	}
	for _, id := range config.AdminIDs {
		m.admins[id] = struct{}{}
	}
	for _, c := range config.AdminCommands {
		m.commands[c] = struct{}{}
	}
	return m
}

// AuthResult contains the result of authorization.
type AuthResult struct {
	// ShouldContinue indicates if the handler should run.
	ShouldContinue bool

	// ResponseMessage is the reply when ShouldContinue is false.
	ResponseMessage string
}

// Authorize checks sender against command.
func (m *AuthMiddleware) Authorize(sender user.ID, command string) AuthResult {
	if !m.RequiresAdmin(command) || m.IsAdmin(sender) {
		return AuthResult{ShouldContinue: true}
	}
	return AuthResult{ResponseMessage: m.denied}
}

// RequiresAdmin reports whether command is an admin command.
func (m *AuthMiddleware) RequiresAdmin(command string) bool {
	_, ok := m.commands[command]
	return ok
}

// IsAdmin reports whether id is a configured admin.
func (m *AuthMiddleware) IsAdmin(id user.ID) bool {
	_, ok := m.admins[id]
	return ok
}
