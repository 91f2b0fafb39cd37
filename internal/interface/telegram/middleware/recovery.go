package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
)

// PanicError is a panic in a command handler turned into an error.
type PanicError struct {
	Value     any
	Stack     []byte
	Command   string
	UserID    user.ID
	RequestID string
}

func (e *PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(e.Value)
}

// Unwrap returns the panic value when it was an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// RecoveryConfig configures the recovery middleware.
type RecoveryConfig struct {
	// Message is the reply sent instead of the handler's.
	Message string

	// OnPanic, if set, sees every recovered panic after it is logged.
	OnPanic func(ctx context.Context, p *PanicError)
}

// DefaultRecoveryConfig keeps the stack in the logs and tells the member to
// look there.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{Message: "Something went wrong - see logs for details"}
}

// RecoveryMiddleware keeps a panicking command from taking the bot down.
type RecoveryMiddleware struct {
	config RecoveryConfig
}

// NewRecoveryMiddleware creates the middleware.
func NewRecoveryMiddleware(config RecoveryConfig) *RecoveryMiddleware {
	return &RecoveryMiddleware{config: config}
}

// Message returns the reply for a recovered panic.
func (m *RecoveryMiddleware) Message() string {
	return m.config.Message
}

// Run calls fn. A panic comes back as a *PanicError; anything fn returns is
// passed through.
func (m *RecoveryMiddleware) Run(ctx context.Context, sender user.ID, command string, fn func() error) (err error) {
	defer func() {
		v := recover()
		if v == nil {
			return
		}
		p := &PanicError{
			Value:     v,
			Stack:     debug.Stack(),
			Command:   command,
			UserID:    sender,
			RequestID: RequestIDFromContext(ctx),
		}
		LoggerFromContext(ctx).Error("panic recovered in command handler",
			slog.String("command", command),
			slog.String("user_id", sender.String()),
			slog.String("error", p.Error()),
			slog.String("stack", string(p.Stack)),
		)
		if m.config.OnPanic != nil {
			m.config.OnPanic(ctx, p)
		}
		err = p
	}()
	return fn()
}
