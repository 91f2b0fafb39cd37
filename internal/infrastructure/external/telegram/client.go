// Package telegram implements the subset of the Telegram Bot API the bot
// needs: long polling for updates and sending replies.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JunyuanChen/SonnyBot-ng/pkg/circuitbreaker"
	"github.com/JunyuanChen/SonnyBot-ng/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig configures a Client.
type ClientConfig struct {
	Token   string
	BaseURL string

	// Timeout bounds one HTTP request. It is raised above PollingTimeout
	// when it would cut long polls short.
	Timeout time.Duration

	// PollingTimeout is the getUpdates long poll in seconds.
	PollingTimeout int

	Logger *slog.Logger
	Debug  bool
}

// DefaultClientConfig returns the configuration used by the bot process.
func DefaultClientConfig(token string) ClientConfig {
	return ClientConfig{
		Token:          token,
		BaseURL:        "https://api.telegram.org",
		Timeout:        60 * time.Second,
		PollingTimeout: 30,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TELEGRAM API TYPES
// ══════════════════════════════════════════════════════════════════════════════

// Update represents a Telegram update.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents a Telegram message.
type Message struct {
	MessageID int64           `json:"message_id"`
	From      *User           `json:"from,omitempty"`
	Chat      *Chat           `json:"chat"`
	Date      int64           `json:"date"`
	Text      string          `json:"text,omitempty"`
	Entities  []MessageEntity `json:"entities,omitempty"`

	// Reply information
	ReplyToMessage *Message `json:"reply_to_message,omitempty"`

	// NewChatMembers is set on member join service messages.
	NewChatMembers []User `json:"new_chat_members,omitempty"`
}

// User represents a Telegram user.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// FullName returns the user's full name.
func (u *User) FullName() string {
	if u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	return u.FirstName
}

// Chat represents a Telegram chat.
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
}

// MessageEntity represents a message entity (command, mention, etc.).
type MessageEntity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// APIResponse represents a Telegram API response.
type APIResponse struct {
	OK          bool                `json:"ok"`
	Result      json.RawMessage     `json:"result,omitempty"`
	Description string              `json:"description,omitempty"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Parameters  *ResponseParameters `json:"parameters,omitempty"`
}

// ResponseParameters contains additional error parameters.
type ResponseParameters struct {
	RetryAfter int `json:"retry_after,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the Telegram Bot API client.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	retrier    *retry.Retrier
	breaker    *circuitbreaker.Breaker
}

// NewClient creates a new Telegram client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.telegram.org"
	}
	if config.PollingTimeout <= 0 {
		config.PollingTimeout = 30
	}
	if config.Timeout <= time.Duration(config.PollingTimeout)*time.Second {
		config.Timeout = time.Duration(config.PollingTimeout+30) * time.Second
	}
	logger := config.Logger.With("component", "telegram")

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
		retrier:    retry.TelegramRetrier().With(retry.WithRetryIf(isRetryableError)),
		breaker:    circuitbreaker.TelegramAPIBreaker(logger),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// METHODS
// ══════════════════════════════════════════════════════════════════════════════

type replyParameters struct {
	MessageID                int64 `json:"message_id"`
	AllowSendingWithoutReply bool  `json:"allow_sending_without_reply"`
}

type sendMessageRequest struct {
	ChatID          int64            `json:"chat_id"`
	Text            string           `json:"text"`
	ParseMode       string           `json:"parse_mode,omitempty"`
	ReplyParameters *replyParameters `json:"reply_parameters,omitempty"`
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Limit          int      `json:"limit,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

func (c *Client) sendMessage(ctx context.Context, req sendMessageRequest) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.callAPI(ctx, "sendMessage", req, nil)
	})
	if err != nil {
		return fmt.Errorf("send message to chat %d: %w", req.ChatID, err)
	}
	return nil
}

// SendText sends plain text to a chat.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	return c.sendMessage(ctx, sendMessageRequest{ChatID: chatID, Text: text})
}

// Reply answers msg in its chat. text is HTML. The reply is still sent if
// msg has been deleted meanwhile.
func (c *Client) Reply(ctx context.Context, msg *Message, text string) error {
	return c.sendMessage(ctx, sendMessageRequest{
		ChatID:    msg.Chat.ID,
		Text:      text,
		ParseMode: "HTML",
		ReplyParameters: &replyParameters{
			MessageID:                msg.MessageID,
			AllowSendingWithoutReply: true,
		},
	})
}

// getUpdates long polls for message updates after offset.
func (c *Client) getUpdates(ctx context.Context, offset int64) ([]Update, error) {
	var updates []Update
	err := c.callAPI(ctx, "getUpdates", getUpdatesRequest{
		Offset:         offset,
		Limit:          100,
		Timeout:        c.config.PollingTimeout,
		AllowedUpdates: []string{"message"},
	}, &updates)
	if err != nil {
		return nil, fmt.Errorf("get updates: %w", err)
	}
	return updates, nil
}

// GetMe returns the bot's own account; it doubles as a token check.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var user User
	if err := c.callAPI(ctx, "getMe", nil, &user); err != nil {
		return nil, fmt.Errorf("get me: %w", err)
	}
	return &user, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// API CALL HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// callAPI makes a call to the Telegram Bot API with retries.
func (c *Client) callAPI(ctx context.Context, method string, body any, result any) error {
	return c.retrier.Do(ctx, func(ctx context.Context) error {
		err := c.doAPICall(ctx, method, body, result)

		// Honour flood control before the retrier's own backoff.
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			wait := min(time.Duration(apiErr.RetryAfter)*time.Second, 30*time.Second)
			select {
			case <-ctx.Done():
				return retry.Permanent(ctx.Err())
			case <-time.After(wait):
			}
		}
		return err
	})
}

// doAPICall performs one request. Failures that another attempt cannot fix
// come back wrapped with retry.Permanent.
func (c *Client) doAPICall(ctx context.Context, method string, body any, result any) error {
	payload := []byte("{}")
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return retry.Permanent(fmt.Errorf("encode %s: %w", method, err))
		}
	}

	endpoint := c.config.BaseURL + "/bot" + c.config.Token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build %s request: %w", method, err))
	}
	req.Header.Set("Content-Type", "application/json")

	if c.config.Debug {
		c.logger.Debug("telegram api call", "method", method)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope APIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&envelope); err != nil {
		// Proxies in front of the API answer 5xx with HTML.
		if resp.StatusCode >= http.StatusInternalServerError {
			return &APIError{Code: resp.StatusCode, Description: resp.Status}
		}
		return fmt.Errorf("decode %s response: %w", method, err)
	}

	if !envelope.OK {
		apiErr := &APIError{Code: envelope.ErrorCode, Description: envelope.Description}
		if p := envelope.Parameters; p != nil {
			apiErr.RetryAfter = p.RetryAfter
		}
		return apiErr
	}

	if result == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return retry.Permanent(fmt.Errorf("decode %s result: %w", method, err))
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// APIError represents a Telegram API error.
type APIError struct {
	Code        int
	Description string
	RetryAfter  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// isRetryableError checks if an error is retryable.
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "reset")
}

// ══════════════════════════════════════════════════════════════════════════════
// LONG POLLING RUNNER
// ══════════════════════════════════════════════════════════════════════════════

// UpdateHandler is a function that handles a Telegram update.
type UpdateHandler func(ctx context.Context, update *Update) error

// StartPolling long polls for updates until ctx is cancelled. Updates are
// handed to handler one at a time in arrival order; a handler error is
// logged and the update is still acknowledged.
func (c *Client) StartPolling(ctx context.Context, handler UpdateHandler) error {
	c.logger.Info("starting telegram long polling")
	defer c.logger.Info("stopping telegram long polling")

	var offset int64
	for ctx.Err() == nil {
		updates, err := c.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Error("failed to get updates", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for i := range updates {
			update := &updates[i]
			offset = max(offset, update.UpdateID+1)
			if err := handler(ctx, update); err != nil {
				c.logger.Error("failed to handle update",
					"update_id", update.UpdateID,
					"error", err,
				)
			}
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UTILITY METHODS
// ══════════════════════════════════════════════════════════════════════════════

// commandEntity returns the bot_command entity that starts msg, if any.
func commandEntity(msg *Message) (MessageEntity, bool) {
	if msg == nil {
		return MessageEntity{}, false
	}
	for _, e := range msg.Entities {
		if e.Type == "bot_command" && e.Offset == 0 && e.Length > 1 && e.Length <= len(msg.Text) {
			return e, true
		}
	}
	return MessageEntity{}, false
}

// ExtractCommand returns the lower-cased command of msg without the slash or
// a trailing @botname, or "" when msg is not a command.
func ExtractCommand(msg *Message) string {
	e, ok := commandEntity(msg)
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(msg.Text[1:e.Length], "@")
	return strings.ToLower(name)
}

// ExtractCommandArgs returns the whitespace separated words after the command.
func ExtractCommandArgs(msg *Message) []string {
	e, ok := commandEntity(msg)
	if !ok {
		return nil
	}
	return strings.Fields(msg.Text[e.Length:])
}
