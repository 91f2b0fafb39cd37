// Package dmoj fetches competition progress from the DMOJ online judge.
// The judge has no public API for solved problems, so the client scrapes the
// user's "solved" page.
package dmoj

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/achievement"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/shared"
	"github.com/JunyuanChen/SonnyBot-ng/pkg/circuitbreaker"
	"github.com/JunyuanChen/SonnyBot-ng/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the DMOJ client.
type ClientConfig struct {
	// BaseURL is the judge root, e.g. https://dmoj.ca
	BaseURL string

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// MaxRetries is the number of attempts per fetch.
	MaxRetries int

	RateLimiterConfig RateLimiterConfig

	// UserAgent identifies the bot to the judge.
	UserAgent string

	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:           "https://dmoj.ca",
		Timeout:           15 * time.Second,
		MaxRetries:        3,
		RateLimiterConfig: DefaultRateLimiterConfig(),
		UserAgent:         "SonnyBot-ng (+https://github.com/JunyuanChen/SonnyBot-ng)",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// statusError is a non-2xx answer from the judge.
type statusError struct {
	Code       int
	RetryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Client is the DMOJ scraper. It implements achievement.Fetcher.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	breaker     *circuitbreaker.Breaker
	retrier     *retry.Retrier
}

var _ achievement.Fetcher = (*Client)(nil)

// NewClient creates a new DMOJ client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	logger := config.Logger.With("component", "dmoj")

	c := &Client{
		config:      config,
		httpClient:  &http.Client{Timeout: config.Timeout},
		logger:      logger,
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
		breaker:     circuitbreaker.DMOJBreaker(logger),
	}
	c.retrier = retry.DMOJRetrier(config.MaxRetries).With(
		retry.WithRetryIf(isRetryable),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			logger.Debug("retrying judge request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		}),
	)
	return c
}

// SolvedURL returns the page listing username's solved problems.
func (c *Client) SolvedURL(username string) string {
	return c.config.BaseURL + "/user/" + url.PathEscape(username) + "/solved"
}

// FetchProgress returns the CCC percentages on username's profile. An unknown
// user yields an empty map. Every other failure is a network error.
func (c *Client) FetchProgress(ctx context.Context, username string) (map[string]int, error) {
	start := time.Now()

	progress, err := retry.DoWithData(ctx, c.retrier, func(ctx context.Context) (map[string]int, error) {
		var result map[string]int
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			result, err = c.fetchOnce(ctx, username)
			return err
		})
		return result, err
	})
	if err != nil {
		c.logger.Error("failed to fetch DMOJ progress",
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
		return nil, shared.WrapError("dmoj", "FetchProgress", shared.ErrNetwork,
			"Network errors encountered - see logs for details", err)
	}

	c.logger.Debug("fetched DMOJ progress",
		slog.String("username", username),
		slog.Int("problems", len(progress)),
		slog.Duration("duration", time.Since(start)),
	)
	return progress, nil
}

func (c *Client) fetchOnce(ctx context.Context, username string) (map[string]int, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.SolvedURL(username), nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "text/html")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return map[string]int{}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.rateLimiter.RecordRateLimitHit(retryAfter)
		return nil, &statusError{Code: resp.StatusCode, RetryAfter: retryAfter}
	case resp.StatusCode >= 300:
		return nil, &statusError{Code: resp.StatusCode}
	}

	progress, err := ParseSolved(resp.Body)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	return progress, nil
}

// isRetryable retries transport failures, 429 and 5xx.
func isRetryable(err error) bool {
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}

func parseRetryAfter(v string) time.Duration {
	if seconds, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return 30 * time.Second
}
