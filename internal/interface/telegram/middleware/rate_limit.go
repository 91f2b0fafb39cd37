package middleware

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
)

// Every command takes the store lock, so one member spamming commands would
// stall everyone else. Each sender gets a token bucket of their own.

// RateLimitConfig configures the per-sender limits.
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int

	// CleanupInterval is how often full buckets are forgotten.
	CleanupInterval time.Duration

	// Whitelisted senders are never limited.
	Whitelisted []user.ID

	// Now defaults to time.Now.
	Now func() time.Time
}

// DefaultRateLimitConfig allows 20 commands a minute in bursts of 5.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 20,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// RateLimiter limits commands per sender.
type RateLimiter struct {
	config    RateLimitConfig
	limit     rate.Limit
	whitelist map[user.ID]bool

	mu          sync.Mutex
	buckets     map[user.ID]*rate.Limiter
	lastCleanup time.Time
}

// NewRateLimiter creates a limiter; zero config fields take the defaults.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	defaults := DefaultRateLimitConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = defaults.RequestsPerMinute
	}
	if config.BurstSize <= 0 {
		config.BurstSize = defaults.BurstSize
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	rl := &RateLimiter{
		config:      config,
		limit:       rate.Limit(float64(config.RequestsPerMinute) / 60),
		whitelist:   make(map[user.ID]bool, len(config.Whitelisted)),
		buckets:     make(map[user.ID]*rate.Limiter),
		lastCleanup: config.Now(),
	}
	for _, id := range config.Whitelisted {
		rl.whitelist[id] = true
	}
	return rl
}

// RateLimitResult is the outcome of Check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter time.Duration

	// ResponseMessage is the reply when the request is refused.
	ResponseMessage string
}

// Check takes one token from the sender's bucket.
func (rl *RateLimiter) Check(id user.ID) RateLimitResult {
	if rl.whitelist[id] {
		return RateLimitResult{Allowed: true}
	}
	now := rl.config.Now()

	rl.mu.Lock()
	if now.Sub(rl.lastCleanup) >= rl.config.CleanupInterval {
		rl.cleanup(now)
	}
	b, ok := rl.buckets[id]
	if !ok {
		b = rate.NewLimiter(rl.limit, rl.config.BurstSize)
		rl.buckets[id] = b
	}
	rl.mu.Unlock()

	if b.AllowN(now, 1) {
		return RateLimitResult{Allowed: true}
	}

	missing := 1 - b.TokensAt(now)
	wait := max(time.Duration(missing/float64(rl.limit)*float64(time.Second)).Round(time.Second), time.Second)
	return RateLimitResult{
		RetryAfter:      wait,
		ResponseMessage: fmt.Sprintf("Slow down! Try again in %d seconds.", int(wait.Seconds())),
	}
}

// Reset forgets the bucket of id.
func (rl *RateLimiter) Reset(id user.ID) {
	rl.mu.Lock()
	delete(rl.buckets, id)
	rl.mu.Unlock()
}

// cleanup drops buckets that have refilled completely. Caller holds mu.
func (rl *RateLimiter) cleanup(now time.Time) {
	for id, b := range rl.buckets {
		if b.TokensAt(now) >= float64(rl.config.BurstSize) {
			delete(rl.buckets, id)
		}
	}
	rl.lastCleanup = now
}
