// Package redis implements the Redis-backed pieces that let several bot
// replicas share one data repository: the store lock and the leaderboard cache.
//
// Key components:
//   - Cache: the prefixed client and JSON values with TTL
//   - StoreLock: a lease that serializes store operations across processes
//   - LeaderboardCache: total EXP standings in a sorted set
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	// Prefix namespaces every key, so several bots can share one server.
	Prefix string

	PoolSize    int
	DialTimeout time.Duration
	IOTimeout   time.Duration
}

// DefaultConfig returns the settings of a local Redis.
func DefaultConfig() Config {
	return Config{
		Host:        "localhost",
		Port:        6379,
		Prefix:      "sonnybot:",
		PoolSize:    10,
		DialTimeout: 5 * time.Second,
		IOTimeout:   3 * time.Second,
	}
}

// ErrCacheMiss is returned by Get for an absent key.
var ErrCacheMiss = errors.New("cache: key not found")

// Cache is a Redis client whose keys all carry one prefix.
type Cache struct {
	client *redis.Client
	prefix string
}

// NewCache creates the client. It does not dial; use Ping to check the
// server.
func NewCache(cfg Config) (*Cache, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("cache: invalid address %s:%d", cfg.Host, cfg.Port)
	}
	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.IOTimeout,
		WriteTimeout: cfg.IOTimeout,
	})
	return NewCacheFromClient(client, cfg.Prefix), nil
}

// NewCacheFromClient wraps an existing client.
func NewCacheFromClient(client *redis.Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

// Client returns the underlying client for commands Cache does not wrap.
func (c *Cache) Client() *redis.Client { return c.client }

func (c *Cache) Close() error { return c.client.Close() }

// Ping checks that the server answers.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Key namespaces name with the configured prefix.
func (c *Cache) Key(name string) string {
	return c.prefix + name
}

// Set stores value as JSON under key.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	return c.client.Set(ctx, c.Key(key), data, ttl).Err()
}

// Get decodes the JSON stored under key into dest, or returns ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	data, err := c.client.Get(ctx, c.Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return nil
}

// Delete removes keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.Key(k)
	}
	return c.client.Del(ctx, full...).Err()
}
