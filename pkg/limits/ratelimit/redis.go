package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
)

// RedisBackend counts requests in fixed windows stored in Redis. Each
// window allows RequestsPerSecond times the window length, at least one.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
	window time.Duration
	limit  int64
	now    func() time.Time
}

// NewRedisBackend connects to the configured Redis server.
func NewRedisBackend(cfg config.RedisConfig, rate float64) (*RedisBackend, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      []string{addr},
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: 2,
	})
	return newRedisBackend(client, cfg, rate), nil
}

func newRedisBackend(client redis.UniversalClient, cfg config.RedisConfig, rate float64) *RedisBackend {
	window := cfg.Window
	if window <= 0 {
		window = config.DefaultRateLimitRedisWindow
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = config.DefaultRateLimitRedisPrefix
	}
	limit := int64(math.Ceil(rate*window.Seconds() - 1e-9))
	if limit < 1 {
		limit = 1
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
		window: window,
		limit:  limit,
		now:    time.Now,
	}
}

// Allow increments key's counter for the current window.
func (r *RedisBackend) Allow(ctx context.Context, key string) (*CheckResult, error) {
	now := r.now()
	slot := now.UnixNano() / int64(r.window)
	redisKey := fmt.Sprintf("%s:%s:%d", r.prefix, key, slot)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, 2*r.window)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limit: %w", err)
	}

	count := incr.Val()
	if count <= r.limit {
		return &CheckResult{
			Allowed:   true,
			Limit:     r.limit,
			Remaining: r.limit - count,
		}, nil
	}
	windowEnd := time.Unix(0, (slot+1)*int64(r.window))
	return &CheckResult{
		Allowed:    false,
		Reason:     "request rate limit exceeded",
		Limit:      r.limit,
		RetryAfter: windowEnd.Sub(now),
	}, nil
}

// Close closes the Redis client.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
