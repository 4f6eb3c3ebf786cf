package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hookwire/hookwire/gateway/internal/metrics"
)

// RateLimiter admits or rejects webhooks per source.
type RateLimiter interface {
	Allow(ctx context.Context, source string) (bool, error)
	Close() error
}

// KeyPrefix namespaces limiter keys; the suffix is the Discourse instance or
// the client address.
const KeyPrefix = "hookwire:ratelimit:"

// Key returns the Redis key holding the window for source.
func Key(source string) string {
	return KeyPrefix + source
}

// slidingWindow drops members scored before the window, then records the
// request when the set still has room. Members are unique per request so
// concurrent arrivals with the same timestamp are all counted.
var slidingWindow = redis.NewScript(`
	local cutoff = tonumber(ARGV[1]) - tonumber(ARGV[2])
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', cutoff)

	if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
		return 0
	end

	redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
`)

// RedisRateLimiter is a sliding window limiter backed by a Redis sorted set.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	owned  bool
}

// NewRedisRateLimiter connects to redisURL and returns a sliding window
// limiter allowing limit requests per window and key.
func NewRedisRateLimiter(redisURL string, limit int, window time.Duration) (RateLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	limiter := NewWithClient(client, limit, window)
	limiter.owned = true
	return limiter, nil
}

// NewWithClient builds a limiter on an existing client. Close does not close
// the client.
func NewWithClient(client *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
	}
}

// Allow records one webhook from source and reports whether it fits in the
// window.
func (r *RedisRateLimiter) Allow(ctx context.Context, source string) (bool, error) {
	nowMs := time.Now().UnixMilli()
	windowMs := r.window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	result, err := slidingWindow.Run(ctx, r.client, []string{Key(source)},
		nowMs, windowMs, r.limit, uuid.NewString()).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check for %s: %w", source, err)
	}

	allowed := result == 1
	if !allowed {
		metrics.RateLimitHits.Inc()
	}

	return allowed, nil
}

func (r *RedisRateLimiter) Close() error {
	if r.owned && r.client != nil {
		return r.client.Close()
	}
	return nil
}

// NoOpRateLimiter admits everything. Used when rate limiting is disabled.
type NoOpRateLimiter struct{}

func (n *NoOpRateLimiter) Allow(context.Context, string) (bool, error) {
	return true, nil
}

func (n *NoOpRateLimiter) Close() error {
	return nil
}
