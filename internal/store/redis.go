// redis.go -- go-redis client setup and the request rate limiter.
//
// Redis is optional here: it backs only the per-email rate limiter on the
// mutating endpoints. All authoritative state lives in Postgres; when
// REDIS_URL is unset the service runs with the limiter disabled.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited is returned by Allow when the caller is over policy or
// inside a lockout window.
var ErrRateLimited = errors.New("rate limited")

// NewRedisClient connects to Redis and pings it to verify connectivity.
// Call once at startup; the client is safe for concurrent use.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// RateLimit is a fixed-window policy: at most Max attempts per Window, then
// a Lockout during which every attempt is refused.
type RateLimit struct {
	Max     int
	Window  time.Duration
	Lockout time.Duration
}

// RedisRateLimiter implements the limiter over a shared Redis client.
type RedisRateLimiter struct {
	rdb *redis.Client
}

// NewRedisRateLimiter wraps the shared Redis client.
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb}
}

// allowScript checks lockout, counts the attempt, and trips the lockout when
// the window counter passes max -- one atomic round trip.
// KEYS[1] = counter key, KEYS[2] = lockout key
// ARGV[1] = max, ARGV[2] = window seconds, ARGV[3] = lockout seconds
// Returns 1 if allowed, 0 if refused.
var allowScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
    return 0
end
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('EXPIRE', KEYS[1], ARGV[2])
end
if count > tonumber(ARGV[1]) then
    redis.call('SET', KEYS[2], 1, 'EX', ARGV[3])
    return 0
end
return 1
`)

// Allow records one attempt for key and reports whether it is within policy.
// Returns ErrRateLimited when refused; any other error is a Redis failure,
// which callers treat as allow (availability over throttling).
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, policy RateLimit) error {
	counterKey := fmt.Sprintf("ratelimit:count:%s", key)
	lockoutKey := fmt.Sprintf("ratelimit:lock:%s", key)
	allowed, err := allowScript.Run(ctx, l.rdb, []string{counterKey, lockoutKey},
		policy.Max, int(policy.Window.Seconds()), int(policy.Lockout.Seconds())).Int64()
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if allowed == 0 {
		return ErrRateLimited
	}
	return nil
}
