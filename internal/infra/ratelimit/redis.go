package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"certledger/internal/domain"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "certledger:ratelimit:"

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces counters when several deployments share a database.
	Prefix string
	Now    func() time.Time
}

// RedisLimiter keeps one counter per key with the window length as its TTL,
// so every replica pointing at the same database shares the budget.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// windowScript counts a hit and returns {count, ttl_ms}. The expiry is set in
// the same call as the first INCR; a counter found without one is repaired.
var windowScript = redis.NewScript(`
local used = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if used == 1 or ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {used, ttl}
`)

func NewRedisLimiter(cfg RedisConfig) (*RedisLimiter, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedisLimiter(client, cfg.Prefix, cfg.Now), nil
}

func newRedisLimiter(client *redis.Client, prefix string, now func() time.Time) *RedisLimiter {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{client: client, prefix: prefix, now: now}
}

func (r *RedisLimiter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisLimiter) Close() error {
	return r.client.Close()
}

func (r *RedisLimiter) Allow(ctx context.Context, key domain.RateLimitKey, limit int, length time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	if length < time.Millisecond {
		length = time.Second
	}
	counter := r.prefix + key.String()

	reply, err := windowScript.Run(ctx, r.client, []string{counter}, length.Milliseconds()).Int64Slice()
	if err != nil {
		return domain.RateLimitDecision{}, fmt.Errorf("redis rate limit: %w", err)
	}
	if len(reply) != 2 {
		return domain.RateLimitDecision{}, fmt.Errorf("redis rate limit: want [count ttl], got %v", reply)
	}
	used, remainingTTL := reply[0], time.Duration(reply[1])*time.Millisecond

	remaining := limit - int(used)
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   used <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   r.now().Add(remainingTTL),
	}, nil
}

var _ domain.RateLimiter = (*RedisLimiter)(nil)
