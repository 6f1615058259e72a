// Package ratelimit provides a Redis-backed fixed-window rate limiter for
// deployments running more than one replica. It applies the same per-tier
// limits as auth.InProcessLimiter, with the counters shared through Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rhuss/principal/pkg/auth"
)

// DefaultKeyPrefix namespaces rate limit counters.
const DefaultKeyPrefix = "principal:ratelimit:"

// Window is the fixed counting window.
const Window = time.Minute

// INCR then set the expiry on the first hit of a window.
var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisLimiter counts requests per user and tier in Redis.
type RedisLimiter struct {
	client     goredis.Scripter
	tiers      map[string]auth.TierConfig
	defaultRPM int
	prefix     string
}

var _ auth.RateLimiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a limiter on client. An empty prefix selects
// DefaultKeyPrefix.
func NewRedisLimiter(client goredis.Scripter, tiers map[string]auth.TierConfig, defaultRPM int, prefix string) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisLimiter{
		client:     client,
		tiers:      tiers,
		defaultRPM: defaultRPM,
		prefix:     prefix,
	}, nil
}

// Allow returns auth.ErrTooManyRequests once the user exceeds the tier's
// requests per minute. Redis errors are returned as-is.
func (l *RedisLimiter) Allow(ctx context.Context, user *auth.User) error {
	tier := auth.TierOf(user)

	rpm := l.defaultRPM
	if tc, ok := l.tiers[tier]; ok {
		rpm = tc.RequestsPerMinute
	}
	if rpm <= 0 {
		return nil
	}

	key := l.prefix + tier + ":" + user.ID
	current, err := allowScript.Run(ctx, l.client, []string{key}, Window.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("rate limit counter: %w", err)
	}
	if current > int64(rpm) {
		return auth.ErrTooManyRequests
	}
	return nil
}
