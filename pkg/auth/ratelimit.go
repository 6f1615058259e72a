package auth

import (
	"context"
	"sync"
	"time"
)

// TierAttribute is the user attribute that selects a rate limit tier.
const TierAttribute = "tier"

// RateLimiter checks whether a resolved user may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, user *User) error
}

// TierConfig holds rate limit settings for a service tier.
type TierConfig struct {
	RequestsPerMinute int
}

// InProcessLimiter is a fixed-window rate limiter that tracks request
// counts per user in memory.
type InProcessLimiter struct {
	tiers      map[string]TierConfig
	defaultRPM int
	now        func() time.Time

	mu       sync.Mutex
	counters map[string]*counter
}

type counter struct {
	count    int
	windowAt time.Time
}

// NewInProcessLimiter creates a rate limiter with per-tier configuration.
func NewInProcessLimiter(tiers map[string]TierConfig, defaultRPM int) *InProcessLimiter {
	return &InProcessLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		now:        time.Now,
		counters:   make(map[string]*counter),
	}
}

// Allow checks if the request is within the rate limit.
func (l *InProcessLimiter) Allow(_ context.Context, user *User) error {
	tier := TierOf(user)

	rpm := l.defaultRPM
	if tc, ok := l.tiers[tier]; ok {
		rpm = tc.RequestsPerMinute
	}

	if rpm <= 0 {
		return nil // no limit
	}

	key := user.ID + ":" + tier

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.counters[key]
	if !ok || now.Sub(c.windowAt) >= time.Minute {
		l.counters[key] = &counter{count: 1, windowAt: now}
		return nil
	}

	c.count++
	if c.count > rpm {
		return ErrTooManyRequests
	}

	return nil
}

// TierOf returns the user's rate limit tier, "default" when unset.
func TierOf(user *User) string {
	if tier := user.Attr(TierAttribute); tier != "" {
		return tier
	}
	return "default"
}
