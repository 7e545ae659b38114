// Package ratelimit throttles authorization requests per user with a
// fixed window and exponential backoff on repeat violations.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hearthside-app/hearthside/internal/authz"
)

// Config holds limiter tunables.
type Config struct {
	// Limit is the number of requests allowed per window.
	Limit int
	// Window is the fixed counting window.
	Window time.Duration
	// OpTimeout bounds every Redis round trip.
	OpTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = 5
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 250 * time.Millisecond
	}
	return c
}

// Limiter counts per-user requests in Redis. INCR keeps increments
// atomic under concurrent callers without any locking on our side.
type Limiter struct {
	client *redis.Client
	cfg    Config
}

// New constructs a limiter.
func New(client *redis.Client, cfg Config) *Limiter {
	return &Limiter{client: client, cfg: cfg.withDefaults()}
}

const maxBackoffExp = 16

// Allow consumes one request from the user's window. On rejection the
// violation counter bumps and retry-after doubles: 2^violations seconds.
// Violations expire after their own backoff horizon (floored at the
// window), so a quiet user is forgiven once their retry window passes.
func (l *Limiter) Allow(ctx context.Context, userID string) (authz.RateDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.OpTimeout)
	defer cancel()

	// INCR and the TTL seed travel in one MULTI/EXEC so a crash between
	// them cannot leave an immortal counter.
	countKey := "authz:rl:" + userID + ":count"
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, countKey)
	pipe.ExpireNX(ctx, countKey, l.cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return authz.RateDecision{}, err
	}
	if incr.Val() <= int64(l.cfg.Limit) {
		return authz.RateDecision{Allowed: true}, nil
	}

	violKey := "authz:rl:" + userID + ":violations"
	pipe = l.client.TxPipeline()
	viol := pipe.Incr(ctx, violKey)
	pipe.ExpireNX(ctx, violKey, l.cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return authz.RateDecision{}, err
	}
	v := viol.Val()
	if v > maxBackoffExp {
		v = maxBackoffExp
	}
	retry := time.Duration(1<<uint(v)) * time.Second
	if retry > l.cfg.Window {
		// Stretch the forgiveness horizon to the backoff; GT never
		// shortens a longer TTL set by an earlier violation.
		if err := l.client.ExpireGT(ctx, violKey, retry).Err(); err != nil {
			return authz.RateDecision{}, err
		}
	}
	return authz.RateDecision{Allowed: false, RetryAfter: retry}, nil
}

var _ authz.RateLimiter = (*Limiter)(nil)
