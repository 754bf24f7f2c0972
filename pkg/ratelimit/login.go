// Package ratelimit implements brute-force protection for login attempts
// using Redis-backed sliding counters shared across instances.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/authgrid/authgrid/pkg/auth"
)

// Config holds the limiter's caps and windows
type Config struct {
	PerIPLimit       int
	PerIPWindow      time.Duration
	PerIdentityLimit int
	IdentityWindow   time.Duration
	BlockDuration    time.Duration
}

// DefaultConfig returns the standard caps: 100 attempts per IP per 24h,
// 5 attempts per identity+IP per hour, 15 minute block.
func DefaultConfig() Config {
	return Config{
		PerIPLimit:       100,
		PerIPWindow:      24 * time.Hour,
		PerIdentityLimit: 5,
		IdentityWindow:   time.Hour,
		BlockDuration:    15 * time.Minute,
	}
}

// LoginLimiter tracks failed login attempts with two independent sliding
// counters plus a block flag. Keys hold raw identity and IP values; they
// are not secrets.
type LoginLimiter struct {
	redis  *redis.Client
	config Config
}

// NewLoginLimiter creates a limiter with the given configuration
func NewLoginLimiter(client *redis.Client, config Config) *LoginLimiter {
	return &LoginLimiter{redis: client, config: config}
}

func ipKey(ip string) string                 { return "login:ip:" + ip }
func identityKey(identity, ip string) string { return "login:attempt:" + identity + ":" + ip }
func blockKey(identity, ip string) string    { return "login:block:" + identity + ":" + ip }

// Check denies the attempt if the identity+IP pair is blocked or the IP
// counter is at its cap. It runs before credential verification, so a
// correct password is still rejected once tripped.
func (l *LoginLimiter) Check(ctx context.Context, identity, ip string) error {
	blocked, err := l.redis.Exists(ctx, blockKey(identity, ip)).Result()
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if blocked > 0 {
		return &auth.RateLimitedError{RetryAfterSeconds: l.retryAfter(ctx, blockKey(identity, ip), l.config.BlockDuration)}
	}

	count, err := l.redis.Get(ctx, ipKey(ip)).Int()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if count >= l.config.PerIPLimit {
		return &auth.RateLimitedError{RetryAfterSeconds: l.retryAfter(ctx, ipKey(ip), l.config.PerIPWindow)}
	}
	return nil
}

// Consume records a failed attempt on both counters, resetting each
// window on every increment (rolling windows), and sets the block flag
// when the identity counter reaches its cap.
func (l *LoginLimiter) Consume(ctx context.Context, identity, ip string) error {
	pipe := l.redis.Pipeline()
	pipe.Incr(ctx, ipKey(ip))
	pipe.Expire(ctx, ipKey(ip), l.config.PerIPWindow)
	identityIncr := pipe.Incr(ctx, identityKey(identity, ip))
	pipe.Expire(ctx, identityKey(identity, ip), l.config.IdentityWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	if identityIncr.Val() >= int64(l.config.PerIdentityLimit) {
		if err := l.redis.Set(ctx, blockKey(identity, ip), "1", l.config.BlockDuration).Err(); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}
	return nil
}

// Reset clears all three keys for the identity+IP pair. Called on
// successful login.
func (l *LoginLimiter) Reset(ctx context.Context, identity, ip string) error {
	err := l.redis.Del(ctx,
		ipKey(ip),
		identityKey(identity, ip),
		blockKey(identity, ip),
	).Err()
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// retryAfter derives the Retry-After seconds from the key's remaining
// TTL, falling back to the full window when the TTL is unavailable.
func (l *LoginLimiter) retryAfter(ctx context.Context, key string, window time.Duration) int {
	ttl, err := l.redis.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return int(window.Seconds())
	}
	return int(ttl.Seconds())
}
