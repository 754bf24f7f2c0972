package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgrid/authgrid/pkg/auth"
)

func newTestLimiter(t *testing.T, config Config) (*LoginLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewLoginLimiter(client, config), mr
}

func TestLoginLimiter_BlocksAfterIdentityCap(t *testing.T) {
	limiter, _ := newTestLimiter(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Check(ctx, "a@test.com", "1.2.3.4"), "attempt %d should pass the check", i+1)
		require.NoError(t, limiter.Consume(ctx, "a@test.com", "1.2.3.4"))
	}

	// The sixth attempt is rejected before any credential check, so even a
	// correct password cannot get through.
	err := limiter.Check(ctx, "a@test.com", "1.2.3.4")
	require.Error(t, err)

	var limited *auth.RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 900, limited.RetryAfterSeconds)
}

func TestLoginLimiter_BlockExpires(t *testing.T) {
	limiter, mr := newTestLimiter(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Consume(ctx, "a@test.com", "1.2.3.4"))
	}
	require.Error(t, limiter.Check(ctx, "a@test.com", "1.2.3.4"))

	// After the block lapses the identity counter has also expired, so
	// attempts flow again.
	mr.FastForward(2 * time.Hour)
	assert.NoError(t, limiter.Check(ctx, "a@test.com", "1.2.3.4"))
}

func TestLoginLimiter_IdentityCounterIsPerIP(t *testing.T) {
	limiter, _ := newTestLimiter(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Consume(ctx, "a@test.com", "1.2.3.4"))
	}

	assert.Error(t, limiter.Check(ctx, "a@test.com", "1.2.3.4"))
	assert.NoError(t, limiter.Check(ctx, "a@test.com", "5.6.7.8"), "a different IP must not inherit the block")
	assert.NoError(t, limiter.Check(ctx, "b@test.com", "1.2.3.4"), "a different identity from the same IP is below the IP cap")
}

func TestLoginLimiter_PerIPCap(t *testing.T) {
	config := DefaultConfig()
	config.PerIPLimit = 10
	limiter, _ := newTestLimiter(t, config)
	ctx := context.Background()

	// Spread attempts over many identities so no identity block trips.
	for i := 0; i < 10; i++ {
		identity := fmt.Sprintf("user%d@test.com", i)
		require.NoError(t, limiter.Consume(ctx, identity, "9.9.9.9"))
	}

	err := limiter.Check(ctx, "fresh@test.com", "9.9.9.9")
	var limited *auth.RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Greater(t, limited.RetryAfterSeconds, 0)
}

func TestLoginLimiter_ResetClearsEverything(t *testing.T) {
	limiter, _ := newTestLimiter(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Consume(ctx, "a@test.com", "1.2.3.4"))
	}
	require.Error(t, limiter.Check(ctx, "a@test.com", "1.2.3.4"))

	require.NoError(t, limiter.Reset(ctx, "a@test.com", "1.2.3.4"))
	assert.NoError(t, limiter.Check(ctx, "a@test.com", "1.2.3.4"))
}

func TestLoginLimiter_RetryAfterTracksRemainingBlock(t *testing.T) {
	limiter, mr := newTestLimiter(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Consume(ctx, "a@test.com", "1.2.3.4"))
	}

	mr.FastForward(5 * time.Minute)
	err := limiter.Check(ctx, "a@test.com", "1.2.3.4")
	var limited *auth.RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 600, limited.RetryAfterSeconds)
}
