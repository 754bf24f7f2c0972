package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/authgrid/authgrid/pkg/observability"
)

const (
	// DefaultLockTTL bounds worst-case staleness if a lock holder crashes
	DefaultLockTTL = 5 * time.Second
	// DefaultRetryInterval is the fixed sleep between lock acquisition attempts
	DefaultRetryInterval = 100 * time.Millisecond
	// DefaultMaxAttempts bounds the retry loop under sustained contention
	DefaultMaxAttempts = 20
)

// ErrLockTimeout is returned when the cache-aside lock could not be
// acquired within the bounded retry loop.
var ErrLockTimeout = errors.New("cache: lock wait exceeded retry bound")

// Engine is the shared get-or-load-with-lock primitive backing the user
// cache and the permission cache.
//
// The advisory lock only prevents redundant backing-store loads; it is
// TTL-bounded and not transactional. Values are stored as JSON.
type Engine struct {
	redis         *redis.Client
	logger        *observability.Logger
	metrics       *Metrics
	lockTTL       time.Duration
	retryInterval time.Duration
	maxAttempts   int
}

// NewEngine creates a cache engine with the default lock parameters
func NewEngine(client *redis.Client, logger *observability.Logger, metrics *Metrics) *Engine {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Engine{
		redis:         client,
		logger:        logger,
		metrics:       metrics,
		lockTTL:       DefaultLockTTL,
		retryInterval: DefaultRetryInterval,
		maxAttempts:   DefaultMaxAttempts,
	}
}

// WithLockParams overrides the lock TTL, retry interval, and attempt bound.
// Intended for tests that exercise contention without real clock waits.
func (e *Engine) WithLockParams(lockTTL, retryInterval time.Duration, maxAttempts int) *Engine {
	e.lockTTL = lockTTL
	e.retryInterval = retryInterval
	e.maxAttempts = maxAttempts
	return e
}

// Metrics returns the engine's counter set
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Delete removes keys from the cache
func (e *Engine) Delete(ctx context.Context, keys ...string) error {
	return e.redis.Del(ctx, keys...).Err()
}

// SetIfAbsent performs an atomic set-if-absent with TTL. Used by callers
// that need a standalone gate key (e.g. the API-key last-used debounce).
func (e *Engine) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return e.redis.SetNX(ctx, key, "1", ttl).Result()
}

// Ping verifies connectivity for health checks
func (e *Engine) Ping(ctx context.Context) error {
	return e.redis.Ping(ctx).Err()
}

// Loader fetches a value from the backing store on cache miss. A non-zero
// ttlOverride replaces the caller's default TTL for this value, which is
// how negative entries get their shorter lifetime.
type Loader[T any] func(ctx context.Context) (value T, ttlOverride time.Duration, err error)

// GetOrLoad returns the cached value for key, loading and populating it on
// miss. Concurrent misses on the same key are collapsed to a single
// backing-store load by an advisory lock; contending callers retry the
// whole lookup at a fixed interval, bounded by the engine's attempt limit.
func GetOrLoad[T any](ctx context.Context, e *Engine, cacheName, key string, ttl time.Duration, loader Loader[T]) (T, error) {
	var zero T
	lockKey := "lock:" + key

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		data, err := e.redis.Get(ctx, key).Bytes()
		if err == nil {
			var value T
			if err := json.Unmarshal(data, &value); err != nil {
				return zero, fmt.Errorf("cache: decode %s: %w", key, err)
			}
			e.metrics.Hit(cacheName)
			return value, nil
		}
		if err != redis.Nil {
			return zero, fmt.Errorf("cache: get %s: %w", key, err)
		}
		if attempt == 0 {
			e.metrics.Miss(cacheName)
		}

		acquired, err := e.redis.SetNX(ctx, lockKey, "1", e.lockTTL).Result()
		if err != nil {
			return zero, fmt.Errorf("cache: lock %s: %w", lockKey, err)
		}
		if !acquired {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(e.retryInterval):
			}
			continue
		}

		value, err := loadLocked(ctx, e, cacheName, key, lockKey, ttl, loader)
		if err != nil {
			return zero, err
		}
		return value, nil
	}

	e.metrics.LockTimeout()
	return zero, fmt.Errorf("%w: %s", ErrLockTimeout, key)
}

func loadLocked[T any](ctx context.Context, e *Engine, cacheName, key, lockKey string, ttl time.Duration, loader Loader[T]) (T, error) {
	var zero T
	defer e.releaseLock(lockKey)

	// Another caller may have populated the key while we acquired the lock
	data, err := e.redis.Get(ctx, key).Bytes()
	if err == nil {
		var value T
		if err := json.Unmarshal(data, &value); err != nil {
			return zero, fmt.Errorf("cache: decode %s: %w", key, err)
		}
		e.metrics.Hit(cacheName)
		return value, nil
	}
	if err != redis.Nil {
		return zero, fmt.Errorf("cache: get %s: %w", key, err)
	}

	e.metrics.DBQuery(cacheName)
	value, ttlOverride, err := loader(ctx)
	if err != nil {
		return zero, err
	}
	if ttlOverride > 0 {
		ttl = ttlOverride
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return zero, fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := e.redis.Set(ctx, key, encoded, ttl).Err(); err != nil {
		return zero, fmt.Errorf("cache: set %s: %w", key, err)
	}
	return value, nil
}

// releaseLock uses a detached context so caller cancellation cannot leak
// the lock for its full TTL.
func (e *Engine) releaseLock(lockKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.redis.Del(ctx, lockKey).Err(); err != nil && e.logger != nil {
		e.logger.WithError(err).Warnf("failed to release cache lock %s", lockKey)
	}
}
