package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/authgrid/authgrid/pkg/auth"
)

const (
	userCacheName = "user"
	// UserTTL is the lifetime of a cached user row
	UserTTL = 10 * time.Minute
	// UserNegativeTTL is the shorter lifetime of a cached "not found",
	// so deleted accounts are rejected without hammering the store.
	UserNegativeTTL = time.Minute
)

// cachedUser is the cache envelope; a nil User is a negative entry.
type cachedUser struct {
	User *auth.User `json:"user"`
}

// UserCache is a read-through cache over the user store. It exists so the
// authentication pipeline can confirm on every request that a token's
// subject still exists without a per-request database read.
type UserCache struct {
	engine *Engine
	store  auth.UserStore
}

// NewUserCache creates a user cache over the given store
func NewUserCache(engine *Engine, store auth.UserStore) *UserCache {
	return &UserCache{engine: engine, store: store}
}

// Get returns the user by ID, loading through the cache-aside engine.
// A cached negative entry returns auth.ErrUserNotFound.
func (c *UserCache) Get(ctx context.Context, id int64) (*auth.User, error) {
	key := fmt.Sprintf("user:%d", id)
	entry, err := GetOrLoad(ctx, c.engine, userCacheName, key, UserTTL, func(ctx context.Context) (cachedUser, time.Duration, error) {
		user, err := c.store.GetByID(ctx, id)
		if errors.Is(err, auth.ErrUserNotFound) {
			return cachedUser{}, UserNegativeTTL, nil
		}
		if err != nil {
			return cachedUser{}, 0, err
		}
		return cachedUser{User: user}, 0, nil
	})
	if err != nil {
		return nil, err
	}
	if entry.User == nil {
		return nil, auth.ErrUserNotFound
	}
	return entry.User, nil
}

// Invalidate drops the cached entry for a user
func (c *UserCache) Invalidate(ctx context.Context, id int64) error {
	return c.engine.Delete(ctx, fmt.Sprintf("user:%d", id))
}
