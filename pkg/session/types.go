package session

import (
	"context"
	"time"
)

// Session is one logical login. Only the SHA-256 hash of the refresh
// token is stored; the raw value exists only in the client's cookie.
type Session struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"user_id"`
	RefreshTokenHash string    `json:"-"`
	UserAgent        string    `json:"user_agent,omitempty"`
	IPAddress        string    `json:"ip_address,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
	CreatedAt        time.Time `json:"created_at"`
	// Current marks the session matching the caller's own refresh token
	// in listings. Never persisted.
	Current bool `json:"current"`
}

// DeviceInfo captures request metadata recorded on session creation
type DeviceInfo struct {
	UserAgent string
	IPAddress string
}

// Store persists session rows
type Store interface {
	Create(ctx context.Context, session *Session) error
	GetByHash(ctx context.Context, hash string) (*Session, error)
	// DeleteByHash reports how many rows it removed so callers can
	// detect losing a delete race for the same token.
	DeleteByHash(ctx context.Context, hash string) (int64, error)
	DeleteByID(ctx context.Context, id, userID int64) error
	DeleteAllForUser(ctx context.Context, userID int64) (int64, error)
	DeleteAllForUserExcept(ctx context.Context, userID int64, keepHash string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	ListForUser(ctx context.Context, userID int64) ([]*Session, error)
}
