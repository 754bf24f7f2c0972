package apikey

import (
	"context"
	"strings"
	"time"

	"github.com/authgrid/authgrid/pkg/auth"
)

// KeyPrefix identifies authgrid API keys
const KeyPrefix = "ag"

// Key is an issued API key. Only the short lookup token is stored in
// plaintext; the long secret exists solely as a salted SHA-256 hash.
type Key struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	Name       string     `json:"name"`
	ShortToken string     `json:"short_token"`
	KeyHash    string     `json:"-"`
	Salt       string     `json:"-"`
	Scopes     []string   `json:"scopes"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Store persists API keys
type Store interface {
	Create(ctx context.Context, key *Key) error
	GetByShortToken(ctx context.Context, shortToken string) (*Key, error)
	ListForUser(ctx context.Context, userID int64) ([]*Key, error)
	Delete(ctx context.Context, id, userID int64) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	UpdateLastUsed(ctx context.Context, id int64, at time.Time) error
}

// ParseBearer splits a bearer credential into its short and long tokens.
//
// The expected shape is exactly four underscore-delimited segments:
// prefix_env_short_long. Anything else is ErrMalformedKey, decided before
// any store lookup.
func ParseBearer(header, env string) (shortToken, longToken string, err error) {
	credential := strings.TrimPrefix(header, "Bearer ")
	parts := strings.Split(credential, "_")
	if len(parts) != 4 {
		return "", "", auth.ErrMalformedKey
	}
	if parts[0] != KeyPrefix || parts[1] != env {
		return "", "", auth.ErrMalformedKey
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", auth.ErrMalformedKey
	}
	return parts[2], parts[3], nil
}
