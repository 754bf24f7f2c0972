// Package apikey issues and verifies split short/long API keys.
//
// The public key string is prefix_env_short_long. The short token is a
// plaintext unique index used for lookup; the long token is the secret,
// stored only as SHA-256(long+salt). Splitting the two keeps the lookup
// index free of secret material and the hash comparison timing-safe.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/authgrid/authgrid/pkg/auth"
	"github.com/authgrid/authgrid/pkg/cache"
	"github.com/authgrid/authgrid/pkg/observability"
)

const (
	shortTokenBytes = 8
	longTokenBytes  = 32
	saltBytes       = 16

	// touchGateTTL bounds last_used_at write amplification to one
	// persistence write per key per hour.
	touchGateTTL = time.Hour
	touchTimeout = 5 * time.Second
)

// Service issues, verifies, and revokes API keys
type Service struct {
	store  Store
	gate   *cache.Engine
	logger *observability.Logger
	env    string
}

// NewService creates an API key service. env is the environment segment
// embedded in issued key strings ("live", "test").
func NewService(store Store, gate *cache.Engine, logger *observability.Logger, env string) *Service {
	return &Service{store: store, gate: gate, logger: logger, env: env}
}

// Issue creates a new key and returns the full key string exactly once.
// The long secret is never persisted in plaintext.
func (s *Service) Issue(ctx context.Context, userID int64, name string, scopes []string, expiresAt *time.Time) (*Key, string, error) {
	shortToken, err := randomHex(shortTokenBytes)
	if err != nil {
		return nil, "", err
	}
	longToken, err := randomHex(longTokenBytes)
	if err != nil {
		return nil, "", err
	}
	salt, err := randomHex(saltBytes)
	if err != nil {
		return nil, "", err
	}

	key := &Key{
		UserID:     userID,
		Name:       name,
		ShortToken: shortToken,
		KeyHash:    hashSecret(longToken, salt),
		Salt:       salt,
		Scopes:     scopes,
		ExpiresAt:  expiresAt,
	}
	if err := s.store.Create(ctx, key); err != nil {
		return nil, "", err
	}

	fullKey := strings.Join([]string{KeyPrefix, s.env, shortToken, longToken}, "_")
	return key, fullKey, nil
}

// Verify authenticates a bearer credential. Shape errors fail before any
// store lookup; the hash comparison is constant-time.
func (s *Service) Verify(ctx context.Context, bearer string) (*Key, error) {
	shortToken, longToken, err := ParseBearer(bearer, s.env)
	if err != nil {
		return nil, err
	}

	key, err := s.store.GetByShortToken(ctx, shortToken)
	if err != nil {
		return nil, err
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, auth.ErrTokenExpired
	}

	computed := hashSecret(longToken, key.Salt)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(key.KeyHash)) != 1 {
		return nil, auth.ErrInvalidToken
	}

	s.touchLastUsed(ctx, key.ID)
	return key, nil
}

// ListForUser returns a user's keys
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]*Key, error) {
	return s.store.ListForUser(ctx, userID)
}

// Revoke deletes a key, scoped to its owner
func (s *Service) Revoke(ctx context.Context, id, userID int64) error {
	return s.store.Delete(ctx, id, userID)
}

// SweepExpired deletes all keys past their expiry
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, time.Now())
}

// touchLastUsed updates last_used_at at most once per hour per key. The
// gate check is synchronous; the persistence write is fire-and-forget so
// a slow store never blocks verification. Write failures are logged and
// discarded, staleness of last_used_at is acceptable.
func (s *Service) touchLastUsed(ctx context.Context, id int64) {
	gateKey := fmt.Sprintf("lastused:%d", id)
	acquired, err := s.gate.SetIfAbsent(ctx, gateKey, touchGateTTL)
	if err != nil {
		s.logger.WithError(err).Warn("api key touch gate check failed")
		return
	}
	if !acquired {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := s.store.UpdateLastUsed(ctx, id, time.Now().UTC()); err != nil {
			s.logger.WithError(err).Warnf("failed to update last_used_at for api key %d", id)
		}
	}()
}

func hashSecret(longToken, salt string) string {
	sum := sha256.Sum256([]byte(longToken + salt))
	return hex.EncodeToString(sum[:])
}

// randomHex returns n random bytes hex-encoded. Hex keeps issued tokens
// free of the underscore delimiter.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
