// Package session manages refresh-token sessions: one hashed row per
// active login, rotated on refresh and deleted on revoke or expiry.
package session

import (
	"context"
	"time"

	"github.com/authgrid/authgrid/pkg/auth"
	"github.com/authgrid/authgrid/pkg/observability"
)

// Manager owns the session lifecycle. Raw refresh tokens pass through it
// exactly once in each direction: outward on create/rotate, inward on
// rotate/revoke.
type Manager struct {
	store  Store
	tokens *auth.TokenService
	logger *observability.Logger
}

// NewManager creates a session manager
func NewManager(store Store, tokens *auth.TokenService, logger *observability.Logger) *Manager {
	return &Manager{store: store, tokens: tokens, logger: logger}
}

// Create starts a new session and returns the raw refresh token
func (m *Manager) Create(ctx context.Context, userID int64, device DeviceInfo) (string, *Session, error) {
	raw, err := m.tokens.NewRefreshSecret()
	if err != nil {
		return "", nil, err
	}
	session := &Session{
		UserID:           userID,
		RefreshTokenHash: m.tokens.HashSecret(raw),
		UserAgent:        device.UserAgent,
		IPAddress:        device.IPAddress,
		ExpiresAt:        m.tokens.RefreshExpiry(),
	}
	if err := m.store.Create(ctx, session); err != nil {
		return "", nil, err
	}
	return raw, session, nil
}

// Rotate exchanges a raw refresh token for a new one. The old row is
// deleted before the new one is created; a crash between the two steps
// leaves the user logged out rather than holding two valid tokens for
// one logical session. Deleting zero rows means a concurrent rotation
// already consumed the token, so only the winner mints a replacement.
func (m *Manager) Rotate(ctx context.Context, rawToken string, device DeviceInfo) (string, *Session, error) {
	oldHash := m.tokens.HashSecret(rawToken)
	existing, err := m.store.GetByHash(ctx, oldHash)
	if err != nil {
		return "", nil, err
	}
	if time.Now().After(existing.ExpiresAt) {
		if _, err := m.store.DeleteByHash(ctx, oldHash); err != nil {
			m.logger.WithError(err).Warn("failed to delete expired session during rotation")
		}
		return "", nil, auth.ErrSessionExpired
	}
	deleted, err := m.store.DeleteByHash(ctx, oldHash)
	if err != nil {
		return "", nil, err
	}
	if deleted == 0 {
		return "", nil, auth.ErrSessionNotFound
	}
	return m.Create(ctx, existing.UserID, device)
}

// Revoke deletes the session for a raw refresh token. Unknown tokens are
// a no-op so logout stays idempotent.
func (m *Manager) Revoke(ctx context.Context, rawToken string) error {
	_, err := m.store.DeleteByHash(ctx, m.tokens.HashSecret(rawToken))
	return err
}

// RevokeByID deletes one session by ID, scoped to its owner
func (m *Manager) RevokeByID(ctx context.Context, id, userID int64) error {
	return m.store.DeleteByID(ctx, id, userID)
}

// RevokeAll deletes every session of a user (e.g. on password reset)
func (m *Manager) RevokeAll(ctx context.Context, userID int64) (int64, error) {
	return m.store.DeleteAllForUser(ctx, userID)
}

// RevokeAllExceptCurrent deletes every session of a user except the one
// matching the caller's raw refresh token
func (m *Manager) RevokeAllExceptCurrent(ctx context.Context, userID int64, currentRaw string) (int64, error) {
	return m.store.DeleteAllForUserExcept(ctx, userID, m.tokens.HashSecret(currentRaw))
}

// SweepExpired deletes all sessions past their expiry
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	return m.store.DeleteExpired(ctx, time.Now())
}

// List returns a user's sessions, marking the one matching currentRaw
func (m *Manager) List(ctx context.Context, userID int64, currentRaw string) ([]*Session, error) {
	sessions, err := m.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	currentHash := m.tokens.HashSecret(currentRaw)
	for _, s := range sessions {
		s.Current = s.RefreshTokenHash == currentHash
	}
	return sessions, nil
}
