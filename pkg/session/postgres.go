package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/authgrid/authgrid/pkg/auth"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a session row
func (s *PostgresStore) Create(ctx context.Context, session *Session) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sessions (user_id, refresh_token_hash, user_agent, ip_address, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, session.UserID, session.RefreshTokenHash, session.UserAgent, session.IPAddress, session.ExpiresAt).
		Scan(&session.ID, &session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByHash looks up a session by refresh-token hash
func (s *PostgresStore) GetByHash(ctx context.Context, hash string) (*Session, error) {
	session := &Session{}
	var userAgent, ipAddress sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, refresh_token_hash, user_agent, ip_address, expires_at, created_at
		FROM sessions
		WHERE refresh_token_hash = $1
	`, hash).Scan(&session.ID, &session.UserID, &session.RefreshTokenHash,
		&userAgent, &ipAddress, &session.ExpiresAt, &session.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, auth.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	session.UserAgent = userAgent.String
	session.IPAddress = ipAddress.String
	return session, nil
}

// DeleteByHash removes the session with the given refresh-token hash and
// returns the number of rows deleted
func (s *PostgresStore) DeleteByHash(ctx context.Context, hash string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE refresh_token_hash = $1`, hash)
	if err != nil {
		return 0, fmt.Errorf("failed to delete session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete session: %w", err)
	}
	return rows, nil
}

// DeleteByID removes a session by ID, scoped to its owner
func (s *PostgresStore) DeleteByID(ctx context.Context, id, userID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if rows == 0 {
		return auth.ErrSessionNotFound
	}
	return nil
}

// DeleteAllForUser removes every session of a user
func (s *PostgresStore) DeleteAllForUser(ctx context.Context, userID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	return result.RowsAffected()
}

// DeleteAllForUserExcept removes every session of a user except the one
// matching keepHash
func (s *PostgresStore) DeleteAllForUserExcept(ctx context.Context, userID int64, keepHash string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = $1 AND refresh_token_hash != $2`, userID, keepHash)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	return result.RowsAffected()
}

// DeleteExpired removes all sessions past their expiry
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	return result.RowsAffected()
}

// ListForUser returns a user's sessions, newest first
func (s *PostgresStore) ListForUser(ctx context.Context, userID int64) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, refresh_token_hash, user_agent, ip_address, expires_at, created_at
		FROM sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session := &Session{}
		var userAgent, ipAddress sql.NullString
		if err := rows.Scan(&session.ID, &session.UserID, &session.RefreshTokenHash,
			&userAgent, &ipAddress, &session.ExpiresAt, &session.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		session.UserAgent = userAgent.String
		session.IPAddress = ipAddress.String
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}
