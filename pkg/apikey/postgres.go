package apikey

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

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

// Create inserts an API key row
func (s *PostgresStore) Create(ctx context.Context, key *Key) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO api_keys (user_id, name, short_token, key_hash, salt, scopes, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, key.UserID, key.Name, key.ShortToken, key.KeyHash, key.Salt,
		pq.Array(key.Scopes), key.ExpiresAt).
		Scan(&key.ID, &key.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

// GetByShortToken looks up a key by its unique short token. This is an
// O(1) index lookup; the secret-bearing long token is never an index.
func (s *PostgresStore) GetByShortToken(ctx context.Context, shortToken string) (*Key, error) {
	key := &Key{}
	var scopes pq.StringArray
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, short_token, key_hash, salt, scopes, expires_at, last_used_at, created_at
		FROM api_keys
		WHERE short_token = $1
	`, shortToken).Scan(&key.ID, &key.UserID, &key.Name, &key.ShortToken,
		&key.KeyHash, &key.Salt, &scopes, &key.ExpiresAt, &key.LastUsedAt, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, auth.ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	key.Scopes = []string(scopes)
	return key, nil
}

// ListForUser returns a user's keys, newest first
func (s *PostgresStore) ListForUser(ctx context.Context, userID int64) ([]*Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, short_token, key_hash, salt, scopes, expires_at, last_used_at, created_at
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*Key
	for rows.Next() {
		key := &Key{}
		var scopes pq.StringArray
		if err := rows.Scan(&key.ID, &key.UserID, &key.Name, &key.ShortToken,
			&key.KeyHash, &key.Salt, &scopes, &key.ExpiresAt, &key.LastUsedAt, &key.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		key.Scopes = []string(scopes)
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate api keys: %w", err)
	}
	return keys, nil
}

// Delete removes a key by ID, scoped to its owner
func (s *PostgresStore) Delete(ctx context.Context, id, userID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	if rows == 0 {
		return auth.ErrInvalidToken
	}
	return nil
}

// DeleteExpired removes all keys past their expiry
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep api keys: %w", err)
	}
	return result.RowsAffected()
}

// UpdateLastUsed records when the key last authenticated a request
func (s *PostgresStore) UpdateLastUsed(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}
	return nil
}
