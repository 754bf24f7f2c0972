package auth

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresUserStore implements UserStore using PostgreSQL
type PostgresUserStore struct {
	db *sql.DB
}

// NewPostgresUserStore creates a new PostgresUserStore
func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

const uniqueViolation = "23505"

// Create inserts a new user. A duplicate email maps to ErrConflict.
func (s *PostgresUserStore) Create(ctx context.Context, user *User) error {
	if user.SystemRole == "" {
		user.SystemRole = SystemRoleUser
	}
	user.IsActive = true

	query := `
		INSERT INTO users (email, name, password_hash, system_role, organization_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		user.Email, user.Name, user.PasswordHash, user.SystemRole, user.OrganizationID, user.IsActive).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return fmt.Errorf("email %s: %w", user.Email, ErrConflict)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by primary key
func (s *PostgresUserStore) GetByID(ctx context.Context, id int64) (*User, error) {
	return s.get(ctx, "id = $1", id)
}

// GetByEmail retrieves a user by email
func (s *PostgresUserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.get(ctx, "email = $1", email)
}

func (s *PostgresUserStore) get(ctx context.Context, where string, arg interface{}) (*User, error) {
	query := `
		SELECT id, email, name, password_hash, system_role, organization_id, is_active, created_at, updated_at
		FROM users
		WHERE ` + where
	user := &User{}
	var passwordHash sql.NullString
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.Name, &passwordHash, &user.SystemRole,
		&user.OrganizationID, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.PasswordHash = passwordHash.String
	return user, nil
}

// UpdatePassword replaces the stored password hash
func (s *PostgresUserStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`,
		passwordHash, id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}
