package auth

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserStore(t *testing.T) (*PostgresUserStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresUserStore(db), mock
}

func TestPostgresUserStore_Create(t *testing.T) {
	store, mock := newUserStore(t)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("a@test.com", "Alice", sqlmock.AnyArg(), string(SystemRoleUser), nil, true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(1, now, now))

	user := &User{Email: "a@test.com", Name: "Alice", PasswordHash: "hash"}
	require.NoError(t, store.Create(context.Background(), user))
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, SystemRoleUser, user.SystemRole)
	assert.True(t, user.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserStore_Create_DuplicateEmail(t *testing.T) {
	store, mock := newUserStore(t)

	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.Create(context.Background(), &User{Email: "a@test.com"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserStore_GetByEmail(t *testing.T) {
	store, mock := newUserStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM users`).
		WithArgs("a@test.com").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "name", "password_hash", "system_role", "organization_id", "is_active", "created_at", "updated_at",
		}).AddRow(1, "a@test.com", "Alice", "hash", string(SystemRoleUser), nil, true, now, now))

	user, err := store.GetByEmail(context.Background(), "a@test.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, "hash", user.PasswordHash)
	assert.Nil(t, user.OrganizationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserStore_GetByID_NotFound(t *testing.T) {
	store, mock := newUserStore(t)

	mock.ExpectQuery(`SELECT .+ FROM users`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "name", "password_hash", "system_role", "organization_id", "is_active", "created_at", "updated_at",
		}))

	_, err := store.GetByID(context.Background(), 99)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserStore_UpdatePassword_NotFound(t *testing.T) {
	store, mock := newUserStore(t)

	mock.ExpectExec(`UPDATE users SET password_hash`).
		WithArgs("newhash", int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdatePassword(context.Background(), 99, "newhash")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
