package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgrid/authgrid/pkg/observability"
)

func newRecorder(t *testing.T) (*PostgresRecorder, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRecorder(db, observability.NewNopLogger()), mock
}

func TestRecord(t *testing.T) {
	recorder, mock := newRecorder(t)
	subjectID := int64(42)

	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs(sqlmock.AnyArg(), string(EventLogin), string(StatusSuccess),
			int64(42), "a@test.com", nil, "1.2.3.4", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	recorder.Record(context.Background(), &Event{
		Type:      EventLogin,
		Status:    StatusSuccess,
		SubjectID: &subjectID,
		Identity:  "a@test.com",
		IPAddress: "1.2.3.4",
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_StoreFailureIsSwallowed(t *testing.T) {
	recorder, mock := newRecorder(t)

	mock.ExpectExec(`INSERT INTO audit_log`).
		WillReturnError(assert.AnError)

	// Must not panic or propagate; the caller's request succeeds anyway.
	recorder.Record(context.Background(), &Event{
		Type:   EventLoginFailed,
		Status: StatusFailure,
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecent(t *testing.T) {
	recorder, mock := newRecorder(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM audit_log`).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "timestamp", "event_type", "status", "subject_id", "identity",
			"organization_id", "ip_address", "user_agent", "metadata",
		}).
			AddRow(2, now, string(EventAPIKeyCreate), string(StatusSuccess), 42, nil, nil, nil, nil, []byte(`{"key_id":7}`)).
			AddRow(1, now.Add(-time.Minute), string(EventLoginFailed), string(StatusFailure), nil, "ghost@test.com", nil, "1.2.3.4", nil, nil))

	events, err := recorder.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, EventAPIKeyCreate, events[0].Type)
	assert.Equal(t, map[string]interface{}{"key_id": float64(7)}, events[0].Metadata)
	assert.Equal(t, "ghost@test.com", events[1].Identity)
	assert.Nil(t, events[1].SubjectID)
}
