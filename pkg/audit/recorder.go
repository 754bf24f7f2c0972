package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/authgrid/authgrid/pkg/observability"
)

// Recorder appends events to the audit log. Recording is best-effort
// from the caller's point of view; implementations never fail the
// request that produced the event.
type Recorder interface {
	Record(ctx context.Context, event *Event)
}

// NopRecorder discards all events
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, event *Event) {}

// PostgresRecorder writes events to the audit_log table. Failures are
// logged and dropped so a broken audit store cannot take logins down
// with it.
type PostgresRecorder struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewPostgresRecorder creates a database-backed recorder
func NewPostgresRecorder(db *sql.DB, logger *observability.Logger) *PostgresRecorder {
	return &PostgresRecorder{db: db, logger: logger}
}

// Record inserts one event row
func (r *PostgresRecorder) Record(ctx context.Context, event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var metadata []byte
	if event.Metadata != nil {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			r.logger.WithError(err).Warn("failed to encode audit metadata")
			metadata = nil
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (timestamp, event_type, status, subject_id, identity, organization_id, ip_address, user_agent, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, event.Timestamp, event.Type, event.Status, event.SubjectID, nullable(event.Identity),
		event.OrganizationID, nullable(event.IPAddress), nullable(event.UserAgent), metadata)
	if err != nil {
		r.logger.WithError(err).WithField("event_type", string(event.Type)).
			Warn("failed to record audit event")
	}
}

// ListRecent returns the newest events, most recent first
func (r *PostgresRecorder) ListRecent(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, timestamp, event_type, status, subject_id, identity, organization_id, ip_address, user_agent, metadata
		FROM audit_log
		ORDER BY timestamp DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		var identity, ipAddress, userAgent sql.NullString
		var metadata []byte
		if err := rows.Scan(&event.ID, &event.Timestamp, &event.Type, &event.Status,
			&event.SubjectID, &identity, &event.OrganizationID,
			&ipAddress, &userAgent, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.Identity = identity.String
		event.IPAddress = ipAddress.String
		event.UserAgent = userAgent.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}
	return events, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
