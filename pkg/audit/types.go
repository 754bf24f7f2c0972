// Package audit records security-relevant events to an append-only log:
// logins, session and key lifecycle, and permission changes.
package audit

import (
	"time"
)

// EventType categorizes an audit entry
type EventType string

const (
	EventLogin            EventType = "auth.login"
	EventLoginFailed      EventType = "auth.login_failed"
	EventLoginRateLimited EventType = "auth.login_rate_limited"
	EventRegister         EventType = "auth.register"
	EventTokenRefresh     EventType = "auth.token_refresh"
	EventLogout           EventType = "auth.logout"
	EventSessionRevoke    EventType = "auth.session_revoke"

	EventAPIKeyCreate EventType = "apikey.create"
	EventAPIKeyRevoke EventType = "apikey.revoke"

	EventPermissionGrant  EventType = "authz.permission_grant"
	EventPermissionRevoke EventType = "authz.permission_revoke"
	EventRoleChange       EventType = "authz.role_change"
)

// Status is the outcome of the recorded action
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
)

// Event is one audit log entry. SubjectID identifies the acting user
// when known; failed logins record the attempted identity instead.
type Event struct {
	ID             int64                  `json:"id"`
	Timestamp      time.Time              `json:"timestamp"`
	Type           EventType              `json:"type"`
	Status         Status                 `json:"status"`
	SubjectID      *int64                 `json:"subject_id,omitempty"`
	Identity       string                 `json:"identity,omitempty"`
	OrganizationID *int64                 `json:"organization_id,omitempty"`
	IPAddress      string                 `json:"ip_address,omitempty"`
	UserAgent      string                 `json:"user_agent,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}
