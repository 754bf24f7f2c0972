package orgs

import "time"

// Organization is a tenant. ACLVersion is a monotonically incrementing
// counter bumped by every mutation that changes a member's effective
// permissions; it is the sole invalidation mechanism for the permission
// cache.
type Organization struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	OwnerID    int64     `json:"owner_id"`
	ACLVersion int64     `json:"acl_version"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Role is a named permission bundle inside one organization
type Role struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

// Permission is a single grant (or explicit deny, when Inverted) of an
// action on a subject. A nil OrganizationID denotes a system-wide
// permission. Conditions is a template object whose ${user.path} tokens
// are interpolated per principal at policy resolution time.
type Permission struct {
	ID             int64                  `json:"id"`
	Action         string                 `json:"action"`
	Subject        string                 `json:"subject"`
	Conditions     map[string]interface{} `json:"conditions,omitempty"`
	Fields         []string               `json:"fields,omitempty"`
	Inverted       bool                   `json:"inverted"`
	OrganizationID *int64                 `json:"organization_id,omitempty"`
}

// Member links a user to an organization
type Member struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	UserID         int64     `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
}
