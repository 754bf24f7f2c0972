package auth

import (
	"context"
	"time"
)

// SystemRole is the instance-wide role of a user, independent of any
// organization membership.
type SystemRole string

const (
	SystemRoleUser       SystemRole = "user"
	SystemRoleSuperAdmin SystemRole = "super_admin"
)

// PrincipalKind identifies how a principal authenticated
type PrincipalKind string

const (
	KindPassword PrincipalKind = "password"
	KindAPIKey   PrincipalKind = "api_key"
)

// Principal is the resolved identity and claims for one request.
// It is produced fresh per request and never persisted.
type Principal struct {
	SubjectID      int64         `json:"subject_id"`
	Email          string        `json:"email"`
	Kind           PrincipalKind `json:"kind"`
	SystemRole     SystemRole    `json:"system_role"`
	OrganizationID *int64        `json:"organization_id,omitempty"`
	// ACLVersion is the organization ACL version the principal was issued
	// against. Absent when the principal has no organization context.
	ACLVersion *int64 `json:"acl_version,omitempty"`
	// Scopes restricts API-key principals to a subset of the owner's
	// permissions. Password principals carry none.
	Scopes []string `json:"scopes,omitempty"`
}

// HasOrgContext reports whether the principal carries a full organization context
func (p *Principal) HasOrgContext() bool {
	return p.OrganizationID != nil && p.ACLVersion != nil
}

// User represents a registered account
type User struct {
	ID             int64      `json:"id"`
	Email          string     `json:"email"`
	Name           string     `json:"name"`
	PasswordHash   string     `json:"-"`
	SystemRole     SystemRole `json:"system_role"`
	OrganizationID *int64     `json:"organization_id,omitempty"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// UserStore persists user accounts
type UserStore interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
}
