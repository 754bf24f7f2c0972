package orgs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/authgrid/authgrid/pkg/auth"
)

const uniqueViolation = "23505"

// PostgresService implements organization, role, and permission
// persistence using PostgreSQL.
//
// Every mutation that changes a member's effective permissions runs in a
// single transaction whose final statement increments the organization's
// acl_version. The bump is what invalidates the permission cache; no
// cache keys are ever deleted explicitly.
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// CreateOrganization creates an organization plus the owner's membership
// and admin role in one transaction.
func (s *PostgresService) CreateOrganization(ctx context.Context, org *Organization) error {
	if org.Slug == "" {
		org.Slug = generateSlug(org.Name)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO organizations (name, slug, owner_id, acl_version, is_active)
		VALUES ($1, $2, $3, 1, true)
		RETURNING id, acl_version, created_at, updated_at
	`, org.Name, org.Slug, org.OwnerID).
		Scan(&org.ID, &org.ACLVersion, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return fmt.Errorf("slug %s: %w", org.Slug, auth.ErrConflict)
		}
		return fmt.Errorf("failed to create organization: %w", err)
	}

	var memberID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO org_members (organization_id, user_id)
		VALUES ($1, $2)
		RETURNING id
	`, org.ID, org.OwnerID).Scan(&memberID)
	if err != nil {
		return fmt.Errorf("failed to create owner membership: %w", err)
	}

	var roleID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO roles (organization_id, name)
		VALUES ($1, 'admin')
		RETURNING id
	`, org.ID).Scan(&roleID)
	if err != nil {
		return fmt.Errorf("failed to create admin role: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO member_roles (member_id, role_id) VALUES ($1, $2)
	`, memberID, roleID); err != nil {
		return fmt.Errorf("failed to assign admin role: %w", err)
	}

	// The admin role carries manage:Organization so the owner can
	// administer the tenant without a separate grant step.
	var permissionID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO permissions (action, subject, conditions, fields, inverted, organization_id)
		VALUES ('manage', 'Organization', NULL, NULL, false, $1)
		RETURNING id
	`, org.ID).Scan(&permissionID)
	if err != nil {
		return fmt.Errorf("failed to create admin permission: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
	`, roleID, permissionID); err != nil {
		return fmt.Errorf("failed to link admin permission: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE users SET organization_id = $1, updated_at = NOW() WHERE id = $2
	`, org.ID, org.OwnerID); err != nil {
		return fmt.Errorf("failed to link owner: %w", err)
	}

	return tx.Commit()
}

// GetOrganization retrieves an organization by ID
func (s *PostgresService) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	org := &Organization{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, owner_id, acl_version, is_active, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`, id).Scan(&org.ID, &org.Name, &org.Slug, &org.OwnerID, &org.ACLVersion,
		&org.IsActive, &org.CreatedAt, &org.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("organization %d: %w", id, auth.ErrNotAMember)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// ACLVersion returns the current ACL version for an organization
func (s *PostgresService) ACLVersion(ctx context.Context, orgID int64) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT acl_version FROM organizations WHERE id = $1`, orgID).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("organization %d: %w", orgID, auth.ErrNotAMember)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read acl version: %w", err)
	}
	return version, nil
}

// BumpACLVersion increments the organization's ACL version outside any
// other transaction. Surrounding-system mutation triggers call this as
// their final step.
func (s *PostgresService) BumpACLVersion(ctx context.Context, orgID int64) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE organizations SET acl_version = acl_version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING acl_version
	`, orgID).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("organization %d: %w", orgID, auth.ErrNotAMember)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to bump acl version: %w", err)
	}
	return version, nil
}

func bumpACLVersionTx(ctx context.Context, tx *sql.Tx, orgID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE organizations SET acl_version = acl_version + 1, updated_at = NOW()
		WHERE id = $1
	`, orgID)
	if err != nil {
		return fmt.Errorf("failed to bump acl version: %w", err)
	}
	return nil
}

// AddMember adds a user to an organization. Membership alone grants no
// permissions, so no bump happens until a role is assigned.
func (s *PostgresService) AddMember(ctx context.Context, orgID, userID int64) (*Member, error) {
	m := &Member{OrganizationID: orgID, UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO org_members (organization_id, user_id)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, orgID, userID).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return nil, fmt.Errorf("member: %w", auth.ErrConflict)
		}
		return nil, fmt.Errorf("failed to add member: %w", err)
	}
	return m, nil
}

// RemoveMember deletes a membership and all its role assignments, then
// bumps the ACL version, all in one transaction.
func (s *PostgresService) RemoveMember(ctx context.Context, orgID, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `
		DELETE FROM member_roles
		WHERE member_id IN (SELECT id FROM org_members WHERE organization_id = $1 AND user_id = $2)
	`, orgID, userID); err != nil {
		return fmt.Errorf("failed to remove member roles: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		DELETE FROM org_members WHERE organization_id = $1 AND user_id = $2
	`, orgID, userID); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if err = bumpACLVersionTx(ctx, tx, orgID); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateRole creates an empty role. A role with no permissions changes no
// member's effective set, so no bump.
func (s *PostgresService) CreateRole(ctx context.Context, orgID int64, name string) (*Role, error) {
	role := &Role{OrganizationID: orgID, Name: name}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO roles (organization_id, name)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, orgID, name).Scan(&role.ID, &role.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return nil, fmt.Errorf("role %s: %w", name, auth.ErrConflict)
		}
		return nil, fmt.Errorf("failed to create role: %w", err)
	}
	return role, nil
}

// DeleteRole removes a role, its permission links, and its member
// assignments, then bumps the ACL version.
func (s *PostgresService) DeleteRole(ctx context.Context, orgID, roleID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to unlink role permissions: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM member_roles WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to unassign role: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM roles WHERE id = $1 AND organization_id = $2`, roleID, orgID); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if err = bumpACLVersionTx(ctx, tx, orgID); err != nil {
		return err
	}
	return tx.Commit()
}

// AssignRole links a role to a member and bumps the ACL version
func (s *PostgresService) AssignRole(ctx context.Context, orgID, memberID, roleID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO member_roles (member_id, role_id) VALUES ($1, $2)
	`, memberID, roleID); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return fmt.Errorf("assignment: %w", auth.ErrConflict)
		}
		return fmt.Errorf("failed to assign role: %w", err)
	}
	if err = bumpACLVersionTx(ctx, tx, orgID); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveRoleAssignment unlinks a role from a member and bumps the ACL version
func (s *PostgresService) RemoveRoleAssignment(ctx context.Context, orgID, memberID, roleID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `
		DELETE FROM member_roles WHERE member_id = $1 AND role_id = $2
	`, memberID, roleID); err != nil {
		return fmt.Errorf("failed to remove role assignment: %w", err)
	}
	if err = bumpACLVersionTx(ctx, tx, orgID); err != nil {
		return err
	}
	return tx.Commit()
}

// GrantPermission creates a permission record, links it to the role, and
// bumps the ACL version, all in one transaction.
func (s *PostgresService) GrantPermission(ctx context.Context, orgID, roleID int64, perm *Permission) error {
	conditionsJSON, err := marshalConditions(perm.Conditions)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO permissions (action, subject, conditions, fields, inverted, organization_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, perm.Action, perm.Subject, conditionsJSON, pq.Array(perm.Fields), perm.Inverted, orgID).
		Scan(&perm.ID)
	if err != nil {
		return fmt.Errorf("failed to create permission: %w", err)
	}
	perm.OrganizationID = &orgID

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
	`, roleID, perm.ID); err != nil {
		return fmt.Errorf("failed to link permission: %w", err)
	}
	if err = bumpACLVersionTx(ctx, tx, orgID); err != nil {
		return err
	}
	return tx.Commit()
}

// RevokePermission unlinks a permission from a role and bumps the ACL version
func (s *PostgresService) RevokePermission(ctx context.Context, orgID, roleID, permissionID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `
		DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2
	`, roleID, permissionID); err != nil {
		return fmt.Errorf("failed to unlink permission: %w", err)
	}
	if err = bumpACLVersionTx(ctx, tx, orgID); err != nil {
		return err
	}
	return tx.Commit()
}

// PermissionsForMember resolves a member's effective permission set: the
// union over all assigned roles' permissions, deduplicated by permission
// ID. A non-member gets an empty set, not an error.
func (s *PostgresService) PermissionsForMember(ctx context.Context, orgID, userID int64) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.action, p.subject, p.conditions, p.fields, p.inverted, p.organization_id
		FROM org_members m
		JOIN member_roles mr ON mr.member_id = m.id
		JOIN role_permissions rp ON rp.role_id = mr.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE m.organization_id = $1 AND m.user_id = $2
		ORDER BY p.id ASC
	`, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load member permissions: %w", err)
	}
	defer rows.Close()

	seen := make(map[int64]bool)
	var permissions []Permission
	for rows.Next() {
		var p Permission
		var conditionsJSON []byte
		var fields pq.StringArray
		if err := rows.Scan(&p.ID, &p.Action, &p.Subject, &conditionsJSON, &fields,
			&p.Inverted, &p.OrganizationID); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		if len(conditionsJSON) > 0 {
			if err := json.Unmarshal(conditionsJSON, &p.Conditions); err != nil {
				return nil, fmt.Errorf("failed to decode conditions for permission %d: %w", p.ID, err)
			}
		}
		p.Fields = []string(fields)
		permissions = append(permissions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}
	return permissions, nil
}

func marshalConditions(conditions map[string]interface{}) ([]byte, error) {
	if conditions == nil {
		return nil, nil
	}
	data, err := json.Marshal(conditions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conditions: %w", err)
	}
	return data, nil
}

func generateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	var b strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-")
}
