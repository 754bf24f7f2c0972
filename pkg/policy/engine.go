package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/authgrid/authgrid/pkg/auth"
	"github.com/authgrid/authgrid/pkg/cache"
	"github.com/authgrid/authgrid/pkg/orgs"
)

const (
	permCacheName = "permission"
	// PermissionTTL is the lifetime of a cached permission set. Stale
	// entries under an old ACL version are unreachable anyway; the TTL
	// only bounds memory.
	PermissionTTL = time.Hour
)

// PermissionSource loads a member's effective permission set from the
// relational store. Implemented by orgs.PostgresService.
type PermissionSource interface {
	PermissionsForMember(ctx context.Context, orgID, userID int64) ([]orgs.Permission, error)
}

// Engine resolves a principal's effective rule set.
type Engine struct {
	cache  *cache.Engine
	source PermissionSource
}

// NewEngine creates a policy engine over the cache-aside engine and the
// permission source.
func NewEngine(cacheEngine *cache.Engine, source PermissionSource) *Engine {
	return &Engine{cache: cacheEngine, source: source}
}

// Resolve builds the ordered rule list for a principal.
//
// Super admins bypass the cache entirely. Principals without organization
// context get minimal self-service rules. Everyone else resolves through
// the permission cache, keyed by (org, user, aclVersion) so that version
// bumps invalidate without explicit deletion.
func (e *Engine) Resolve(ctx context.Context, principal *auth.Principal) (*Ruleset, error) {
	if principal.SystemRole == auth.SystemRoleSuperAdmin {
		return NewRuleset([]Rule{{Action: ActionManage, Subject: SubjectAll}}), nil
	}

	if !principal.HasOrgContext() {
		return NewRuleset(selfRules(principal)), nil
	}

	key := fmt.Sprintf("perm:%d:%d:%d", *principal.OrganizationID, principal.SubjectID, *principal.ACLVersion)
	permissions, err := cache.GetOrLoad(ctx, e.cache, permCacheName, key, PermissionTTL,
		func(ctx context.Context) ([]orgs.Permission, time.Duration, error) {
			perms, err := e.source.PermissionsForMember(ctx, *principal.OrganizationID, principal.SubjectID)
			if err != nil {
				return nil, 0, err
			}
			return perms, 0, nil
		})
	if err != nil {
		return nil, err
	}

	if principal.Scopes != nil {
		permissions = intersectScopes(permissions, principal.Scopes)
	}

	vars := map[string]interface{}{"user": principalVars(principal)}
	rules := make([]Rule, 0, len(permissions))
	for _, p := range permissions {
		rule := Rule{
			Action:   p.Action,
			Subject:  p.Subject,
			Fields:   p.Fields,
			Inverted: p.Inverted,
		}
		if p.Conditions != nil {
			interpolated, _ := interpolate(p.Conditions, vars).(map[string]interface{})
			rule.Conditions = interpolated
		}
		rules = append(rules, rule)
	}
	return NewRuleset(rules), nil
}

// selfRules are the minimal capabilities of a principal with no
// organization context: reading and updating its own user record.
func selfRules(principal *auth.Principal) []Rule {
	selfCondition := map[string]interface{}{"id": principal.SubjectID}
	return []Rule{
		{Action: "read", Subject: "User", Conditions: selfCondition},
		{Action: "update", Subject: "User", Conditions: selfCondition},
	}
}

// intersectScopes keeps only permissions whose action:subject string is
// present in the API key's scope list.
func intersectScopes(permissions []orgs.Permission, scopes []string) []orgs.Permission {
	allowed := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		allowed[s] = true
	}
	filtered := make([]orgs.Permission, 0, len(permissions))
	for _, p := range permissions {
		if allowed[p.Action+":"+p.Subject] {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// principalVars exposes the principal to condition templates under the
// "user" namespace.
func principalVars(p *auth.Principal) map[string]interface{} {
	vars := map[string]interface{}{
		"subjectId":  p.SubjectID,
		"id":         p.SubjectID,
		"email":      p.Email,
		"systemRole": string(p.SystemRole),
		"kind":       string(p.Kind),
	}
	if p.OrganizationID != nil {
		vars["organizationId"] = *p.OrganizationID
	}
	if p.ACLVersion != nil {
		vars["aclVersion"] = *p.ACLVersion
	}
	return vars
}
