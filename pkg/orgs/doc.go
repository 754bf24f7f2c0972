// Package orgs persists organizations, roles, permissions, and
// memberships, and owns the ACL version counter.
//
// The counter is the permission cache's only invalidation mechanism:
// role assignment changes, permission grants/revokes, and role deletions
// each increment it inside the same transaction as the mutation. Cache
// entries keyed under the old version simply become unreachable and age
// out by TTL.
package orgs
