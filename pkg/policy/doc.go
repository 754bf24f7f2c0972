// Package policy resolves a principal's effective capability rules.
//
// Resolution joins membership to roles to permissions through the
// permission cache, intersects API-key scopes, and interpolates
// ${user.*} condition templates per principal. The resulting Ruleset
// answers Can(action, subject) and record-level CanRecord checks with
// last-rule-wins semantics and explicit inverted denies.
package policy
