// Package auth provides the core identity primitives: principals, the
// error taxonomy shared across the authentication subsystem, JWT access
// token issuance/verification, opaque secret generation and hashing, and
// password hashing.
//
// Access tokens are compact HS256 JWTs carrying the subject, email,
// system role, and (when the user has an organization) the organization
// ID and its ACL version at issue time. The ACL version claim is what
// bounds permission staleness to the token lifetime: policy resolution
// caches rules under a key that embeds it, so a bumped version makes old
// cache entries unreachable without any explicit invalidation.
//
// Refresh tokens and API-key secrets are opaque random values; only
// their SHA-256 hex digests are persisted.
package auth
