// Package cache implements the shared cache-aside primitive used by the
// user cache and the permission cache.
//
// # Stampede protection
//
// A cache miss attempts to take a short-lived advisory lock via SET NX.
// The winner loads from the backing store and populates the key; losers
// retry the whole lookup at a fixed interval. The retry loop is bounded
// (DefaultMaxAttempts) and returns ErrLockTimeout past the bound rather
// than growing without limit under sustained contention.
//
// # Metrics
//
// Each engine carries an injected, resettable Metrics instance counting
// hits, misses, and backing-store loads, so tests can assert that M
// concurrent misses on one key produce exactly one load.
package cache
