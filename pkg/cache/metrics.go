package cache

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks cache effectiveness for one engine instance.
//
// Counters are process-local and resettable so tests can assert exact
// load counts. Optional Prometheus counters mirror the atomics when the
// engine is wired into the observability registry.
type Metrics struct {
	hits         atomic.Int64
	misses       atomic.Int64
	dbQueries    atomic.Int64
	lockTimeouts atomic.Int64

	promHits         *prometheus.CounterVec
	promMisses       *prometheus.CounterVec
	promLoads        *prometheus.CounterVec
	promLockTimeouts prometheus.Counter
}

// NewMetrics creates a zeroed metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// WithCollectors mirrors counts onto Prometheus counter vecs labeled by
// cache name. Any vec may be nil.
func (m *Metrics) WithCollectors(hits, misses, loads *prometheus.CounterVec) *Metrics {
	m.promHits = hits
	m.promMisses = misses
	m.promLoads = loads
	return m
}

// Hit records a cache hit
func (m *Metrics) Hit(cacheName string) {
	m.hits.Add(1)
	if m.promHits != nil {
		m.promHits.WithLabelValues(cacheName).Inc()
	}
}

// Miss records a cache miss
func (m *Metrics) Miss(cacheName string) {
	m.misses.Add(1)
	if m.promMisses != nil {
		m.promMisses.WithLabelValues(cacheName).Inc()
	}
}

// WithLockTimeoutCollector mirrors lock-timeout counts onto a Prometheus
// counter. May be nil.
func (m *Metrics) WithLockTimeoutCollector(c prometheus.Counter) *Metrics {
	m.promLockTimeouts = c
	return m
}

// DBQuery records one backing-store load
func (m *Metrics) DBQuery(cacheName string) {
	m.dbQueries.Add(1)
	if m.promLoads != nil {
		m.promLoads.WithLabelValues(cacheName).Inc()
	}
}

// LockTimeout records one lock acquisition that exhausted its retries
func (m *Metrics) LockTimeout() {
	m.lockTimeouts.Add(1)
	if m.promLockTimeouts != nil {
		m.promLockTimeouts.Inc()
	}
}

// LockTimeoutCount returns the number of lock timeouts so far
func (m *Metrics) LockTimeoutCount() int64 {
	return m.lockTimeouts.Load()
}

// Snapshot returns the current counter values
func (m *Metrics) Snapshot() (hits, misses, dbQueries int64) {
	return m.hits.Load(), m.misses.Load(), m.dbQueries.Load()
}

// Reset zeroes the atomic counters. Idempotent; Prometheus counters are
// monotonic by contract and are left untouched.
func (m *Metrics) Reset() {
	m.hits.Store(0)
	m.misses.Store(0)
	m.dbQueries.Store(0)
	m.lockTimeouts.Store(0)
}
