package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/authgrid/authgrid/pkg/httputil"
)

// HealthChecker runs registered dependency probes for liveness/readiness
type HealthChecker struct {
	mu     sync.Mutex
	checks map[string]CheckFunc
}

// CheckFunc probes a single dependency
type CheckFunc func(ctx context.Context) error

// NewHealthChecker creates an empty health checker
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]CheckFunc)}
}

// Register adds a named dependency probe
func (h *HealthChecker) Register(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// LivenessHandler always reports ok once the process is serving
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteSuccess(w, map[string]string{"status": "ok"})
	})
}

// ReadinessHandler runs all registered probes with a short timeout
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		h.mu.Lock()
		checks := make(map[string]CheckFunc, len(h.checks))
		for name, fn := range h.checks {
			checks[name] = fn
		}
		h.mu.Unlock()

		results := make(map[string]string, len(checks))
		healthy := true
		for name, fn := range checks {
			if err := fn(ctx); err != nil {
				results[name] = err.Error()
				healthy = false
			} else {
				results[name] = "ok"
			}
		}

		status := http.StatusOK
		overall := "ok"
		if !healthy {
			status = http.StatusServiceUnavailable
			overall = "degraded"
		}
		httputil.WriteJSON(w, status, map[string]interface{}{
			"status": overall,
			"checks": results,
		})
	})
}
