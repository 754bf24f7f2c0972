// Package middleware implements the per-request authentication pipeline:
// try each declared authenticator in order, resolve the principal's
// policy rules once, then evaluate system-role and capability
// requirements against the attached context.
package middleware

import (
	"context"
	"net/http"

	"github.com/authgrid/authgrid/pkg/auth"
	"github.com/authgrid/authgrid/pkg/contextkeys"
	"github.com/authgrid/authgrid/pkg/httputil"
	"github.com/authgrid/authgrid/pkg/observability"
	"github.com/authgrid/authgrid/pkg/policy"
)

// AuthContext is the per-request authentication result attached to the
// request context: the principal plus its resolved rules. Rules are
// built once per request, not once per check.
type AuthContext struct {
	Principal *auth.Principal
	Rules     *policy.Ruleset
}

// Check is one declared capability requirement
type Check struct {
	Action  string
	Subject string
}

// Requirement declares a route's authentication and authorization needs.
// A nil Methods list means the route is public.
type Requirement struct {
	Methods     []Authenticator
	SystemRoles []auth.SystemRole
	Checks      []Check
}

// Middleware wires authenticators to the policy engine
type Middleware struct {
	policy  *policy.Engine
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewMiddleware creates the authentication middleware. metrics may be nil.
func NewMiddleware(policyEngine *policy.Engine, logger *observability.Logger, metrics *observability.Metrics) *Middleware {
	return &Middleware{policy: policyEngine, logger: logger, metrics: metrics}
}

// Require wraps a handler with the declared requirement
func (m *Middleware) Require(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(req.Methods) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			principal := m.authenticate(r, req.Methods)
			if principal == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			rules, err := m.policy.Resolve(r.Context(), principal)
			if err != nil {
				m.logger.WithError(err).WithField("subject", principal.SubjectID).
					Error("policy resolution failed")
				httputil.WriteInternalError(w, err)
				return
			}

			if len(req.SystemRoles) > 0 && !roleAllowed(principal.SystemRole, req.SystemRoles) {
				httputil.WriteForbidden(w, "insufficient role")
				return
			}
			for _, check := range req.Checks {
				if !rules.Can(check.Action, check.Subject) {
					httputil.WriteForbidden(w, "insufficient permissions")
					return
				}
			}

			ctx := context.WithValue(r.Context(), contextkeys.AuthKey, &AuthContext{
				Principal: principal,
				Rules:     rules,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authenticate tries each declared method in order until one produces a
// principal.
func (m *Middleware) authenticate(r *http.Request, methods []Authenticator) *auth.Principal {
	for _, method := range methods {
		principal, err := method.Authenticate(r)
		if err == nil {
			if m.metrics != nil {
				m.metrics.AuthAttemptsTotal.WithLabelValues(method.Name(), "success").Inc()
			}
			return principal
		}
		if m.metrics != nil {
			m.metrics.AuthAttemptsTotal.WithLabelValues(method.Name(), "failure").Inc()
		}
		m.logger.WithError(err).WithField("method", method.Name()).
			Debug("authentication method failed")
	}
	return nil
}

func roleAllowed(role auth.SystemRole, allowed []auth.SystemRole) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}

// GetAuthContext extracts the auth context from a request. Nil when the
// route is public or the middleware did not run.
func GetAuthContext(r *http.Request) *AuthContext {
	value := r.Context().Value(contextkeys.AuthKey)
	if value == nil {
		return nil
	}
	authCtx, ok := value.(*AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}
