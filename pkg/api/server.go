// Package api exposes the authentication subsystem over HTTP:
// register/login/refresh/logout with the refresh-cookie contract,
// session management, and API key lifecycle endpoints.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/authgrid/authgrid/pkg/httputil"
	"github.com/authgrid/authgrid/pkg/middleware"
	"github.com/authgrid/authgrid/pkg/observability"
	"github.com/authgrid/authgrid/pkg/policy"
)

// Server assembles the HTTP routing for the auth subsystem
type Server struct {
	router *mux.Router
}

// NewServer wires handlers and middleware into a router. The default
// protected requirement accepts password-session bearers only; routes
// that also accept API keys declare so explicitly.
func NewServer(authHandlers *AuthHandlers, keyHandlers *APIKeyHandlers, orgHandlers *OrgHandlers,
	mw *middleware.Middleware, jwtAuth, apiKeyAuth middleware.Authenticator,
	health *observability.HealthChecker, metrics *observability.Metrics) *Server {

	router := mux.NewRouter()
	router.Use(httputil.RequestIDMiddleware)
	router.Use(metrics.Middleware)
	api := router.PathPrefix("/api/v1").Subrouter()

	protected := mw.Require(middleware.Requirement{
		Methods: []middleware.Authenticator{jwtAuth},
	})
	manageOrg := mw.Require(middleware.Requirement{
		Methods: []middleware.Authenticator{jwtAuth},
		Checks:  []middleware.Check{{Action: policy.ActionManage, Subject: "Organization"}},
	})

	authHandlers.RegisterRoutes(api, protected)
	keyHandlers.RegisterRoutes(api, protected)
	orgHandlers.RegisterRoutes(api, protected, manageOrg)

	router.Handle("/healthz", health.LivenessHandler()).Methods("GET")
	router.Handle("/readyz", health.ReadinessHandler()).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	// Dual-method route: accepts either a session bearer or an API key.
	api.Handle("/me", mw.Require(middleware.Requirement{
		Methods: []middleware.Authenticator{jwtAuth, apiKeyAuth},
	})(http.HandlerFunc(me))).Methods("GET")

	return &Server{router: router}
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// me returns the caller's principal and resolved rules, useful for
// debugging scope intersections.
func me(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"principal": authCtx.Principal,
		"rules":     authCtx.Rules.Rules,
	})
}
