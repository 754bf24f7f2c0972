package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/authgrid/authgrid/pkg/apikey"
	"github.com/authgrid/authgrid/pkg/audit"
	"github.com/authgrid/authgrid/pkg/auth"
	"github.com/authgrid/authgrid/pkg/httputil"
	"github.com/authgrid/authgrid/pkg/middleware"
	"github.com/authgrid/authgrid/pkg/observability"
)

// APIKeyHandlers serves API key issuance, listing, and revocation.
// All routes require a password-session bearer; keys cannot mint keys.
type APIKeyHandlers struct {
	keys   *apikey.Service
	logger *observability.Logger
	audit  audit.Recorder
}

// NewAPIKeyHandlers creates the handler set
func NewAPIKeyHandlers(keys *apikey.Service, logger *observability.Logger, recorder audit.Recorder) *APIKeyHandlers {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &APIKeyHandlers{keys: keys, logger: logger, audit: recorder}
}

// RegisterRoutes registers the API key routes behind the protected wrapper
func (h *APIKeyHandlers) RegisterRoutes(router *mux.Router, protected func(http.Handler) http.Handler) {
	router.Handle("/auth/keys", protected(http.HandlerFunc(h.create))).Methods("POST")
	router.Handle("/auth/keys", protected(http.HandlerFunc(h.list))).Methods("GET")
	router.Handle("/auth/keys/{id}", protected(http.HandlerFunc(h.revoke))).Methods("DELETE")
}

func (h *APIKeyHandlers) create(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req struct {
		Name          string   `json:"name"`
		Scopes        []string `json:"scopes"`
		ExpiresInDays int      `json:"expires_in_days,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}
	if len(req.Scopes) == 0 {
		httputil.WriteBadRequest(w, "at least one scope is required")
		return
	}
	var expiresAt *time.Time
	if req.ExpiresInDays > 0 {
		t := time.Now().UTC().AddDate(0, 0, req.ExpiresInDays)
		expiresAt = &t
	}

	key, fullKey, err := h.keys.Issue(r.Context(), authCtx.Principal.SubjectID, req.Name, req.Scopes, expiresAt)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.audit.Record(r.Context(), &audit.Event{
		Type:           audit.EventAPIKeyCreate,
		Status:         audit.StatusSuccess,
		SubjectID:      &authCtx.Principal.SubjectID,
		Identity:       authCtx.Principal.Email,
		OrganizationID: authCtx.Principal.OrganizationID,
		IPAddress:      httputil.ClientIP(r),
		UserAgent:      r.UserAgent(),
		Metadata:       map[string]interface{}{"key_id": key.ID, "name": key.Name},
	})

	// The full key string is returned exactly once and never again.
	httputil.WriteCreated(w, map[string]interface{}{
		"api_key": key,
		"key":     fullKey,
	})
}

func (h *APIKeyHandlers) list(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	keys, err := h.keys.ListForUser(r.Context(), authCtx.Principal.SubjectID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, keys)
}

func (h *APIKeyHandlers) revoke(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.keys.Revoke(r.Context(), id, authCtx.Principal.SubjectID); err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			httputil.WriteNotFoundError(w, "api key not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	h.audit.Record(r.Context(), &audit.Event{
		Type:           audit.EventAPIKeyRevoke,
		Status:         audit.StatusSuccess,
		SubjectID:      &authCtx.Principal.SubjectID,
		Identity:       authCtx.Principal.Email,
		OrganizationID: authCtx.Principal.OrganizationID,
		IPAddress:      httputil.ClientIP(r),
		UserAgent:      r.UserAgent(),
		Metadata:       map[string]interface{}{"key_id": id},
	})
	httputil.WriteNoContent(w)
}
