package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/authgrid/authgrid/pkg/audit"
	"github.com/authgrid/authgrid/pkg/auth"
	"github.com/authgrid/authgrid/pkg/httputil"
	"github.com/authgrid/authgrid/pkg/middleware"
	"github.com/authgrid/authgrid/pkg/observability"
	"github.com/authgrid/authgrid/pkg/ratelimit"
	"github.com/authgrid/authgrid/pkg/session"
)

// ACLVersionSource reads an organization's current ACL version for token
// issuance. Implemented by orgs.PostgresService.
type ACLVersionSource interface {
	ACLVersion(ctx context.Context, orgID int64) (int64, error)
}

// AuthHandlers serves registration, login, refresh, logout, and session
// management.
type AuthHandlers struct {
	users    auth.UserStore
	sessions *session.Manager
	tokens   *auth.TokenService
	limiter  *ratelimit.LoginLimiter
	acl      ACLVersionSource
	logger   *observability.Logger
	metrics  *observability.Metrics
	audit    audit.Recorder
	cookie   CookieConfig
}

// NewAuthHandlers creates the handler set. metrics may be nil.
func NewAuthHandlers(users auth.UserStore, sessions *session.Manager, tokens *auth.TokenService,
	limiter *ratelimit.LoginLimiter, acl ACLVersionSource, logger *observability.Logger,
	metrics *observability.Metrics, recorder audit.Recorder, cookie CookieConfig) *AuthHandlers {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &AuthHandlers{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		limiter:  limiter,
		acl:      acl,
		logger:   logger,
		metrics:  metrics,
		audit:    recorder,
		cookie:   cookie,
	}
}

// RegisterRoutes registers the authentication routes. protected wraps
// routes that require an authenticated password-session bearer.
func (h *AuthHandlers) RegisterRoutes(router *mux.Router, protected func(http.Handler) http.Handler) {
	router.HandleFunc("/auth/register", h.register).Methods("POST")
	router.HandleFunc("/auth/login", h.login).Methods("POST")
	router.HandleFunc("/auth/refresh", h.refresh).Methods("POST")
	router.HandleFunc("/auth/logout", h.logout).Methods("POST")

	router.Handle("/auth/sessions", protected(http.HandlerFunc(h.listSessions))).Methods("GET")
	router.Handle("/auth/sessions", protected(http.HandlerFunc(h.revokeOtherSessions))).Methods("DELETE")
	router.Handle("/auth/sessions/{id}", protected(http.HandlerFunc(h.revokeSession))).Methods("DELETE")
}

func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		httputil.WriteBadRequest(w, "a valid email is required")
		return
	}
	if len(req.Password) < 8 {
		httputil.WriteBadRequest(w, "password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	user := &auth.User{
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: hash,
	}
	if err := h.users.Create(r.Context(), user); err != nil {
		writeAuthError(w, err)
		return
	}

	h.audit.Record(r.Context(), &audit.Event{
		Type:      audit.EventRegister,
		Status:    audit.StatusSuccess,
		SubjectID: &user.ID,
		Identity:  user.Email,
		IPAddress: httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	h.issueTokenPair(w, r, user, http.StatusCreated)
}

func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	ip := httputil.ClientIP(r)

	// The limiter runs before credential verification so a tripped block
	// rejects even a correct password.
	if err := h.limiter.Check(r.Context(), req.Email, ip); err != nil {
		if h.metrics != nil {
			h.metrics.RateLimitedTotal.Inc()
		}
		h.audit.Record(r.Context(), &audit.Event{
			Type:      audit.EventLoginRateLimited,
			Status:    audit.StatusDenied,
			Identity:  req.Email,
			IPAddress: ip,
			UserAgent: r.UserAgent(),
		})
		writeAuthError(w, err)
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			h.failLogin(w, r, req.Email, ip)
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		h.failLogin(w, r, req.Email, ip)
		return
	}

	if err := h.limiter.Reset(r.Context(), req.Email, ip); err != nil {
		h.logger.WithError(err).Warn("failed to reset login limiter")
	}
	if h.metrics != nil {
		h.metrics.LoginsTotal.WithLabelValues("success").Inc()
	}
	h.audit.Record(r.Context(), &audit.Event{
		Type:           audit.EventLogin,
		Status:         audit.StatusSuccess,
		SubjectID:      &user.ID,
		Identity:       user.Email,
		OrganizationID: user.OrganizationID,
		IPAddress:      ip,
		UserAgent:      r.UserAgent(),
	})
	h.issueTokenPair(w, r, user, http.StatusOK)
}

// failLogin records the attempt and returns the generic credentials
// error. The message never distinguishes unknown email from wrong
// password.
func (h *AuthHandlers) failLogin(w http.ResponseWriter, r *http.Request, email, ip string) {
	if err := h.limiter.Consume(r.Context(), email, ip); err != nil {
		h.logger.WithError(err).Warn("failed to record login failure")
	}
	if h.metrics != nil {
		h.metrics.LoginsTotal.WithLabelValues("failure").Inc()
	}
	h.audit.Record(r.Context(), &audit.Event{
		Type:      audit.EventLoginFailed,
		Status:    audit.StatusFailure,
		Identity:  email,
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	})
	writeAuthError(w, auth.ErrInvalidCredentials)
}

func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil || cookie.Value == "" {
		httputil.WriteUnauthorized(w, auth.ErrInvalidToken.Error())
		return
	}

	raw, sess, err := h.sessions.Rotate(r.Context(), cookie.Value, deviceInfo(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.SessionsRotated.Inc()
	}

	user, err := h.users.GetByID(r.Context(), sess.UserID)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	var orgID, aclVersion *int64
	if user.OrganizationID != nil {
		version, err := h.acl.ACLVersion(r.Context(), *user.OrganizationID)
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		orgID = user.OrganizationID
		aclVersion = &version
	}
	accessToken, err := h.tokens.IssueAccessToken(user, orgID, aclVersion)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.audit.Record(r.Context(), &audit.Event{
		Type:           audit.EventTokenRefresh,
		Status:         audit.StatusSuccess,
		SubjectID:      &user.ID,
		Identity:       user.Email,
		OrganizationID: user.OrganizationID,
		IPAddress:      httputil.ClientIP(r),
		UserAgent:      r.UserAgent(),
	})
	h.setRefreshCookie(w, raw)
	httputil.WriteSuccess(w, TokenResponse{
		User:        user,
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.tokens.AccessTTL().Seconds()),
	})
}

func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(RefreshCookieName)
	if err == nil && cookie.Value != "" {
		if err := h.sessions.Revoke(r.Context(), cookie.Value); err != nil {
			h.logger.WithError(err).Warn("failed to revoke session on logout")
		}
	}
	event := &audit.Event{
		Type:      audit.EventLogout,
		Status:    audit.StatusSuccess,
		IPAddress: httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
	if authCtx := middleware.GetAuthContext(r); authCtx != nil {
		event.SubjectID = &authCtx.Principal.SubjectID
		event.Identity = authCtx.Principal.Email
		event.OrganizationID = authCtx.Principal.OrganizationID
	}
	h.audit.Record(r.Context(), event)
	h.clearRefreshCookie(w)
	httputil.WriteNoContent(w)
}

func (h *AuthHandlers) listSessions(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	currentRaw := ""
	if cookie, err := r.Cookie(RefreshCookieName); err == nil {
		currentRaw = cookie.Value
	}
	sessions, err := h.sessions.List(r.Context(), authCtx.Principal.SubjectID, currentRaw)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, sessions)
}

func (h *AuthHandlers) revokeSession(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.sessions.RevokeByID(r.Context(), id, authCtx.Principal.SubjectID); err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) {
			httputil.WriteNotFoundError(w, "session not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	h.audit.Record(r.Context(), &audit.Event{
		Type:           audit.EventSessionRevoke,
		Status:         audit.StatusSuccess,
		SubjectID:      &authCtx.Principal.SubjectID,
		Identity:       authCtx.Principal.Email,
		OrganizationID: authCtx.Principal.OrganizationID,
		IPAddress:      httputil.ClientIP(r),
		UserAgent:      r.UserAgent(),
		Metadata:       map[string]interface{}{"session_id": id},
	})
	httputil.WriteNoContent(w)
}

func (h *AuthHandlers) revokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	currentRaw := ""
	if cookie, err := r.Cookie(RefreshCookieName); err == nil {
		currentRaw = cookie.Value
	}
	count, err := h.sessions.RevokeAllExceptCurrent(r.Context(), authCtx.Principal.SubjectID, currentRaw)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]int64{"revoked": count})
}

// issueTokenPair creates a session, signs an access token with the
// user's organization context at this moment, sets the refresh cookie,
// and writes the response envelope.
func (h *AuthHandlers) issueTokenPair(w http.ResponseWriter, r *http.Request, user *auth.User, status int) {
	var orgID, aclVersion *int64
	if user.OrganizationID != nil {
		version, err := h.acl.ACLVersion(r.Context(), *user.OrganizationID)
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		orgID = user.OrganizationID
		aclVersion = &version
	}

	accessToken, err := h.tokens.IssueAccessToken(user, orgID, aclVersion)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	rawRefresh, _, err := h.sessions.Create(r.Context(), user.ID, deviceInfo(r))
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.setRefreshCookie(w, rawRefresh)
	httputil.WriteJSON(w, status, TokenResponse{
		User:        user,
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.tokens.AccessTTL().Seconds()),
	})
}

// setRefreshCookie applies the cookie contract: HTTP-only, SameSite
// strict, scoped to the auth API path, Secure in production.
func (h *AuthHandlers) setRefreshCookie(w http.ResponseWriter, raw string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    raw,
		Path:     h.cookie.Path,
		MaxAge:   h.cookie.MaxAge,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandlers) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     h.cookie.Path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func deviceInfo(r *http.Request) session.DeviceInfo {
	return session.DeviceInfo{
		UserAgent: r.UserAgent(),
		IPAddress: httputil.ClientIP(r),
	}
}
