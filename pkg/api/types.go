package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/authgrid/authgrid/pkg/auth"
	"github.com/authgrid/authgrid/pkg/httputil"
)

// RefreshCookieName is the cookie carrying the raw refresh token
const RefreshCookieName = "authgrid_refresh"

// CookieConfig controls the refresh-token cookie contract
type CookieConfig struct {
	Path   string
	MaxAge int
	Secure bool
}

// TokenResponse is the envelope returned by register/login/refresh
type TokenResponse struct {
	User        *auth.User `json:"user,omitempty"`
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresIn   int        `json:"expires_in"`
}

// writeAuthError maps the error taxonomy onto HTTP responses. Credential,
// token, and session failures become 401s; conflicts 409; rate limits 429
// with Retry-After; everything else propagates as 500.
func writeAuthError(w http.ResponseWriter, err error) {
	var rateLimited *auth.RateLimitedError
	if errors.As(err, &rateLimited) {
		w.Header().Set("Retry-After", strconv.Itoa(rateLimited.RetryAfterSeconds))
		httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":       "too many requests",
			"retry_after": rateLimited.RetryAfterSeconds,
		})
		return
	}
	if errors.Is(err, auth.ErrConflict) {
		httputil.WriteConflict(w, err.Error())
		return
	}
	if errors.Is(err, auth.ErrForbidden) || errors.Is(err, auth.ErrNotAMember) {
		httputil.WriteForbidden(w, err.Error())
		return
	}
	if auth.IsAuthFailure(err) {
		httputil.WriteUnauthorized(w, err.Error())
		return
	}
	httputil.WriteInternalError(w, err)
}
