package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the authentication/authorization taxonomy.
// Callers match with errors.Is.
var (
	// ErrInvalidCredentials covers unknown email, wrong password, and
	// accounts without a password. The message is deliberately generic to
	// prevent account enumeration.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrInvalidToken indicates a bad signature, malformed token, or a
	// refresh-token lookup failure.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired indicates a token past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrSessionNotFound indicates the refresh-token hash has no session row.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired indicates the session row existed but was past its
	// expiry; the row is deleted as a side effect of detection.
	ErrSessionExpired = errors.New("session expired")

	// ErrMalformedKey indicates an API key string with an invalid shape.
	ErrMalformedKey = errors.New("malformed API key")

	// ErrUserNotFound indicates the subject no longer exists. A valid token
	// for a deleted account fails closed with this error.
	ErrUserNotFound = errors.New("user not found")

	// ErrNotAMember indicates a missing organization membership.
	ErrNotAMember = errors.New("not an organization member")

	// ErrForbidden indicates the principal lacks a required role or capability.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates a uniqueness violation (email, slug, role name).
	ErrConflict = errors.New("resource already exists")
)

// RateLimitedError is returned when the login rate limiter trips.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many requests, retry after %d seconds", e.RetryAfterSeconds)
}

// IsAuthFailure reports whether err is any credential, token, or session
// failure that should surface to the caller as a 401-equivalent.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrMalformedKey) ||
		errors.Is(err, ErrUserNotFound)
}
