package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SecretLength is the number of random bytes in refresh and one-time
// secrets (32 bytes = 256 bits).
const SecretLength = 32

// Claims are the JWT claims carried by access tokens.
type Claims struct {
	Email          string     `json:"email"`
	SystemRole     SystemRole `json:"system_role"`
	OrganizationID *int64     `json:"org_id,omitempty"`
	ACLVersion     *int64     `json:"acl_version,omitempty"`
	jwt.RegisteredClaims
}

// SubjectID parses the subject claim as a user ID
func (c *Claims) SubjectID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid subject claim %q: %w", c.Subject, err)
	}
	return id, nil
}

// TokenService issues and verifies short-lived signed access tokens, and
// generates/hashes the opaque secrets used for refresh tokens, API keys,
// and one-time tokens.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenService creates a token service. refreshDays is the refresh
// token lifetime in days.
func NewTokenService(secret, issuer string, accessTTL time.Duration, refreshDays int) *TokenService {
	return &TokenService{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: time.Duration(refreshDays) * 24 * time.Hour,
	}
}

// IssueAccessToken signs a compact HS256 token for the principal's claims
func (s *TokenService) IssueAccessToken(user *User, orgID, aclVersion *int64) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Email:          user.Email,
		SystemRole:     user.SystemRole,
		OrganizationID: orgID,
		ACLVersion:     aclVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken validates the signature and registered claims.
// Any failure maps to ErrInvalidToken; an expired token additionally
// matches ErrTokenExpired.
func (s *TokenService) VerifyAccessToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, ErrInvalidToken)
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// NewRefreshSecret generates a high-entropy opaque secret, returned once
// to the caller in plaintext. Only its hash is ever stored.
func (s *TokenService) NewRefreshSecret() (string, error) {
	buf := make([]byte, SecretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashSecret computes the SHA-256 hex digest of an opaque secret. Used for
// refresh tokens and one-time tokens (password reset, email verification).
func (s *TokenService) HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// RefreshExpiry returns the expiry timestamp for a refresh token issued now
func (s *TokenService) RefreshExpiry() time.Time {
	return time.Now().UTC().Add(s.refreshTTL)
}

// AccessTTL returns the configured access token lifetime
func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

// RefreshTTL returns the configured refresh token lifetime
func (s *TokenService) RefreshTTL() time.Duration {
	return s.refreshTTL
}
