package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgrid/authgrid/pkg/auth"
	"github.com/authgrid/authgrid/pkg/contextkeys"
	"github.com/authgrid/authgrid/pkg/middleware"
	"github.com/authgrid/authgrid/pkg/observability"
	"github.com/authgrid/authgrid/pkg/ratelimit"
	"github.com/authgrid/authgrid/pkg/session"
)

// Hashing is expensive at the production cost factor, so tests share one
// precomputed hash.
var (
	testPasswordHash string
	hashOnce         sync.Once
)

const testPassword = "correct horse battery staple"

func passwordHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		hash, err := auth.HashPassword(testPassword)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		testPasswordHash = hash
	})
	return testPasswordHash
}

type memoryUserStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*auth.User
}

func newMemoryUserStore() *memoryUserStore {
	return &memoryUserStore{users: map[int64]*auth.User{}}
}

func (m *memoryUserStore) Create(ctx context.Context, user *auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return fmt.Errorf("email %s: %w", user.Email, auth.ErrConflict)
		}
	}
	m.nextID++
	user.ID = m.nextID
	user.IsActive = true
	if user.SystemRole == "" {
		user.SystemRole = auth.SystemRoleUser
	}
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *memoryUserStore) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (m *memoryUserStore) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (m *memoryUserStore) UpdatePassword(ctx context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return auth.ErrUserNotFound
	}
	user.PasswordHash = hash
	return nil
}

// memorySessionStore backs the session manager in handler tests.
type memorySessionStore struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[string]*session.Session
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{sessions: map[string]*session.Session{}}
}

func (m *memorySessionStore) Create(ctx context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = m.nextID
	s.CreatedAt = time.Now()
	copied := *s
	m.sessions[s.RefreshTokenHash] = &copied
	return nil
}

func (m *memorySessionStore) GetByHash(ctx context.Context, hash string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[hash]
	if !ok {
		return nil, auth.ErrSessionNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *memorySessionStore) DeleteByHash(ctx context.Context, hash string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[hash]; !ok {
		return 0, nil
	}
	delete(m.sessions, hash)
	return 1, nil
}

func (m *memorySessionStore) DeleteByID(ctx context.Context, id, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, s := range m.sessions {
		if s.ID == id && s.UserID == userID {
			delete(m.sessions, hash)
			return nil
		}
	}
	return auth.ErrSessionNotFound
}

func (m *memorySessionStore) DeleteAllForUser(ctx context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for hash, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, hash)
			n++
		}
	}
	return n, nil
}

func (m *memorySessionStore) DeleteAllForUserExcept(ctx context.Context, userID int64, keepHash string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for hash, s := range m.sessions {
		if s.UserID == userID && hash != keepHash {
			delete(m.sessions, hash)
			n++
		}
	}
	return n, nil
}

func (m *memorySessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (m *memorySessionStore) ListForUser(ctx context.Context, userID int64) ([]*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*session.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

type fakeACLSource struct{ version int64 }

func (f *fakeACLSource) ACLVersion(ctx context.Context, orgID int64) (int64, error) {
	return f.version, nil
}

type handlerFixture struct {
	handlers *AuthHandlers
	router   *mux.Router
	users    *memoryUserStore
	tokens   *auth.TokenService
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := observability.NewNopLogger()
	users := newMemoryUserStore()
	tokens := auth.NewTokenService("0123456789abcdef0123456789abcdef", "authgrid-test", 15*time.Minute, 7)
	sessions := session.NewManager(newMemorySessionStore(), tokens, logger)
	limiter := ratelimit.NewLoginLimiter(client, ratelimit.DefaultConfig())

	handlers := NewAuthHandlers(users, sessions, tokens, limiter, &fakeACLSource{version: 1},
		logger, nil, nil, CookieConfig{Path: "/api/v1/auth", MaxAge: 7 * 24 * 3600})

	router := mux.NewRouter().PathPrefix("/api/v1").Subrouter()
	handlers.RegisterRoutes(router, func(next http.Handler) http.Handler { return next })

	return &handlerFixture{handlers: handlers, router: router, users: users, tokens: tokens}
}

func (f *handlerFixture) seedUser(t *testing.T, email string) *auth.User {
	t.Helper()
	user := &auth.User{Email: email, Name: "Test", PasswordHash: passwordHash(t)}
	require.NoError(t, f.users.Create(context.Background(), user))
	return user
}

func postJSON(t *testing.T, router http.Handler, path string, body interface{}, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "1.2.3.4:5678"
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func refreshCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == RefreshCookieName {
			return c
		}
	}
	t.Fatal("refresh cookie not set")
	return nil
}

func TestRegister(t *testing.T) {
	fix := newHandlerFixture(t)

	rec := postJSON(t, fix.router, "/api/v1/auth/register", map[string]string{
		"email":    "New@Test.com",
		"name":     "New User",
		"password": testPassword,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp TokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "new@test.com", resp.User.Email, "emails normalize to lowercase")
	assert.Equal(t, "Bearer", resp.TokenType)

	claims, err := fix.tokens.VerifyAccessToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "new@test.com", claims.Email)

	cookie := refreshCookie(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, "/api/v1/auth", cookie.Path)
	assert.NotEmpty(t, cookie.Value)
}

func TestRegister_Validation(t *testing.T) {
	fix := newHandlerFixture(t)

	rec := postJSON(t, fix.router, "/api/v1/auth/register", map[string]string{
		"email": "not-an-email", "password": testPassword,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, fix.router, "/api/v1/auth/register", map[string]string{
		"email": "a@test.com", "password": "short",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	fix := newHandlerFixture(t)
	fix.seedUser(t, "a@test.com")

	rec := postJSON(t, fix.router, "/api/v1/auth/register", map[string]string{
		"email": "a@test.com", "password": testPassword,
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLogin(t *testing.T) {
	fix := newHandlerFixture(t)
	fix.seedUser(t, "a@test.com")

	rec := postJSON(t, fix.router, "/api/v1/auth/login", map[string]string{
		"email": "a@test.com", "password": testPassword,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp TokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	_, err := fix.tokens.VerifyAccessToken(resp.AccessToken)
	assert.NoError(t, err)
	refreshCookie(t, rec)
}

func TestLogin_IndistinguishableFailures(t *testing.T) {
	fix := newHandlerFixture(t)
	fix.seedUser(t, "a@test.com")

	wrongPassword := postJSON(t, fix.router, "/api/v1/auth/login", map[string]string{
		"email": "a@test.com", "password": "wrong password",
	}, nil)
	unknownEmail := postJSON(t, fix.router, "/api/v1/auth/login", map[string]string{
		"email": "ghost@test.com", "password": testPassword,
	}, nil)

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownEmail.Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String(),
		"unknown email and wrong password must be indistinguishable")
}

func TestLogin_BlockedAfterRepeatedFailures(t *testing.T) {
	fix := newHandlerFixture(t)
	fix.seedUser(t, "a@test.com")

	for i := 0; i < 5; i++ {
		rec := postJSON(t, fix.router, "/api/v1/auth/login", map[string]string{
			"email": "a@test.com", "password": "wrong password",
		}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "failure %d", i+1)
	}

	// The block now rejects even the correct password, before verification.
	rec := postJSON(t, fix.router, "/api/v1/auth/login", map[string]string{
		"email": "a@test.com", "password": testPassword,
	}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))
}

func TestLogin_SuccessResetsLimiter(t *testing.T) {
	fix := newHandlerFixture(t)
	fix.seedUser(t, "a@test.com")

	for i := 0; i < 4; i++ {
		postJSON(t, fix.router, "/api/v1/auth/login", map[string]string{
			"email": "a@test.com", "password": "wrong password",
		}, nil)
	}
	rec := postJSON(t, fix.router, "/api/v1/auth/login", map[string]string{
		"email": "a@test.com", "password": testPassword,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The counter restarted, so more failures are tolerated again.
	for i := 0; i < 4; i++ {
		rec := postJSON(t, fix.router, "/api/v1/auth/login", map[string]string{
			"email": "a@test.com", "password": "wrong password",
		}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestRefresh_RotatesToken(t *testing.T) {
	fix := newHandlerFixture(t)
	fix.seedUser(t, "a@test.com")

	login := postJSON(t, fix.router, "/api/v1/auth/login", map[string]string{
		"email": "a@test.com", "password": testPassword,
	}, nil)
	require.Equal(t, http.StatusOK, login.Code)
	oldCookie := refreshCookie(t, login)

	refresh := postJSON(t, fix.router, "/api/v1/auth/refresh", nil, func(r *http.Request) {
		r.AddCookie(oldCookie)
	})
	require.Equal(t, http.StatusOK, refresh.Code, refresh.Body.String())
	newCookie := refreshCookie(t, refresh)
	assert.NotEqual(t, oldCookie.Value, newCookie.Value)

	var resp TokenResponse
	require.NoError(t, json.NewDecoder(refresh.Body).Decode(&resp))
	_, err := fix.tokens.VerifyAccessToken(resp.AccessToken)
	assert.NoError(t, err)

	// The consumed cookie is dead; replaying it must fail.
	replay := postJSON(t, fix.router, "/api/v1/auth/refresh", nil, func(r *http.Request) {
		r.AddCookie(oldCookie)
	})
	assert.Equal(t, http.StatusUnauthorized, replay.Code)

	// The rotated cookie still works.
	again := postJSON(t, fix.router, "/api/v1/auth/refresh", nil, func(r *http.Request) {
		r.AddCookie(newCookie)
	})
	assert.Equal(t, http.StatusOK, again.Code)
}

func TestRefresh_NoCookie(t *testing.T) {
	fix := newHandlerFixture(t)

	rec := postJSON(t, fix.router, "/api/v1/auth/refresh", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout(t *testing.T) {
	fix := newHandlerFixture(t)
	fix.seedUser(t, "a@test.com")

	login := postJSON(t, fix.router, "/api/v1/auth/login", map[string]string{
		"email": "a@test.com", "password": testPassword,
	}, nil)
	cookie := refreshCookie(t, login)

	logout := postJSON(t, fix.router, "/api/v1/auth/logout", nil, func(r *http.Request) {
		r.AddCookie(cookie)
	})
	assert.Equal(t, http.StatusNoContent, logout.Code)

	cleared := refreshCookie(t, logout)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)

	// The revoked session cannot be refreshed.
	rec := postJSON(t, fix.router, "/api/v1/auth/refresh", nil, func(r *http.Request) {
		r.AddCookie(cookie)
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Logout with a dead cookie is still a 204.
	again := postJSON(t, fix.router, "/api/v1/auth/logout", nil, func(r *http.Request) {
		r.AddCookie(cookie)
	})
	assert.Equal(t, http.StatusNoContent, again.Code)
}

func TestListAndRevokeSessions(t *testing.T) {
	fix := newHandlerFixture(t)
	user := fix.seedUser(t, "a@test.com")

	var cookies []*http.Cookie
	for i := 0; i < 3; i++ {
		login := postJSON(t, fix.router, "/api/v1/auth/login", map[string]string{
			"email": "a@test.com", "password": testPassword,
		}, nil)
		require.Equal(t, http.StatusOK, login.Code)
		cookies = append(cookies, refreshCookie(t, login))
	}

	authCtx := &middleware.AuthContext{Principal: &auth.Principal{
		SubjectID: user.ID, Email: user.Email, Kind: auth.KindPassword, SystemRole: user.SystemRole,
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/sessions", nil)
	req.AddCookie(cookies[2])
	req = req.WithContext(context.WithValue(req.Context(), contextkeys.AuthKey, authCtx))
	rec := httptest.NewRecorder()
	fix.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var sessions []*session.Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sessions))
	require.Len(t, sessions, 3)
	currentCount := 0
	for _, s := range sessions {
		if s.Current {
			currentCount++
		}
	}
	assert.Equal(t, 1, currentCount)

	// Revoking the others leaves only the current session.
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/auth/sessions", nil)
	req.AddCookie(cookies[2])
	req = req.WithContext(context.WithValue(req.Context(), contextkeys.AuthKey, authCtx))
	rec = httptest.NewRecorder()
	fix.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var revoked map[string]int64
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&revoked))
	assert.Equal(t, int64(2), revoked["revoked"])

	// The two revoked cookies can no longer refresh.
	for _, c := range cookies[:2] {
		rec := postJSON(t, fix.router, "/api/v1/auth/refresh", nil, func(r *http.Request) {
			r.AddCookie(c)
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}
