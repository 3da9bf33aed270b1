package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matedash/authbridge/internal/cache"
	"github.com/matedash/authbridge/internal/identity"
	"github.com/matedash/authbridge/internal/oidc"
	"github.com/matedash/authbridge/internal/profiles"
	"github.com/matedash/authbridge/internal/storage"
	"github.com/matedash/authbridge/internal/tokens"
	"github.com/matedash/authbridge/pkg/middleware"
	"github.com/matedash/authbridge/pkg/response"
)

func init() { gin.SetMode(gin.TestMode) }

var errBadCredentials = &identity.ProviderError{Status: 400, Code: "invalid_grant", Message: "Invalid login credentials"}

// fakeIdP records calls and answers from its fields.
type fakeIdP struct {
	mu         sync.Mutex
	signIns    int
	logouts    []string
	password   string
	signUpErr  error
	confirm    bool
	refreshErr error
	logoutErr  error
	recoverErr error
}

func (f *fakeIdP) session(sub string) *identity.Session {
	return &identity.Session{AccessToken: "access-" + sub, RefreshToken: "refresh-" + sub,
		ExpiresAt: time.Now().Add(time.Hour), UserID: sub, Email: sub + "@example.com"}
}

func (f *fakeIdP) PasswordGrant(ctx context.Context, email, password string) (*identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signIns++
	if password != "ValidP@ss1" {
		return nil, errBadCredentials
	}
	return f.session("u1"), nil
}

func (f *fakeIdP) RefreshGrant(ctx context.Context, refreshToken string) (*identity.Session, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.session("u1"), nil
}

func (f *fakeIdP) SignUp(ctx context.Context, email, password string, data map[string]interface{}) (*identity.Session, *identity.User, error) {
	if f.signUpErr != nil {
		return nil, nil, f.signUpErr
	}
	u := &identity.User{ID: "u1", Email: email, UserMetadata: data}
	if f.confirm {
		return nil, u, nil
	}
	return f.session("u1"), u, nil
}

func (f *fakeIdP) Recover(ctx context.Context, email, redirectTo string) error { return f.recoverErr }

func (f *fakeIdP) Logout(ctx context.Context, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts = append(f.logouts, accessToken)
	return f.logoutErr
}

func (f *fakeIdP) UpdateUser(ctx context.Context, accessToken string, attrs identity.UserAttributes) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.password = attrs.Password
	return &identity.User{ID: "u1"}, nil
}

type testEnv struct {
	router  *gin.Engine
	svc     *profiles.Service
	idp     *fakeIdP
	redis   *mr.Miniredis
	avatars *storage.MemoryAvatars
}

// newEnv wires the handlers the way main does, with in-memory backends and
// the unsigned-token verifier.
func newEnv(t *testing.T) *testEnv {
	t.Helper()
	m, err := mr.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	env := &testEnv{
		svc:     profiles.NewService(profiles.NewMemoryRepository()),
		idp:     &fakeIdP{},
		redis:   m,
		avatars: storage.NewMemoryAvatars(),
	}
	bl := cache.NewBlacklist(rc)

	g := gin.New()
	g.Use(middleware.Recovery(), middleware.ErrorHandler(false))
	api := g.Group("/api/auth")
	auth := middleware.AuthMiddleware(oidc.NewInsecureVerifier(), bl)
	NewAuthHandler(env.idp, cache.NewCounter(rc, "attempts:"), bl,
		AuthOptions{MaxAttempts: 3, AttemptWindow: time.Minute}).Register(api, auth)
	NewProfileHandler(env.svc, env.avatars).Register(api, auth)
	env.router = g
	return env
}

// bearerFor issues a token for a fresh identity id.
func bearerFor(t *testing.T, sub string) string {
	t.Helper()
	return bearerWithEmail(t, sub, sub[:8]+"@example.com")
}

func bearerWithEmail(t *testing.T, sub, email string) string {
	t.Helper()
	raw, err := tokens.Sign([]byte("test-secret"), sub, email, time.Hour)
	require.NoError(t, err)
	return raw
}

func newSubject() string { return uuid.NewString() }

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, response.Envelope) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var env response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	return w, env
}

// dataAs re-decodes the envelope data into out.
func dataAs(t *testing.T, env response.Envelope, out interface{}) {
	t.Helper()
	b, err := json.Marshal(env.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, out))
}

func TestSignIn_Success(t *testing.T) {
	e := newEnv(t)
	w, env := e.do(t, http.MethodPost, "/api/auth/signin", "", gin.H{"email": " A@B.com ", "password": "ValidP@ss1"})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, env.Success)

	var s identity.Session
	dataAs(t, env, &s)
	assert.Equal(t, "access-u1", s.AccessToken)
	assert.Equal(t, "refresh-u1", s.RefreshToken)
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	e := newEnv(t)
	w, env := e.do(t, http.MethodPost, "/api/auth/signin", "", gin.H{"email": "a@b.com", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.False(t, env.Success)
	require.Equal(t, response.CodeInvalidCredentials, env.Error.Code)
	require.Equal(t, "Invalid email or password", env.Message)
}

func TestSignIn_ValidationFailed(t *testing.T) {
	e := newEnv(t)
	w, env := e.do(t, http.MethodPost, "/api/auth/signin", "", gin.H{"email": "not-an-email"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, response.CodeValidationFailed, env.Error.Code)
	details, ok := env.Error.Details.(map[string]interface{})
	require.True(t, ok)
	require.Contains(t, details, "email")
	require.Contains(t, details, "password")
	require.Zero(t, e.idp.signIns)
}

func TestSignIn_ThrottledPerEmail(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 3; i++ {
		w, _ := e.do(t, http.MethodPost, "/api/auth/signin", "", gin.H{"email": "a@b.com", "password": "wrong"})
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w, env := e.do(t, http.MethodPost, "/api/auth/signin", "", gin.H{"email": "A@b.com", "password": "ValidP@ss1"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, response.CodeRateLimited, env.Error.Code)
	require.Equal(t, 3, e.idp.signIns)

	// other emails are unaffected
	w, _ = e.do(t, http.MethodPost, "/api/auth/signin", "", gin.H{"email": "c@d.com", "password": "ValidP@ss1"})
	require.Equal(t, http.StatusOK, w.Code)

	// the window elapses
	e.redis.FastForward(time.Minute + time.Second)
	w, _ = e.do(t, http.MethodPost, "/api/auth/signin", "", gin.H{"email": "a@b.com", "password": "ValidP@ss1"})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSignUp(t *testing.T) {
	e := newEnv(t)
	w, env := e.do(t, http.MethodPost, "/api/auth/signup", "", gin.H{"email": "new@user.com", "password": "ValidP@ss1", "displayName": "New"})
	require.Equal(t, http.StatusCreated, w.Code)
	var res signUpResult
	dataAs(t, env, &res)
	require.False(t, res.ConfirmationRequired)
	require.NotNil(t, res.Session)

	e.idp.confirm = true
	w, env = e.do(t, http.MethodPost, "/api/auth/signup", "", gin.H{"email": "new@user.com", "password": "ValidP@ss1"})
	require.Equal(t, http.StatusCreated, w.Code)
	res = signUpResult{}
	dataAs(t, env, &res)
	require.True(t, res.ConfirmationRequired)
	require.Nil(t, res.Session)

	e.idp.signUpErr = &identity.ProviderError{Status: 422, Message: "User already registered"}
	w, env = e.do(t, http.MethodPost, "/api/auth/signup", "", gin.H{"email": "new@user.com", "password": "ValidP@ss1"})
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, response.CodeUserExists, env.Error.Code)
}

func TestSignUp_WeakPassword(t *testing.T) {
	e := newEnv(t)
	w, env := e.do(t, http.MethodPost, "/api/auth/signup", "", gin.H{"email": "new@user.com", "password": "short"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, response.CodeValidationFailed, env.Error.Code)
}

func TestRefresh(t *testing.T) {
	e := newEnv(t)
	w, _ := e.do(t, http.MethodPost, "/api/auth/refresh", "", gin.H{"refreshToken": "r"})
	require.Equal(t, http.StatusOK, w.Code)

	e.idp.refreshErr = &identity.ProviderError{Status: 400, Code: "invalid_grant", Message: "Invalid Refresh Token"}
	w, env := e.do(t, http.MethodPost, "/api/auth/refresh", "", gin.H{"refreshToken": "r"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, response.CodeTokenRefreshFailed, env.Error.Code)

	e.idp.refreshErr = &identity.ProviderError{Status: 503, Message: "down"}
	w, env = e.do(t, http.MethodPost, "/api/auth/refresh", "", gin.H{"refreshToken": "r"})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, response.CodeUpstream, env.Error.Code)
}

func TestSignOut_BlacklistsToken(t *testing.T) {
	e := newEnv(t)
	e.idp.logoutErr = &identity.ProviderError{Status: 500, Message: "boom"}
	sub := newSubject()
	tok := bearerFor(t, sub)
	_, _, err := e.svc.Create(context.Background(), profilePatch(sub, "x@example.com"))
	require.NoError(t, err)

	w, _ := e.do(t, http.MethodGet, "/api/auth/me", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env := e.do(t, http.MethodPost, "/api/auth/signout", tok, nil)
	require.Equal(t, http.StatusOK, w.Code, "provider failure must not block sign-out")
	require.True(t, env.Success)
	require.Equal(t, []string{tok}, e.idp.logouts)

	w, env = e.do(t, http.MethodGet, "/api/auth/me", tok, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, response.CodeInvalidToken, env.Error.Code)
}

func TestUpdatePassword(t *testing.T) {
	e := newEnv(t)
	tok := bearerFor(t, newSubject())

	w, _ := e.do(t, http.MethodPut, "/api/auth/update-password", "", gin.H{"password": "N3w-P@ssword"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w, env := e.do(t, http.MethodPut, "/api/auth/update-password", tok, gin.H{"password": "weak"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, response.CodeValidationFailed, env.Error.Code)

	w, _ = e.do(t, http.MethodPut, "/api/auth/update-password", tok, gin.H{"password": "N3w-P@ssword"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "N3w-P@ssword", e.idp.password)
}

func TestResetPassword_DoesNotRevealAccounts(t *testing.T) {
	e := newEnv(t)
	w, ok := e.do(t, http.MethodPost, "/api/auth/reset-password", "", gin.H{"email": "a@b.com"})
	require.Equal(t, http.StatusOK, w.Code)

	e.idp.recoverErr = &identity.ProviderError{Status: 404, Message: "User not found"}
	w, missing := e.do(t, http.MethodPost, "/api/auth/reset-password", "", gin.H{"email": "nobody@b.com"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, ok.Message, missing.Message)
}
