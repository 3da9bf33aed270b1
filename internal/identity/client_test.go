package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider mimics the identity provider's token endpoints.
type fakeProvider struct {
	mu          sync.Mutex
	logoutFails bool
	confirm     bool
	expiresIn   int64
	logouts     int
	lastBody    map[string]string
}

func (f *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	writeToken := func(w http.ResponseWriter, access string) {
		f.mu.Lock()
		exp := f.expiresIn
		f.mu.Unlock()
		if exp == 0 {
			exp = 3600
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  access,
			"refresh_token": "refresh-" + access,
			"expires_in":    exp,
			"user":          map[string]string{"id": "sub-1", "email": "new@user.com"},
		})
	}
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastBody = body
		f.mu.Unlock()
		switch r.URL.Query().Get("grant_type") {
		case "password":
			if body["password"] != "ValidP@ss1" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
				return
			}
			writeToken(w, "access-1")
		case "refresh_token":
			if body["refresh_token"] == "revoked" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid Refresh Token"}`))
				return
			}
			writeToken(w, "access-2")
		case "pkce":
			writeToken(w, "access-social")
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/signup", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		confirm := f.confirm
		f.mu.Unlock()
		if confirm {
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "sub-1", "email": "new@user.com"})
			return
		}
		writeToken(w, "access-1")
	})
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.logouts++
		if f.logoutFails {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/recover", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"msg":"missing token"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "sub-1", "email": "new@user.com"})
	})
	return mux
}

func (f *fakeProvider) set(fn func(f *fakeProvider)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeProvider) snapshot() (logouts int, body map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logouts, f.lastBody
}

func newTestClient(t *testing.T) (*Client, *fakeProvider) {
	t.Helper()
	fp := &fakeProvider{}
	srv := httptest.NewServer(fp.handler())
	t.Cleanup(srv.Close)
	return NewClient(NewAPI(srv.URL, "anon-key", time.Second), nil), fp
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestSignInWithPassword_EmitsSignedIn(t *testing.T) {
	c, _ := newTestClient(t)
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	s, err := c.SignInWithPassword(context.Background(), "new@user.com", "ValidP@ss1")
	require.NoError(t, err)
	require.Equal(t, "access-1", s.AccessToken)
	require.Equal(t, "sub-1", s.UserID)

	ev := nextEvent(t, events)
	require.Equal(t, EventSignedIn, ev.Type)
	require.Equal(t, "access-1", ev.Session.AccessToken)

	cur, err := c.Session(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-1", cur.AccessToken)
}

func TestSignInWithPassword_BadCredentials(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.SignInWithPassword(context.Background(), "new@user.com", "nope")
	require.Error(t, err)
	require.True(t, IsUnauthorized(err))
	require.Equal(t, FormError{Field: "password", Message: "Invalid email or password"}, ClassifyError(err))
}

func TestSignUp_ConfirmationPendingEmitsNothing(t *testing.T) {
	c, fp := newTestClient(t)
	fp.set(func(f *fakeProvider) { f.confirm = true })
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	s, u, err := c.SignUp(context.Background(), "new@user.com", "ValidP@ss1", nil)
	require.NoError(t, err)
	require.Nil(t, s)
	require.Equal(t, "sub-1", u.ID)
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestSignOut_ClearsSessionEvenWhenProviderFails(t *testing.T) {
	c, fp := newTestClient(t)
	fp.set(func(f *fakeProvider) { f.logoutFails = true })
	ctx := context.Background()
	_, err := c.SignInWithPassword(ctx, "new@user.com", "ValidP@ss1")
	require.NoError(t, err)

	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	err = c.SignOut(ctx)
	require.Error(t, err)
	logouts, _ := fp.snapshot()
	require.Equal(t, 1, logouts)
	require.Equal(t, EventSignedOut, nextEvent(t, events).Type)

	s, err := c.Session(ctx)
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestSession_RefreshesExpired(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, saveSession(ctx, c.store, &Session{
		AccessToken: "old", RefreshToken: "r", ExpiresAt: time.Now().Add(-time.Minute),
	}, 0))
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	s, err := c.Session(ctx)
	require.NoError(t, err)
	require.Equal(t, "access-2", s.AccessToken)
	require.Equal(t, EventTokenRefreshed, nextEvent(t, events).Type)
}

func TestSession_RevokedRefreshDropsSession(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, saveSession(ctx, c.store, &Session{
		AccessToken: "old", RefreshToken: "revoked", ExpiresAt: time.Now().Add(-time.Minute),
	}, 0))

	s, err := c.Session(ctx)
	require.NoError(t, err)
	require.Nil(t, s)
	_, err = c.store.Get(ctx, keySession)
	require.ErrorIs(t, err, ErrNoValue)
}

func TestSocialSignIn_PKCERoundTrip(t *testing.T) {
	c, fp := newTestClient(t)
	ctx := context.Background()

	_, err := c.ExchangeCodeForSession(ctx, "code")
	require.ErrorIs(t, err, ErrNoPendingSignIn)

	raw, err := c.SignInWithOAuth(ctx, "github", "http://localhost/callback")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "/authorize", u.Path)
	require.Equal(t, "github", u.Query().Get("provider"))
	require.Equal(t, "s256", u.Query().Get("code_challenge_method"))
	require.NotEmpty(t, u.Query().Get("code_challenge"))

	s, err := c.ExchangeCodeForSession(ctx, "code")
	require.NoError(t, err)
	require.Equal(t, "access-social", s.AccessToken)
	_, body := fp.snapshot()
	assert.Equal(t, "code", body["auth_code"])
	assert.NotEmpty(t, body["code_verifier"])

	// verifier is single use
	_, err = c.ExchangeCodeForSession(ctx, "code")
	require.ErrorIs(t, err, ErrNoPendingSignIn)
}

func TestUnsubscribe_DoesNotBlockEmit(t *testing.T) {
	c, _ := newTestClient(t)
	_, unsubscribe := c.Subscribe()
	unsubscribe()
	unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < eventBuffer*2; i++ {
			c.emit(Event{Type: EventSignedOut})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on an unsubscribed listener")
	}
}

func TestAPI_NotConfigured(t *testing.T) {
	c := NewClient(NewAPI("", "", 0), nil)
	_, err := c.SignInWithPassword(context.Background(), "a@b.c", "x")
	require.ErrorIs(t, err, ErrNotConfigured)
	_, err = c.SignInWithOAuth(context.Background(), "github", "")
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestClassifyError_Generic(t *testing.T) {
	fe := ClassifyError(&ProviderError{Status: 500, Message: "boom"})
	require.Empty(t, fe.Field)
	require.NotEmpty(t, fe.Message)
	require.Equal(t, "email", ClassifyError(&ProviderError{Status: 422, Message: "User already registered"}).Field)
}
