package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/matedash/authbridge/pkg/logger"
)

// ErrNoPendingSignIn is returned by ExchangeCodeForSession when no social
// sign-in was started from this store.
var ErrNoPendingSignIn = errors.New("no pending social sign-in")

const (
	defaultRefreshSkew = 30 * time.Second
	verifierTTL        = 10 * time.Minute
	eventBuffer        = 16
)

// Client holds the current session and broadcasts session-state changes to
// subscribers. It is safe for concurrent use.
type Client struct {
	api   *API
	store Store
	skew  time.Duration

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

type subscription struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// NewClient returns a client backed by api. A nil store uses a MemoryStore.
func NewClient(api *API, store Store) *Client {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Client{api: api, store: store, skew: defaultRefreshSkew, subs: map[*subscription]struct{}{}}
}

// API exposes the underlying provider client.
func (c *Client) API() *API { return c.api }

// Subscribe registers for session events. The returned func unsubscribes
// and must be called when the subscriber stops reading; the channel itself
// is never closed.
func (c *Client) Subscribe() (<-chan Event, func()) {
	s := &subscription{ch: make(chan Event, eventBuffer), done: make(chan struct{})}
	c.mu.Lock()
	c.subs[s] = struct{}{}
	c.mu.Unlock()
	return s.ch, func() {
		s.once.Do(func() {
			c.mu.Lock()
			delete(c.subs, s)
			c.mu.Unlock()
			close(s.done)
		})
	}
}

// emit delivers ev to every subscriber. A full subscriber blocks the emitter
// until it reads or unsubscribes.
func (c *Client) emit(ev Event) {
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	logger.Debugw("identity event", "type", string(ev.Type), "subscribers", len(subs))
	for _, s := range subs {
		select {
		case s.ch <- ev:
		case <-s.done:
		}
	}
}

// Session returns the stored session, refreshing it first when the access
// token is expired or about to expire. It returns nil when signed out or when
// the provider rejects the refresh token.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	s, err := loadSession(ctx, c.store)
	if err != nil || s == nil {
		return nil, err
	}
	if !s.Expired(c.skew) {
		return s, nil
	}
	if s.RefreshToken == "" {
		_ = c.store.Delete(ctx, keySession)
		return nil, nil
	}
	ns, err := c.refresh(ctx, s.RefreshToken)
	if err != nil {
		if IsClientError(err) {
			logger.Infow("stored session could not be refreshed, dropping it", "err", err)
			_ = c.store.Delete(ctx, keySession)
			return nil, nil
		}
		return nil, err
	}
	return ns, nil
}

// SignInWithPassword emits SIGNED_IN on success.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	s, err := c.api.PasswordGrant(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := c.setSession(ctx, s); err != nil {
		return nil, err
	}
	c.emit(Event{Type: EventSignedIn, Session: s})
	return s, nil
}

// SignUp registers an account. When the provider requires email
// confirmation the session is nil and no event is emitted.
func (c *Client) SignUp(ctx context.Context, email, password string, data map[string]interface{}) (*Session, *User, error) {
	s, u, err := c.api.SignUp(ctx, email, password, data)
	if err != nil {
		return nil, nil, err
	}
	if s == nil {
		return nil, u, nil
	}
	if err := c.setSession(ctx, s); err != nil {
		return nil, nil, err
	}
	c.emit(Event{Type: EventSignedIn, Session: s})
	return s, u, nil
}

// SignOut revokes the session at the provider, then clears it locally and
// emits SIGNED_OUT whatever the provider answered. The provider error, if
// any, is returned for the caller to log or ignore.
func (c *Client) SignOut(ctx context.Context) error {
	var remoteErr error
	s, err := loadSession(ctx, c.store)
	if err != nil {
		remoteErr = err
	} else if s != nil && s.AccessToken != "" {
		remoteErr = c.api.Logout(ctx, s.AccessToken)
	}
	if err := c.store.Delete(ctx, keySession); err != nil && remoteErr == nil {
		remoteErr = err
	}
	c.emit(Event{Type: EventSignedOut})
	return remoteErr
}

func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	return c.api.Recover(ctx, email, redirectTo)
}

// SignInWithOAuth starts a redirect-based social sign-in and returns the URL
// to open. The PKCE verifier is kept in the store until the callback.
func (c *Client) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	if !c.api.Configured() {
		return "", ErrNotConfigured
	}
	verifier := oauth2.GenerateVerifier()
	if err := c.store.Set(ctx, keyCodeVerifier, []byte(verifier), verifierTTL); err != nil {
		return "", fmt.Errorf("store code verifier: %w", err)
	}
	return c.api.AuthorizeURL(provider, redirectTo, oauth2.S256ChallengeFromVerifier(verifier)), nil
}

// ExchangeCodeForSession completes a social sign-in from the callback's
// auth code and emits SIGNED_IN.
func (c *Client) ExchangeCodeForSession(ctx context.Context, code string) (*Session, error) {
	v, err := c.store.Get(ctx, keyCodeVerifier)
	if errors.Is(err, ErrNoValue) {
		return nil, ErrNoPendingSignIn
	}
	if err != nil {
		return nil, err
	}
	s, err := c.api.PKCEGrant(ctx, code, string(v))
	if err != nil {
		return nil, err
	}
	_ = c.store.Delete(ctx, keyCodeVerifier)
	if err := c.setSession(ctx, s); err != nil {
		return nil, err
	}
	c.emit(Event{Type: EventSignedIn, Session: s})
	return s, nil
}

// RefreshSession exchanges the stored refresh token and emits TOKEN_REFRESHED.
func (c *Client) RefreshSession(ctx context.Context) (*Session, error) {
	s, err := loadSession(ctx, c.store)
	if err != nil {
		return nil, err
	}
	if s == nil || s.RefreshToken == "" {
		return nil, ErrNoSession
	}
	return c.refresh(ctx, s.RefreshToken)
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	ns, err := c.api.RefreshGrant(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if err := c.setSession(ctx, ns); err != nil {
		return nil, err
	}
	c.emit(Event{Type: EventTokenRefreshed, Session: ns})
	return ns, nil
}

// UpdateUser changes provider-side attributes such as the password and
// emits USER_UPDATED.
func (c *Client) UpdateUser(ctx context.Context, attrs UserAttributes) (*User, error) {
	s, err := c.Session(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNoSession
	}
	u, err := c.api.UpdateUser(ctx, s.AccessToken, attrs)
	if err != nil {
		return nil, err
	}
	c.emit(Event{Type: EventUserUpdated, Session: s})
	return u, nil
}

// AutoRefresh refreshes the session shortly before it expires until ctx ends.
func (c *Client) AutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s, err := loadSession(ctx, c.store)
			if err != nil || s == nil || s.RefreshToken == "" || !s.Expired(c.skew+interval) {
				continue
			}
			if _, err := c.refresh(ctx, s.RefreshToken); err != nil {
				logger.Warnw("session auto refresh failed", "err", err)
			}
		}
	}
}

func (c *Client) setSession(ctx context.Context, s *Session) error {
	if err := saveSession(ctx, c.store, s, 0); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}
