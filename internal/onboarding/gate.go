// Package onboarding keeps first-time users on the welcome route until they
// complete onboarding.
package onboarding

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/matedash/authbridge/internal/authbridge"
	"github.com/matedash/authbridge/internal/identity"
	"github.com/matedash/authbridge/internal/models"
	"github.com/matedash/authbridge/pkg/logger"
)

// NeedsOnboarding reports whether p still has to go through onboarding.
func NeedsOnboarding(p *models.Profile) bool {
	return p != nil && p.IsFirstTimeUser
}

// Navigator moves the user to a route.
type Navigator interface {
	Navigate(path string)
}

// Auth is the part of the bridge the gate reads and updates.
type Auth interface {
	State() authbridge.State
	SetUser(p *models.Profile)
}

// Sessions supplies the bearer token for the backend call.
type Sessions interface {
	Session(ctx context.Context) (*identity.Session, error)
}

// Completer is the backend's complete-onboarding call.
type Completer interface {
	CompleteOnboarding(ctx context.Context, token string) (*models.Profile, error)
}

// Decision is the outcome of a route check.
type Decision struct {
	Allow    bool
	Redirect string
}

// Gate blocks every route but the welcome route while the signed-in profile
// needs onboarding.
type Gate struct {
	auth     Auth
	sessions Sessions
	api      Completer
	nav      Navigator
	welcome  string
	home     string

	mu sync.Mutex
	// profiles whose completion failed; they are let through for the
	// rest of the process instead of being trapped on the welcome route
	waived map[string]bool
}

func NewGate(auth Auth, sessions Sessions, api Completer, nav Navigator, welcomeRoute, homeRoute string) *Gate {
	return &Gate{
		auth:     auth,
		sessions: sessions,
		api:      api,
		nav:      nav,
		welcome:  welcomeRoute,
		home:     homeRoute,
		waived:   map[string]bool{},
	}
}

// Check decides whether path may be shown. Call it on every route change.
func (g *Gate) Check(path string) Decision {
	st := g.auth.State()
	if !NeedsOnboarding(st.User) || samePath(path, g.welcome) {
		return Decision{Allow: true}
	}
	g.mu.Lock()
	waived := g.waived[st.User.ID]
	g.mu.Unlock()
	if waived {
		return Decision{Allow: true}
	}
	return Decision{Redirect: g.welcome}
}

// Visit checks path and navigates to the redirect when it is blocked. It
// returns the route that ends up shown.
func (g *Gate) Visit(path string) string {
	d := g.Check(path)
	if d.Allow {
		return path
	}
	g.nav.Navigate(d.Redirect)
	return d.Redirect
}

// Complete finishes onboarding on the backend and publishes the updated
// profile. The user is sent to the home route whether or not the backend
// call worked; the error is returned for the caller to show.
func (g *Gate) Complete(ctx context.Context) error {
	err := g.complete(ctx)
	if err != nil {
		logger.Warnw("onboarding completion failed, continuing to home", "err", err)
		if u := g.auth.State().User; u != nil {
			g.mu.Lock()
			g.waived[u.ID] = true
			g.mu.Unlock()
		}
	}
	g.nav.Navigate(g.home)
	return err
}

func (g *Gate) complete(ctx context.Context) error {
	s, err := g.sessions.Session(ctx)
	if err != nil {
		return err
	}
	if s == nil || s.AccessToken == "" {
		return identity.ErrNoSession
	}
	p, err := g.api.CompleteOnboarding(ctx, s.AccessToken)
	if err != nil {
		return err
	}
	if p == nil {
		return errors.New("complete onboarding returned no profile")
	}
	g.auth.SetUser(p)
	return nil
}

func samePath(a, b string) bool {
	return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
}
