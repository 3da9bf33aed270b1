// Package authbridge turns identity provider session events into a
// profile-backed auth state and exposes the user's auth actions.
package authbridge

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/matedash/authbridge/internal/identity"
	"github.com/matedash/authbridge/internal/models"
	"github.com/matedash/authbridge/internal/profileapi"
	"github.com/matedash/authbridge/pkg/logger"
)

// ErrStarted is returned by a second call to Start.
var ErrStarted = errors.New("auth bridge already started")

// Identity is the identity client surface the bridge needs. *identity.Client
// implements it.
type Identity interface {
	Subscribe() (<-chan identity.Event, func())
	Session(ctx context.Context) (*identity.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error)
	SignUp(ctx context.Context, email, password string, data map[string]interface{}) (*identity.Session, *identity.User, error)
	SignOut(ctx context.Context) error
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error)
}

// Profiles is the backend profile API. *profileapi.Client implements it.
type Profiles interface {
	GetByBearerToken(ctx context.Context, token string) (*models.Profile, error)
	Create(ctx context.Context, token string, patch models.ProfilePatch) (*models.Profile, error)
	Update(ctx context.Context, token, id string, patch models.ProfilePatch) (*models.Profile, error)
}

// Options configures redirect targets handed to the provider.
type Options struct {
	ResetPasswordRedirect string
	OAuthRedirect         string
}

// Bridge owns the auth state. All writes go through apply, which drops
// results of flows superseded by a newer event or action.
type Bridge struct {
	id       Identity
	profiles Profiles
	opts     Options

	mu         sync.Mutex
	state      State
	session    *identity.Session
	gen        uint64
	flowCancel context.CancelFunc
	subs       map[chan State]struct{}
	ready      chan struct{}
	readyOnce  sync.Once
	// display names given at sign-up, used when the profile is created
	pendingNames map[string]string

	started   bool
	stop      context.CancelFunc
	flows     sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

func New(id Identity, profiles Profiles, opts Options) *Bridge {
	return &Bridge{
		id:           id,
		profiles:     profiles,
		opts:         opts,
		state:        configuring(),
		subs:         map[chan State]struct{}{},
		ready:        make(chan struct{}),
		pendingNames: map[string]string{},
		done:         make(chan struct{}),
	}
}

// State returns a snapshot of the current auth state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.copy()
}

// Ready is closed once the initial session check has resolved the state
// out of configuring.
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

// Subscribe returns a channel that always holds the latest state; the
// current state is delivered immediately. Intermediate states may be
// skipped by slow readers.
func (b *Bridge) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	ch <- b.state.copy()
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
		})
	}
}

// Start subscribes to identity events, seeds the state from the stored
// session and then handles events on its own goroutine until ctx ends or
// Close is called. The subscription is taken before the initial lookup, so
// no event is missed; both go through the same fetch-or-create path.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return ErrStarted
	}
	b.started = true
	ctx, b.stop = context.WithCancel(ctx)
	b.mu.Unlock()

	events, unsubscribe := b.id.Subscribe()
	go func() {
		defer close(b.done)
		defer unsubscribe()
		b.initial(ctx)
		for {
			select {
			case <-ctx.Done():
				b.cancelFlow()
				b.flows.Wait()
				return
			case ev := <-events:
				b.handle(ctx, ev)
			}
		}
	}()
	return nil
}

// Close stops event handling and waits for in-flight flows.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		stop, started := b.stop, b.started
		b.mu.Unlock()
		if !started {
			return
		}
		stop()
		<-b.done
	})
}

func (b *Bridge) initial(ctx context.Context) {
	gen, flowCtx := b.begin(ctx)
	s, err := b.id.Session(ctx)
	if err != nil {
		logger.Warnw("initial session lookup failed", "err", err)
	}
	if s == nil {
		b.apply(gen, unauthenticated(), nil)
		return
	}
	b.fetchOrCreate(flowCtx, gen, s)
}

func (b *Bridge) handle(ctx context.Context, ev identity.Event) {
	logger.Debugw("auth event", "type", string(ev.Type))
	switch ev.Type {
	case identity.EventSignedIn, identity.EventTokenRefreshed, identity.EventInitialSession:
		if ev.Session == nil {
			return
		}
		gen, flowCtx := b.begin(ctx)
		b.flows.Add(1)
		go func() {
			defer b.flows.Done()
			b.fetchOrCreate(flowCtx, gen, ev.Session)
		}()
	case identity.EventSignedOut:
		gen, _ := b.begin(ctx)
		b.apply(gen, unauthenticated(), nil)
	default:
		// USER_UPDATED and PASSWORD_RECOVERY do not change who is logged in.
	}
}

// begin starts a new flow: it cancels the previous one and returns the new
// generation with a context scoped to it.
func (b *Bridge) begin(parent context.Context) (uint64, context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flowCancel != nil {
		b.flowCancel()
	}
	b.gen++
	ctx, cancel := context.WithCancel(parent)
	b.flowCancel = cancel
	return b.gen, ctx
}

func (b *Bridge) cancelFlow() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flowCancel != nil {
		b.flowCancel()
	}
}

// fetchOrCreate resolves the session to a profile. Any fetch failure falls
// back to create: the backend create is idempotent per identity, so a
// transient fetch error cannot produce a duplicate. A failed create leaves
// the user signed out of the application.
func (b *Bridge) fetchOrCreate(ctx context.Context, gen uint64, s *identity.Session) {
	p, err := b.profiles.GetByBearerToken(ctx, s.AccessToken)
	if err == nil {
		b.apply(gen, authenticated(p), s)
		return
	}
	if ctx.Err() != nil {
		return
	}
	if errors.Is(err, profileapi.ErrNotFound) {
		logger.Infow("no profile for identity yet, creating", "identityUserId", s.UserID)
	} else {
		logger.Warnw("profile fetch failed, falling back to create", "identityUserId", s.UserID, "err", err)
	}

	patch := models.ProfilePatch{ID: models.Str(s.UserID), Email: models.Str(s.Email)}
	if name := b.takePendingName(s.Email); name != "" {
		patch.DisplayName = models.Str(name)
	}
	p, err = b.profiles.Create(ctx, s.AccessToken, patch)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Errorw("profile create failed, user left unauthenticated", "identityUserId", s.UserID, "err", err)
		b.apply(gen, unauthenticated(), nil)
		return
	}
	b.apply(gen, authenticated(p), s)
}

// apply installs st when gen is still current and notifies subscribers. It
// reports whether the state was applied.
func (b *Bridge) apply(gen uint64, st State, s *identity.Session) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen {
		logger.Debugw("discarding stale auth result", "gen", gen, "current", b.gen)
		return false
	}
	b.state = st
	b.session = s
	b.notifyLocked()
	return true
}

// signOutLocal unconditionally moves to unauthenticated and supersedes every
// running flow.
func (b *Bridge) signOutLocal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flowCancel != nil {
		b.flowCancel()
		b.flowCancel = nil
	}
	b.gen++
	b.state = unauthenticated()
	b.session = nil
	b.notifyLocked()
}

// notifyLocked replaces whatever a subscriber has not read yet with the
// latest state. Callers hold b.mu.
func (b *Bridge) notifyLocked() {
	snap := b.state
	if snap.Status != StatusConfiguring {
		b.readyOnce.Do(func() { close(b.ready) })
	}
	for ch := range b.subs {
		st := snap.copy()
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

func (b *Bridge) takePendingName(email string) string {
	key := strings.ToLower(email)
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.pendingNames[key]
	delete(b.pendingNames, key)
	return n
}
