package authbridge

import (
	"context"
	"strings"

	"github.com/matedash/authbridge/internal/identity"
	"github.com/matedash/authbridge/internal/models"
	"github.com/matedash/authbridge/pkg/logger"
)

func result(err error) Result {
	if err == nil {
		return Result{}
	}
	fe := identity.ClassifyError(err)
	return Result{Err: err, Field: fe.Field, Message: fe.Message}
}

// SignIn checks credentials with the provider. State changes arrive later
// through the SIGNED_IN event.
func (b *Bridge) SignIn(ctx context.Context, email, password string) Result {
	_, err := b.id.SignInWithPassword(ctx, email, password)
	if err != nil {
		logger.Debugw("sign in rejected", "err", err)
	}
	return result(err)
}

// SignUp registers with the provider. The provider may require email
// confirmation before any session exists, so the state is left alone.
func (b *Bridge) SignUp(ctx context.Context, email, password, displayName string) Result {
	var data map[string]interface{}
	if displayName != "" {
		data = map[string]interface{}{"display_name": displayName}
		b.mu.Lock()
		b.pendingNames[strings.ToLower(email)] = displayName
		b.mu.Unlock()
	}
	s, _, err := b.id.SignUp(ctx, email, password, data)
	if err != nil {
		b.takePendingName(email)
		return result(err)
	}
	if s == nil {
		// the provider keeps the name in user metadata until confirmation
		b.takePendingName(email)
		return Result{ConfirmationPending: true}
	}
	return Result{}
}

// SignOut invalidates the provider session and always leaves the state
// unauthenticated. A provider failure is logged and returned for the caller
// to ignore.
func (b *Bridge) SignOut(ctx context.Context) Result {
	// drop any fetch-or-create still running for the old session
	b.begin(context.Background())
	err := b.id.SignOut(ctx)
	if err != nil {
		logger.Warnw("provider sign out failed, signed out locally", "err", err)
	}
	b.signOutLocal()
	return Result{Err: err}
}

// ResetPassword asks the provider to send a reset email. State is unchanged.
func (b *Bridge) ResetPassword(ctx context.Context, email string) Result {
	return result(b.id.ResetPasswordForEmail(ctx, email, b.opts.ResetPasswordRedirect))
}

// SignInWithSocial returns the provider URL that starts a redirect sign-in.
// Completion shows up later as a SIGNED_IN event from the callback.
func (b *Bridge) SignInWithSocial(ctx context.Context, provider string) (string, error) {
	return b.id.SignInWithOAuth(ctx, provider, b.opts.OAuthRedirect)
}

// UpdateUser updates the signed-in user's profile on the backend. The state
// is not changed; call SetUser with the result to publish it.
func (b *Bridge) UpdateUser(ctx context.Context, patch models.ProfilePatch) (*models.Profile, error) {
	b.mu.Lock()
	user, s := b.state.User, b.session
	b.mu.Unlock()
	if user == nil || s == nil {
		return nil, identity.ErrNoSession
	}
	return b.profiles.Update(ctx, s.AccessToken, user.ID, patch)
}

// SetUser publishes an updated profile for the signed-in user. Profiles of
// other users, or calls while signed out, are ignored.
func (b *Bridge) SetUser(p *models.Profile) {
	if p == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Status != StatusAuthenticated || b.state.User == nil || b.state.User.ID != p.ID {
		return
	}
	cp := *p
	b.state.User = &cp
	b.notifyLocked()
}
