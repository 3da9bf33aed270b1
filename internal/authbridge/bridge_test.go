package authbridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matedash/authbridge/internal/identity"
	"github.com/matedash/authbridge/internal/models"
	"github.com/matedash/authbridge/internal/profileapi"
	"github.com/matedash/authbridge/internal/profiles"
)

// fakeIdentity stands in for the identity client: it keeps one session and
// emits the same events the real client does.
type fakeIdentity struct {
	mu         sync.Mutex
	subs       []chan identity.Event
	session    *identity.Session
	signOutErr error
	confirm    bool
	resets     []string
}

func (f *fakeIdentity) Subscribe() (<-chan identity.Event, func()) {
	ch := make(chan identity.Event, 16)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch, func() {}
}

func (f *fakeIdentity) emit(ev identity.Event) {
	f.mu.Lock()
	subs := append([]chan identity.Event(nil), f.subs...)
	f.mu.Unlock()
	for _, ch := range subs {
		ch <- ev
	}
}

func (f *fakeIdentity) Session(ctx context.Context) (*identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, nil
}

func sessionFor(email string) *identity.Session {
	sub := "sub-" + strings.SplitN(email, "@", 2)[0]
	return &identity.Session{
		AccessToken:  "tok-" + sub,
		RefreshToken: "r-" + sub,
		ExpiresAt:    time.Now().Add(time.Hour),
		UserID:       sub,
		Email:        email,
	}
}

func (f *fakeIdentity) signIn(email string) *identity.Session {
	s := sessionFor(email)
	f.mu.Lock()
	f.session = s
	f.mu.Unlock()
	f.emit(identity.Event{Type: identity.EventSignedIn, Session: s})
	return s
}

func (f *fakeIdentity) SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error) {
	if password != "ValidP@ss1" {
		return nil, &identity.ProviderError{Status: 400, Code: "invalid_grant", Message: "Invalid login credentials"}
	}
	return f.signIn(email), nil
}

func (f *fakeIdentity) SignUp(ctx context.Context, email, password string, data map[string]interface{}) (*identity.Session, *identity.User, error) {
	if strings.HasPrefix(email, "taken") {
		return nil, nil, &identity.ProviderError{Status: 422, Message: "User already registered"}
	}
	f.mu.Lock()
	confirm := f.confirm
	f.mu.Unlock()
	if confirm {
		return nil, &identity.User{ID: "sub-x", Email: email}, nil
	}
	return f.signIn(email), nil, nil
}

func (f *fakeIdentity) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.session = nil
	err := f.signOutErr
	f.mu.Unlock()
	f.emit(identity.Event{Type: identity.EventSignedOut})
	return err
}

func (f *fakeIdentity) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, email+"|"+redirectTo)
	return nil
}

func (f *fakeIdentity) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	return "https://id.example.com/authorize?provider=" + provider + "&redirect_to=" + redirectTo, nil
}

// fakeProfiles serves the profile API from the real profile service over an
// in-memory repository. Tokens are "tok-<sub>".
type fakeProfiles struct {
	svc *profiles.Service

	mu        sync.Mutex
	fetchErr  error
	createErr error
	// release, when set, blocks fetches until closed
	release chan struct{}
	creates int
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{svc: profiles.NewService(profiles.NewMemoryRepository())}
}

func subject(token string) string { return strings.TrimPrefix(token, "tok-") }

func (f *fakeProfiles) GetByBearerToken(ctx context.Context, token string) (*models.Profile, error) {
	f.mu.Lock()
	release, fetchErr := f.release, f.fetchErr
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	p, err := f.svc.GetByID(ctx, subject(token))
	if errors.Is(err, profiles.ErrNotFound) {
		return nil, &profileapi.APIError{Status: 404, Code: "NOT_FOUND", Message: "Profile not found"}
	}
	return p, err
}

func (f *fakeProfiles) Create(ctx context.Context, token string, patch models.ProfilePatch) (*models.Profile, error) {
	f.mu.Lock()
	f.creates++
	createErr := f.createErr
	f.mu.Unlock()
	if createErr != nil {
		return nil, createErr
	}
	patch.ID = models.Str(subject(token))
	p, _, err := f.svc.Create(ctx, patch)
	return p, err
}

func (f *fakeProfiles) Update(ctx context.Context, token, id string, patch models.ProfilePatch) (*models.Profile, error) {
	if subject(token) != id {
		return nil, &profileapi.APIError{Status: 403, Code: "FORBIDDEN"}
	}
	return f.svc.Update(ctx, id, patch)
}

func startBridge(t *testing.T, id *fakeIdentity, pr *fakeProfiles) *Bridge {
	t.Helper()
	b := New(id, pr, Options{ResetPasswordRedirect: "http://app/reset", OAuthRedirect: "http://app/callback"})
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(b.Close)
	select {
	case <-b.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never left configuring")
	}
	return b
}

// waitFor blocks until the bridge state satisfies ok.
func waitFor(t *testing.T, b *Bridge, ok func(State) bool) State {
	t.Helper()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case st := <-ch:
			if ok(st) {
				return st
			}
		case <-timeout:
			t.Fatalf("state never matched, last: %+v", b.State())
			return State{}
		}
	}
}

func isAuthenticated(st State) bool   { return st.Status == StatusAuthenticated }
func isUnauthenticated(st State) bool { return st.Status == StatusUnauthenticated }

func TestNew_StartsConfiguring(t *testing.T) {
	b := New(&fakeIdentity{}, newFakeProfiles(), Options{})
	st := b.State()
	require.Equal(t, StatusConfiguring, st.Status)
	require.False(t, st.IsAuthenticated)
	require.Nil(t, st.User)
	b.Close()
}

func TestStart_NoSession(t *testing.T) {
	b := startBridge(t, &fakeIdentity{}, newFakeProfiles())
	st := b.State()
	require.Equal(t, StatusUnauthenticated, st.Status)
	require.Nil(t, st.User)
	require.ErrorIs(t, b.Start(context.Background()), ErrStarted)
}

func TestStart_ResumesStoredSession(t *testing.T) {
	pr := newFakeProfiles()
	_, _, err := pr.svc.Create(context.Background(), models.ProfilePatch{
		ID: models.Str("sub-old"), Email: models.Str("old@user.com"), DisplayName: models.Str("Old"),
	})
	require.NoError(t, err)

	id := &fakeIdentity{session: sessionFor("old@user.com")}
	b := startBridge(t, id, pr)

	st := b.State()
	require.Equal(t, StatusAuthenticated, st.Status)
	require.Equal(t, "Old", st.User.DisplayName)
	require.Zero(t, pr.creates)
}

func TestSignUp_CreatesProfileAndAuthenticates(t *testing.T) {
	id, pr := &fakeIdentity{}, newFakeProfiles()
	b := startBridge(t, id, pr)

	res := b.SignUp(context.Background(), "new@user.com", "ValidP@ss1", "New User")
	require.True(t, res.OK())
	require.False(t, res.ConfirmationPending)

	st := waitFor(t, b, isAuthenticated)
	require.True(t, st.IsAuthenticated)
	require.Equal(t, "new@user.com", st.User.Email)
	require.True(t, st.User.IsFirstTimeUser)
	require.Equal(t, models.RoleUser, st.User.Role)
	require.Equal(t, "New User", st.User.DisplayName)
	require.Equal(t, 1, pr.creates)
}

func TestSignUp_ConfirmationPending(t *testing.T) {
	id := &fakeIdentity{confirm: true}
	b := startBridge(t, id, newFakeProfiles())

	res := b.SignUp(context.Background(), "new@user.com", "ValidP@ss1", "")
	require.True(t, res.OK())
	require.True(t, res.ConfirmationPending)
	require.Equal(t, StatusUnauthenticated, b.State().Status)
}

func TestSignUp_ConfirmationPendingForgetsDisplayName(t *testing.T) {
	id := &fakeIdentity{confirm: true}
	b := startBridge(t, id, newFakeProfiles())

	res := b.SignUp(context.Background(), "Pending@User.com", "ValidP@ss1", "Pending User")
	require.True(t, res.ConfirmationPending)

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Empty(t, b.pendingNames)
}

func TestSignUp_ProviderErrorRoutedToField(t *testing.T) {
	b := startBridge(t, &fakeIdentity{}, newFakeProfiles())
	res := b.SignUp(context.Background(), "taken@user.com", "ValidP@ss1", "X")
	require.False(t, res.OK())
	require.Equal(t, "email", res.Field)
}

func TestSignIn_DoesNotMutateStateDirectly(t *testing.T) {
	b := startBridge(t, &fakeIdentity{}, newFakeProfiles())

	res := b.SignIn(context.Background(), "a@user.com", "wrong")
	require.False(t, res.OK())
	require.Equal(t, "password", res.Field)
	require.Equal(t, StatusUnauthenticated, b.State().Status)

	res = b.SignIn(context.Background(), "a@user.com", "ValidP@ss1")
	require.True(t, res.OK())
	waitFor(t, b, isAuthenticated)
}

func TestFetchFailure_FallsBackToCreate(t *testing.T) {
	pr := newFakeProfiles()
	pr.fetchErr = errors.New("connection reset")
	id := &fakeIdentity{}
	b := startBridge(t, id, pr)

	id.signIn("blip@user.com")
	st := waitFor(t, b, isAuthenticated)
	require.Equal(t, "sub-blip", st.User.ID)

	// a second transient failure returns the same profile, no duplicate
	id.signIn("blip@user.com")
	time.Sleep(50 * time.Millisecond)
	st = waitFor(t, b, isAuthenticated)
	require.Equal(t, "sub-blip", st.User.ID)
	res, err := pr.svc.List(context.Background(), profiles.ListOptions{})
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Total)
}

func TestCreateFailure_LeavesUnauthenticated(t *testing.T) {
	pr := newFakeProfiles()
	pr.createErr = errors.New("backend down")
	id := &fakeIdentity{}
	b := startBridge(t, id, pr)

	id.signIn("a@user.com")
	require.Eventually(t, func() bool {
		pr.mu.Lock()
		defer pr.mu.Unlock()
		return pr.creates == 1
	}, 2*time.Second, 10*time.Millisecond)
	st := waitFor(t, b, isUnauthenticated)
	require.Nil(t, st.User)
}

func TestSignOut_AlwaysUnauthenticated(t *testing.T) {
	id := &fakeIdentity{signOutErr: errors.New("network unreachable")}
	b := startBridge(t, id, newFakeProfiles())
	id.signIn("a@user.com")
	waitFor(t, b, isAuthenticated)

	res := b.SignOut(context.Background())
	require.Error(t, res.Err)

	st := b.State()
	require.Equal(t, StatusUnauthenticated, st.Status)
	require.False(t, st.IsAuthenticated)
	require.Nil(t, st.User)
}

func TestStaleCompletionIsDiscarded(t *testing.T) {
	pr := newFakeProfiles()
	release := make(chan struct{})
	pr.release = release
	id := &fakeIdentity{}
	b := startBridge(t, id, pr)

	id.signIn("slow@user.com") // fetch now blocks
	b.SignOut(context.Background())
	require.Equal(t, StatusUnauthenticated, b.State().Status)

	pr.mu.Lock()
	pr.release = nil
	pr.mu.Unlock()
	close(release)

	// give the stale flow time to finish; it must not resurrect the user
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, StatusUnauthenticated, b.State().Status)
	require.Nil(t, b.State().User)
}

func TestLatestSignInWins(t *testing.T) {
	pr := newFakeProfiles()
	release := make(chan struct{})
	pr.release = release
	id := &fakeIdentity{}
	b := startBridge(t, id, pr)

	id.signIn("first@user.com")
	time.Sleep(20 * time.Millisecond)
	pr.mu.Lock()
	pr.release = nil
	pr.mu.Unlock()
	id.signIn("second@user.com")

	st := waitFor(t, b, func(st State) bool {
		return isAuthenticated(st) && st.User.Email == "second@user.com"
	})
	require.Equal(t, "second@user.com", st.User.Email)
	close(release)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, "second@user.com", b.State().User.Email)
}

func TestUpdateUserAndSetUser(t *testing.T) {
	id := &fakeIdentity{}
	b := startBridge(t, id, newFakeProfiles())

	_, err := b.UpdateUser(context.Background(), models.ProfilePatch{FirstName: models.Str("Ann")})
	require.ErrorIs(t, err, identity.ErrNoSession)

	id.signIn("ann@user.com")
	waitFor(t, b, isAuthenticated)

	p, err := b.UpdateUser(context.Background(), models.ProfilePatch{FirstName: models.Str("Ann")})
	require.NoError(t, err)
	require.Equal(t, "Ann", p.FirstName)
	// UpdateUser alone does not publish
	require.Empty(t, b.State().User.FirstName)

	b.SetUser(p)
	require.Equal(t, "Ann", b.State().User.FirstName)

	b.SetUser(&models.Profile{ID: "someone-else", FirstName: "Eve"})
	require.Equal(t, "Ann", b.State().User.FirstName)
}

func TestStateSnapshotsAreCopies(t *testing.T) {
	id := &fakeIdentity{}
	b := startBridge(t, id, newFakeProfiles())
	id.signIn("c@user.com")
	st := waitFor(t, b, isAuthenticated)

	st.User.Role = "admin"
	assert.Equal(t, models.RoleUser, b.State().User.Role)
}

func TestResetPasswordAndSocial(t *testing.T) {
	id := &fakeIdentity{}
	b := startBridge(t, id, newFakeProfiles())

	require.True(t, b.ResetPassword(context.Background(), "a@user.com").OK())
	require.Equal(t, []string{"a@user.com|http://app/reset"}, id.resets)
	require.Equal(t, StatusUnauthenticated, b.State().Status)

	u, err := b.SignInWithSocial(context.Background(), "github")
	require.NoError(t, err)
	require.Contains(t, u, "provider=github")
	require.Contains(t, u, "http://app/callback")
}
