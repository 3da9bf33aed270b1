package authbridge

import "github.com/matedash/authbridge/internal/models"

// Status is the bridge's authentication status.
type Status string

const (
	StatusConfiguring     Status = "configuring"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
)

// State is a read-only snapshot of who is logged in. User is the backend
// profile, never the raw session.
type State struct {
	Status          Status          `json:"authStatus"`
	IsAuthenticated bool            `json:"isAuthenticated"`
	User            *models.Profile `json:"user"`
}

func configuring() State { return State{Status: StatusConfiguring} }

func unauthenticated() State { return State{Status: StatusUnauthenticated} }

func authenticated(p *models.Profile) State {
	return State{Status: StatusAuthenticated, IsAuthenticated: true, User: p}
}

// copy returns s with its own Profile value so readers cannot mutate the
// bridge's state.
func (s State) copy() State {
	if s.User != nil {
		p := *s.User
		s.User = &p
	}
	return s
}

// Result is the outcome of a user action. Err is nil on success. Callers may
// ignore it for best-effort actions such as sign-out.
type Result struct {
	Err error
	// Field names the form field the error concerns; empty for a generic
	// notice. Message is the user-facing text.
	Field   string
	Message string
	// ConfirmationPending is set by SignUp when the provider wants the email
	// confirmed before it issues a session.
	ConfirmationPending bool
}

// OK reports whether the action succeeded.
func (r Result) OK() bool { return r.Err == nil }
