package identity

import "time"

// Session is a provider-issued bearer token plus metadata. It lives on the
// client only; the backend never stores it.
type Session struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	UserID       string    `json:"identityUserId"`
	Email        string    `json:"identityEmail"`
}

// Expired reports whether the access token is expired or within skew of expiring.
func (s *Session) Expired(skew time.Duration) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && time.Now().Add(skew).After(s.ExpiresAt)
}

// User is the provider's view of an account.
type User struct {
	ID               string                 `json:"id"`
	Email            string                 `json:"email"`
	EmailConfirmedAt *time.Time             `json:"email_confirmed_at,omitempty"`
	UserMetadata     map[string]interface{} `json:"user_metadata,omitempty"`
}

// UserAttributes are the fields accepted by the provider's user update call.
type UserAttributes struct {
	Email    string                 `json:"email,omitempty"`
	Password string                 `json:"password,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// EventType names a session-state transition.
type EventType string

const (
	EventInitialSession   EventType = "INITIAL_SESSION"
	EventSignedIn         EventType = "SIGNED_IN"
	EventSignedOut        EventType = "SIGNED_OUT"
	EventTokenRefreshed   EventType = "TOKEN_REFRESHED"
	EventUserUpdated      EventType = "USER_UPDATED"
	EventPasswordRecovery EventType = "PASSWORD_RECOVERY"
)

// Event is delivered to subscribers on every session-state change.
type Event struct {
	Type    EventType
	Session *Session
}
