package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotConfigured is returned when no provider URL is set.
	ErrNotConfigured = errors.New("identity provider not configured")
	// ErrNoSession is returned by calls that need a signed-in session.
	ErrNoSession = errors.New("no active session")
)

// ProviderError is a non-2xx response from the identity provider.
type ProviderError struct {
	Status  int
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity provider returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("identity provider returned %d: %s", e.Status, e.Message)
}

// IsClientError reports whether the provider rejected the request itself
// (bad credentials, expired refresh token) rather than failing.
func IsClientError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Status >= 400 && pe.Status < 500
}

// IsUnauthorized reports whether the provider rejected the credentials or token.
func IsUnauthorized(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Status == http.StatusUnauthorized || pe.Status == http.StatusForbidden ||
		(pe.Status == http.StatusBadRequest && pe.Code == "invalid_grant")
}

// FormError routes a provider failure to a form field. Field is empty for
// errors shown as a generic notice.
type FormError struct {
	Field   string
	Message string
}

var formPatterns = []struct {
	match string
	field string
	msg   string
}{
	{"invalid login credentials", "password", "Invalid email or password"},
	{"user already registered", "email", "An account with this email already exists"},
	{"already been registered", "email", "An account with this email already exists"},
	{"email not confirmed", "email", "Please confirm your email address before signing in"},
	{"password should be", "password", "Password does not meet the requirements"},
	{"unable to validate email", "email", "Please provide a valid email address"},
	{"rate limit", "", "Too many attempts, please try again later"},
}

// ClassifyError maps provider messages to the form field they concern.
// Unmatched errors produce a generic notice.
func ClassifyError(err error) FormError {
	if err == nil {
		return FormError{}
	}
	text := strings.ToLower(err.Error())
	for _, p := range formPatterns {
		if strings.Contains(text, p.match) {
			return FormError{Field: p.field, Message: p.msg}
		}
	}
	return FormError{Message: "Something went wrong, please try again"}
}
