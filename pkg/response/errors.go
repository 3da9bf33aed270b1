package response

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried in error.code of the envelope.
const (
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeAuthRequired       = "AUTH_REQUIRED"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeNotFound           = "NOT_FOUND"
	CodeForbidden          = "FORBIDDEN"
	CodeConflict           = "CONFLICT"
	CodeTokenRefreshFailed = "TOKEN_REFRESH_FAILED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeUserExists         = "USER_EXISTS"
	CodeUpstream           = "UPSTREAM_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
)

// Error types carried in error.type.
const (
	TypeValidation     = "validation"
	TypeAuthentication = "authentication"
	TypeAuthorization  = "authorization"
	TypeNotFound       = "not_found"
	TypeConflict       = "conflict"
	TypeRateLimit      = "rate_limit"
	TypeUpstream       = "upstream"
	TypeInternal       = "internal"
)

// Error is an error with an HTTP classification. Handlers return or
// c.Error() it; the error middleware renders it as an envelope.
type Error struct {
	Status  int
	Type    string
	Code    string
	Message string
	// Details is rendered only when Expose is set.
	Details interface{}
	Expose  bool
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode returns the attached status; 400 when none was set.
func (e *Error) StatusCode() int {
	if e.Status == 0 {
		return http.StatusBadRequest
	}
	return e.Status
}

// Wrap attaches an underlying cause.
func (e *Error) Wrap(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

// As extracts an *Error from err. Unclassified errors become a 500 that does
// not expose the cause.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// Validation builds the 400 returned when request validation fails.
func Validation(details map[string]string) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Type:    TypeValidation,
		Code:    CodeValidationFailed,
		Message: "Validation failed",
		Details: details,
		Expose:  true,
	}
}

func BadRequest(msg string) *Error {
	return &Error{Status: http.StatusBadRequest, Type: TypeValidation, Code: CodeValidationFailed, Message: msg}
}

func AuthRequired() *Error {
	return &Error{Status: http.StatusUnauthorized, Type: TypeAuthentication, Code: CodeAuthRequired, Message: "Authentication required"}
}

func InvalidToken() *Error {
	return &Error{Status: http.StatusUnauthorized, Type: TypeAuthentication, Code: CodeInvalidToken, Message: "Invalid or expired token"}
}

func InvalidCredentials(msg string) *Error {
	return &Error{Status: http.StatusUnauthorized, Type: TypeAuthentication, Code: CodeInvalidCredentials, Message: msg}
}

func TokenRefreshFailed() *Error {
	return &Error{Status: http.StatusUnauthorized, Type: TypeAuthentication, Code: CodeTokenRefreshFailed, Message: "Token refresh failed"}
}

func Forbidden(msg string) *Error {
	return &Error{Status: http.StatusForbidden, Type: TypeAuthorization, Code: CodeForbidden, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Status: http.StatusNotFound, Type: TypeNotFound, Code: CodeNotFound, Message: msg}
}

func Conflict(code, msg string) *Error {
	return &Error{Status: http.StatusConflict, Type: TypeConflict, Code: code, Message: msg}
}

// RateLimited carries the retry delay in seconds as an exposed detail.
func RateLimited(retryAfter int) *Error {
	return &Error{
		Status:  http.StatusTooManyRequests,
		Type:    TypeRateLimit,
		Code:    CodeRateLimited,
		Message: "Rate limit exceeded",
		Details: map[string]int{"retryAfter": retryAfter},
		Expose:  true,
	}
}

// Upstream marks a dependency failure (identity provider, database, storage).
func Upstream(msg string, err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Type: TypeUpstream, Code: CodeUpstream, Message: msg, Err: err}
}

func Internal(err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Type: TypeInternal, Code: CodeInternal, Message: "Internal server error", Err: err}
}
