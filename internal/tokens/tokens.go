package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned for values that are not a syntactically valid JWT.
var ErrMalformed = errors.New("malformed token")

// Claims are the unverified claims of a bearer token.
type Claims struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
	Raw       jwt.MapClaims
}

var parser = jwt.NewParser()

// Inspect decodes a JWT without verifying its signature. It is used to
// reject non-JWT bearer values early and to read exp for blacklist TTLs;
// authenticity is always decided by a verifier.
func Inspect(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrMalformed
	}
	mc := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, mc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	c := &Claims{Raw: mc}
	c.Subject, _ = mc.GetSubject()
	c.Email, _ = mc["email"].(string)
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}

// RemainingTTL returns how long the token stays valid, or 0 when it has no
// exp claim or is already expired.
func RemainingTTL(raw string) time.Duration {
	c, err := Inspect(raw)
	if err != nil || c.ExpiresAt.IsZero() {
		return 0
	}
	if d := time.Until(c.ExpiresAt); d > 0 {
		return d
	}
	return 0
}

// Sign issues an HS256 token for sub/email. Used by the insecure integration
// mode and by tests that need realistic bearer tokens.
func Sign(secret []byte, sub, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
