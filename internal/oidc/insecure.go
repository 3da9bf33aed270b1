package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/matedash/authbridge/internal/tokens"
	"github.com/matedash/authbridge/pkg/middleware"
)

// claimsToken exposes a claims map through the middleware.Token interface.
type claimsToken struct {
	claims map[string]interface{}
}

func (t *claimsToken) Claims(v interface{}) error {
	b, err := json.Marshal(t.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// InsecureVerifier accepts any well-formed, unexpired JWT without checking
// its signature. Only for local/integration runs with ALLOW_INSECURE_TOKEN.
type InsecureVerifier struct{}

func NewInsecureVerifier() *InsecureVerifier { return &InsecureVerifier{} }

func (v *InsecureVerifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	c, err := tokens.Inspect(raw)
	if err != nil {
		return nil, err
	}
	if c.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	if !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt) {
		return nil, errors.New("token expired")
	}
	return &claimsToken{claims: c.Raw}, nil
}
