package oidc

import (
	"context"

	"github.com/matedash/authbridge/internal/identity"
	"github.com/matedash/authbridge/pkg/middleware"
)

// UserFetcher returns the provider's user for an access token.
type UserFetcher interface {
	GetUser(ctx context.Context, accessToken string) (*identity.User, error)
}

// IntrospectionVerifier asks the identity provider who owns a token. It is
// the default when no OIDC issuer is configured.
type IntrospectionVerifier struct {
	users UserFetcher
}

func NewIntrospectionVerifier(users UserFetcher) *IntrospectionVerifier {
	return &IntrospectionVerifier{users: users}
}

func (v *IntrospectionVerifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	u, err := v.users.GetUser(ctx, raw)
	if err != nil {
		return nil, err
	}
	claims := map[string]interface{}{"sub": u.ID, "email": u.Email}
	if len(u.UserMetadata) > 0 {
		claims["user_metadata"] = u.UserMetadata
	}
	return &claimsToken{claims: claims}, nil
}
