package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/matedash/authbridge/internal/tokens"
	"github.com/matedash/authbridge/pkg/logger"
	"github.com/matedash/authbridge/pkg/metrics"
	"github.com/matedash/authbridge/pkg/response"
)

// Context keys set by AuthMiddleware.
const (
	ClaimsKey  = "claims"
	TokenKey   = "token"
	SubjectKey = "sub"
	EmailKey   = "email"
)

// Token is minimal interface for a verified token that can expose claims
type Token interface {
	Claims(v interface{}) error
}

// Verifier is the minimal interface the middleware depends on
type Verifier interface {
	Verify(ctx context.Context, raw string) (Token, error)
}

// Revocations reports revoked tokens. *cache.Blacklist satisfies it.
type Revocations interface {
	Contains(ctx context.Context, token string) (bool, error)
}

// AuthMiddleware verifies the Bearer token of a request.
//
// A missing header or a non-Bearer scheme is 401 AUTH_REQUIRED. An empty or
// non-JWT token, a revoked token, or one the verifier rejects is 401
// INVALID_TOKEN. On success the claims, raw token, subject and email are
// stored on the context. revoked may be nil.
func AuthMiddleware(ver Verifier, revoked Revocations) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearer(c.GetHeader("Authorization"))
		if !ok {
			metrics.TokenRejected.WithLabelValues("missing").Inc()
			response.Fail(c, response.AuthRequired())
			return
		}
		if _, err := tokens.Inspect(raw); err != nil {
			metrics.TokenRejected.WithLabelValues("malformed").Inc()
			response.Fail(c, response.InvalidToken())
			return
		}

		ctx := c.Request.Context()
		if revoked != nil {
			hit, err := revoked.Contains(ctx, raw)
			if err != nil {
				// blacklist is best effort; the verifier still runs
				logger.Warnw("token blacklist lookup failed", "err", err)
			}
			if hit {
				metrics.TokenRejected.WithLabelValues("blacklisted").Inc()
				response.Fail(c, response.InvalidToken())
				return
			}
		}

		tok, err := ver.Verify(ctx, raw)
		if err != nil {
			logger.Debugw("token verification failed", "err", err)
			metrics.TokenRejected.WithLabelValues("verify").Inc()
			response.Fail(c, response.InvalidToken())
			return
		}

		var claims map[string]interface{}
		if err := tok.Claims(&claims); err != nil {
			metrics.TokenRejected.WithLabelValues("verify").Inc()
			response.Fail(c, response.InvalidToken())
			return
		}
		sub, _ := claims["sub"].(string)
		if sub == "" {
			metrics.TokenRejected.WithLabelValues("verify").Inc()
			response.Fail(c, response.InvalidToken())
			return
		}
		email, _ := claims["email"].(string)

		c.Set(ClaimsKey, claims)
		c.Set(TokenKey, raw)
		c.Set(SubjectKey, sub)
		c.Set(EmailKey, email)
		c.Next()
	}
}

// bearer extracts the token from an Authorization header. ok is false when
// the header is absent or uses another scheme; an empty token with the
// Bearer scheme is returned as ok so it can be reported as invalid.
func bearer(h string) (string, bool) {
	h = strings.TrimSpace(h)
	if h == "" {
		return "", false
	}
	scheme, rest, _ := strings.Cut(h, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// Subject returns the authenticated subject, or "".
func Subject(c *gin.Context) string { return c.GetString(SubjectKey) }

// Email returns the verified token's email claim, or "".
func Email(c *gin.Context) string { return c.GetString(EmailKey) }

// BearerToken returns the verified raw token, or "".
func BearerToken(c *gin.Context) string { return c.GetString(TokenKey) }
