package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/matedash/authbridge/internal/identity"
	"github.com/matedash/authbridge/internal/tokens"
	"github.com/matedash/authbridge/internal/validation"
	"github.com/matedash/authbridge/pkg/logger"
	"github.com/matedash/authbridge/pkg/metrics"
	"github.com/matedash/authbridge/pkg/middleware"
	"github.com/matedash/authbridge/pkg/response"
)

// IdentityProvider is the part of the identity provider the auth routes
// proxy. *identity.API satisfies it.
type IdentityProvider interface {
	PasswordGrant(ctx context.Context, email, password string) (*identity.Session, error)
	RefreshGrant(ctx context.Context, refreshToken string) (*identity.Session, error)
	SignUp(ctx context.Context, email, password string, data map[string]interface{}) (*identity.Session, *identity.User, error)
	Recover(ctx context.Context, email, redirectTo string) error
	Logout(ctx context.Context, accessToken string) error
	UpdateUser(ctx context.Context, accessToken string, attrs identity.UserAttributes) (*identity.User, error)
}

// AttemptCounter throttles credential endpoints per email. *cache.Counter
// satisfies it.
type AttemptCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Reset(ctx context.Context, key string) error
}

// Revoker blacklists signed-out tokens. *cache.Blacklist satisfies it.
type Revoker interface {
	Add(ctx context.Context, token string, ttl time.Duration) error
}

// AuthOptions tunes the auth routes.
type AuthOptions struct {
	// MaxAttempts per email and window for sign-in and password reset;
	// 0 disables the throttle.
	MaxAttempts   int
	AttemptWindow time.Duration
	// ResetRedirect is passed to the provider as the password reset link target.
	ResetRedirect string
}

// AuthHandler proxies credential flows to the identity provider.
type AuthHandler struct {
	idp      IdentityProvider
	attempts AttemptCounter
	revoked  Revoker
	opts     AuthOptions
}

// NewAuthHandler builds the handler. attempts and revoked may be nil.
func NewAuthHandler(idp IdentityProvider, attempts AttemptCounter, revoked Revoker, opts AuthOptions) *AuthHandler {
	if opts.AttemptWindow <= 0 {
		opts.AttemptWindow = 15 * time.Minute
	}
	return &AuthHandler{idp: idp, attempts: attempts, revoked: revoked, opts: opts}
}

// Register mounts the routes on rg (normally /api/auth).
func (h *AuthHandler) Register(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	rg.POST("/signin", middleware.Validate(validation.SignIn), h.SignIn)
	rg.POST("/signup", middleware.Validate(validation.SignUp), h.SignUp)
	rg.POST("/reset-password", middleware.Validate(validation.ResetPassword), h.ResetPassword)
	rg.POST("/refresh", middleware.Validate(validation.Refresh), h.Refresh)
	rg.POST("/signout", auth, h.SignOut)
	rg.PUT("/update-password", auth, middleware.Validate(validation.UpdatePassword), h.UpdatePassword)
}

// providerError classifies identity provider failures for the proxied routes.
func providerError(err error) error {
	if errors.Is(err, identity.ErrNotConfigured) {
		return response.Upstream("Identity provider is not configured", err)
	}
	if identity.IsClientError(err) {
		fe := identity.ClassifyError(err)
		e := response.BadRequest(fe.Message)
		if fe.Field != "" {
			e = response.Validation(map[string]string{fe.Field: fe.Message})
			e.Message = fe.Message
		}
		return e.Wrap(err)
	}
	return response.Upstream("Identity provider request failed", err)
}

// throttle counts one attempt for key. It returns a RATE_LIMITED error once
// the window's budget is spent. Counter failures let the request through.
func (h *AuthHandler) throttle(c *gin.Context, key string) error {
	if h.attempts == nil || h.opts.MaxAttempts <= 0 {
		return nil
	}
	ctx := c.Request.Context()
	n, err := h.attempts.Incr(ctx, key, h.opts.AttemptWindow)
	if err != nil {
		logger.Warnw("attempt counter unavailable", "key", key, "err", err)
		return nil
	}
	if n <= int64(h.opts.MaxAttempts) {
		return nil
	}
	retry := int(h.opts.AttemptWindow.Seconds())
	if ttl, err := h.attempts.TTL(ctx, key); err == nil && ttl > 0 {
		retry = int(math.Ceil(ttl.Seconds()))
	}
	c.Header("Retry-After", strconv.Itoa(retry))
	metrics.RateLimitRejected.WithLabelValues("attempts").Inc()
	return response.RateLimited(retry)
}

// SignIn exchanges email and password for a session.
func (h *AuthHandler) SignIn(c *gin.Context) {
	v := middleware.Values(c)
	ctx := c.Request.Context()
	key := "signin:" + v["email"]
	if err := h.throttle(c, key); err != nil {
		abort(c, err)
		return
	}

	s, err := h.idp.PasswordGrant(ctx, v["email"], v["password"])
	metrics.AuthEvents.WithLabelValues("signin", metrics.Outcome(err)).Inc()
	if err != nil {
		if identity.IsClientError(err) {
			fe := identity.ClassifyError(err)
			if fe.Field == "" || fe.Field == "password" {
				fe.Message = "Invalid email or password"
			}
			abort(c, response.InvalidCredentials(fe.Message).Wrap(err))
			return
		}
		abort(c, providerError(err))
		return
	}
	if h.attempts != nil {
		if err := h.attempts.Reset(ctx, key); err != nil {
			logger.Warnw("attempt counter reset failed", "key", key, "err", err)
		}
	}
	response.OK(c, http.StatusOK, "Signed in", s)
}

// signUpResult is the data of a sign-up response. Session is nil while the
// provider waits for email confirmation.
type signUpResult struct {
	Session              *identity.Session `json:"session"`
	User                 *identity.User    `json:"user"`
	ConfirmationRequired bool              `json:"confirmationRequired"`
}

// SignUp registers an account with the provider.
func (h *AuthHandler) SignUp(c *gin.Context) {
	v := middleware.Values(c)
	var data map[string]interface{}
	if name := v["displayName"]; name != "" {
		data = map[string]interface{}{"display_name": name}
	}
	s, u, err := h.idp.SignUp(c.Request.Context(), v["email"], v["password"], data)
	metrics.AuthEvents.WithLabelValues("signup", metrics.Outcome(err)).Inc()
	if err != nil {
		if fe := identity.ClassifyError(err); identity.IsClientError(err) && fe.Field == "email" &&
			strings.Contains(fe.Message, "already exists") {
			abort(c, response.Conflict(response.CodeUserExists, fe.Message).Wrap(err))
			return
		}
		abort(c, providerError(err))
		return
	}
	res := signUpResult{Session: s, User: u, ConfirmationRequired: s == nil}
	msg := "Account created"
	if res.ConfirmationRequired {
		msg = "Check your email to confirm your account"
	}
	response.OK(c, http.StatusCreated, msg, res)
}

// ResetPassword asks the provider to mail a reset link. The answer is the
// same whether or not the account exists.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	email := middleware.Values(c)["email"]
	ctx := c.Request.Context()
	if err := h.throttle(c, "reset:"+email); err != nil {
		abort(c, err)
		return
	}
	err := h.idp.Recover(ctx, email, h.opts.ResetRedirect)
	metrics.AuthEvents.WithLabelValues("reset_password", metrics.Outcome(err)).Inc()
	if err != nil {
		if !identity.IsClientError(err) {
			abort(c, providerError(err))
			return
		}
		logger.Infow("password reset rejected by provider", "err", err)
	}
	response.OK(c, http.StatusOK, "If an account exists for this email, a reset link has been sent", nil)
}

// Refresh exchanges a refresh token for a new session.
func (h *AuthHandler) Refresh(c *gin.Context) {
	s, err := h.idp.RefreshGrant(c.Request.Context(), middleware.Values(c)["refreshToken"])
	metrics.AuthEvents.WithLabelValues("refresh", metrics.Outcome(err)).Inc()
	if err != nil {
		if identity.IsClientError(err) {
			abort(c, response.TokenRefreshFailed().Wrap(err))
			return
		}
		abort(c, providerError(err))
		return
	}
	response.OK(c, http.StatusOK, "Token refreshed", s)
}

// SignOut revokes the session at the provider, best effort, and blacklists
// the bearer token until it expires.
func (h *AuthHandler) SignOut(c *gin.Context) {
	ctx := c.Request.Context()
	raw := middleware.BearerToken(c)
	err := h.idp.Logout(ctx, raw)
	metrics.AuthEvents.WithLabelValues("signout", metrics.Outcome(err)).Inc()
	if err != nil {
		logger.Warnw("provider logout failed", "sub", middleware.Subject(c), "err", err)
	}
	if h.revoked != nil {
		if ttl := tokens.RemainingTTL(raw); ttl > 0 {
			if err := h.revoked.Add(ctx, raw, ttl); err != nil {
				abort(c, response.Upstream("Could not revoke token", err))
				return
			}
		}
	}
	response.OK(c, http.StatusOK, "Signed out", nil)
}

// UpdatePassword changes the caller's password at the provider.
func (h *AuthHandler) UpdatePassword(c *gin.Context) {
	_, err := h.idp.UpdateUser(c.Request.Context(), middleware.BearerToken(c),
		identity.UserAttributes{Password: middleware.Values(c)["password"]})
	metrics.AuthEvents.WithLabelValues("update_password", metrics.Outcome(err)).Inc()
	if err != nil {
		if identity.IsUnauthorized(err) {
			abort(c, response.InvalidToken().Wrap(err))
			return
		}
		abort(c, providerError(err))
		return
	}
	response.OK(c, http.StatusOK, "Password updated", nil)
}
