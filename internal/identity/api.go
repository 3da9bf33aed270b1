package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matedash/authbridge/pkg/logger"
)

// API is a thin client for the identity provider's REST endpoints.
type API struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewAPI returns a client for baseURL (e.g. https://id.example.com/auth/v1).
func NewAPI(baseURL, apiKey string, timeout time.Duration) *API {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a provider URL was given.
func (a *API) Configured() bool { return a != nil && a.baseURL != "" }

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         *User  `json:"user"`
}

func (t *tokenResponse) session() *Session {
	s := &Session{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0).UTC()
	case t.ExpiresIn > 0:
		s.ExpiresAt = time.Now().UTC().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	if t.User != nil {
		s.UserID = t.User.ID
		s.Email = t.User.Email
	}
	return s
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (a *API) do(ctx context.Context, method, path, bearer string, body, out interface{}) error {
	if !a.Configured() {
		return ErrNotConfigured
	}
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.apiKey != "" {
		req.Header.Set("apikey", a.apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("identity provider request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return decodeError(resp.StatusCode, b)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(status int, body []byte) error {
	pe := &ProviderError{Status: status}
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		pe.Code = er.ErrorCode
		if pe.Code == "" {
			pe.Code = er.Error
		}
		for _, m := range []string{er.ErrorDescription, er.Msg, er.Message, er.Error} {
			if m != "" {
				pe.Message = m
				break
			}
		}
	}
	if pe.Message == "" {
		pe.Message = strings.TrimSpace(string(body))
	}
	if pe.Message == "" {
		pe.Message = http.StatusText(status)
	}
	return pe
}

func (a *API) token(ctx context.Context, grant string, body interface{}) (*Session, error) {
	var tr tokenResponse
	if err := a.do(ctx, http.MethodPost, "/token?grant_type="+grant, "", body, &tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, &ProviderError{Status: http.StatusBadGateway, Message: "token response without access_token"}
	}
	return tr.session(), nil
}

// PasswordGrant exchanges email/password for a session.
func (a *API) PasswordGrant(ctx context.Context, email, password string) (*Session, error) {
	return a.token(ctx, "password", map[string]string{"email": email, "password": password})
}

// RefreshGrant exchanges a refresh token for a new session.
func (a *API) RefreshGrant(ctx context.Context, refreshToken string) (*Session, error) {
	return a.token(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

// PKCEGrant exchanges an authorization code from a social sign-in redirect.
func (a *API) PKCEGrant(ctx context.Context, code, verifier string) (*Session, error) {
	return a.token(ctx, "pkce", map[string]string{"auth_code": code, "code_verifier": verifier})
}

// SignUp registers an account. The returned session is nil when the provider
// requires email confirmation first.
func (a *API) SignUp(ctx context.Context, email, password string, data map[string]interface{}) (*Session, *User, error) {
	body := map[string]interface{}{"email": email, "password": password}
	if len(data) > 0 {
		body["data"] = data
	}
	var raw json.RawMessage
	if err := a.do(ctx, http.MethodPost, "/signup", "", body, &raw); err != nil {
		return nil, nil, err
	}
	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, nil, err
	}
	if tr.AccessToken != "" {
		return tr.session(), tr.User, nil
	}
	// confirmation pending: body is the bare user
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, nil, err
	}
	return nil, &u, nil
}

// Recover sends a password reset email.
func (a *API) Recover(ctx context.Context, email, redirectTo string) error {
	path := "/recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	return a.do(ctx, http.MethodPost, path, "", map[string]string{"email": email}, nil)
}

// Logout revokes the session behind accessToken.
func (a *API) Logout(ctx context.Context, accessToken string) error {
	return a.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil)
}

// GetUser introspects accessToken and returns its user.
func (a *API) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var u User
	if err := a.do(ctx, http.MethodGet, "/user", accessToken, nil, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, &ProviderError{Status: http.StatusUnauthorized, Message: "user response without id"}
	}
	return &u, nil
}

// UpdateUser changes attributes (e.g. password) of the user behind accessToken.
func (a *API) UpdateUser(ctx context.Context, accessToken string, attrs UserAttributes) (*User, error) {
	var u User
	if err := a.do(ctx, http.MethodPut, "/user", accessToken, attrs, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// AuthorizeURL builds the redirect URL that starts a social sign-in.
func (a *API) AuthorizeURL(provider, redirectTo, codeChallenge string) string {
	q := url.Values{}
	q.Set("provider", provider)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	if codeChallenge != "" {
		q.Set("code_challenge", codeChallenge)
		q.Set("code_challenge_method", "s256")
	}
	logger.Debugf("identity: authorize url for provider=%s redirect=%s", provider, redirectTo)
	return a.baseURL + "/authorize?" + q.Encode()
}
