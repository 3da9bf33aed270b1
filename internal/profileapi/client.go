// Package profileapi is the HTTP client for the backend's profile routes.
package profileapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matedash/authbridge/internal/models"
	"github.com/matedash/authbridge/pkg/response"
)

// ErrNotFound matches (errors.Is) any 404 from the backend.
var ErrNotFound = errors.New("profile not found")

// APIError is a failure envelope returned by the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details interface{}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("profile api %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Client calls the backend's /api/auth routes with the caller's bearer token.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: timeout}}
}

type envelope struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorBody `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("profile api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil && err != io.EOF {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Code: response.CodeUpstream, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("profile api %s %s: decode: %w", method, path, err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		ae := &APIError{Status: resp.StatusCode, Message: env.Message}
		if env.Error != nil {
			ae.Code = env.Error.Code
			ae.Details = env.Error.Details
		}
		return ae
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func (c *Client) profile(ctx context.Context, method, path, token string, body interface{}) (*models.Profile, error) {
	var p models.Profile
	if err := c.do(ctx, method, path, token, body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByBearerToken returns the profile of the token's owner. A missing
// profile is ErrNotFound.
func (c *Client) GetByBearerToken(ctx context.Context, token string) (*models.Profile, error) {
	return c.profile(ctx, http.MethodGet, "/api/auth/me", token, nil)
}

func (c *Client) GetByID(ctx context.Context, token, id string) (*models.Profile, error) {
	return c.profile(ctx, http.MethodGet, "/api/auth/user/"+url.PathEscape(id), token, nil)
}

func (c *Client) GetByEmail(ctx context.Context, token, email string) (*models.Profile, error) {
	return c.profile(ctx, http.MethodGet, "/api/auth/user-by-email/"+url.PathEscape(email), token, nil)
}

// Create creates the caller's profile, or returns it when it already exists.
func (c *Client) Create(ctx context.Context, token string, patch models.ProfilePatch) (*models.Profile, error) {
	return c.profile(ctx, http.MethodPost, "/api/auth/user", token, patch)
}

func (c *Client) Update(ctx context.Context, token, id string, patch models.ProfilePatch) (*models.Profile, error) {
	return c.profile(ctx, http.MethodPut, "/api/auth/user/"+url.PathEscape(id), token, patch)
}

// Delete removes a profile. Only test teardown uses it.
func (c *Client) Delete(ctx context.Context, token, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/auth/user/"+url.PathEscape(id), token, nil, nil)
}

// CompleteOnboarding clears the caller's first-time flag and returns the
// updated profile.
func (c *Client) CompleteOnboarding(ctx context.Context, token string) (*models.Profile, error) {
	return c.profile(ctx, http.MethodPost, "/api/auth/complete-onboarding", token, nil)
}
