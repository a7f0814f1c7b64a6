// Package backend is the HTTP client for the remote donation API.
//
// Every call takes its bearer credential as an argument; the client holds no
// per-user state and never retries.
package backend

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

	"github.com/donorportal/donorportal/internal/identity"
	"github.com/donorportal/donorportal/internal/session"
)

const maxResponseBytes = 1 << 20

// Endpoints names the API paths. Only response shapes are fixed; the paths
// differ between deployments.
type Endpoints struct {
	Me               string
	Login            string
	Logout           string
	Permissions      string
	UpdatePermission string
}

// DefaultEndpoints returns the stock API layout.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Me:               "/auth/me",
		Login:            "/auth/login",
		Logout:           "/auth/logout",
		Permissions:      "/admin/permissions",
		UpdatePermission: "/admin/permission/",
	}
}

// LoginResult is a successful login.
type LoginResult struct {
	Credentials session.Credentials
	Identity    identity.Identity
}

type envelope struct {
	Success     *bool             `json:"success,omitempty"`
	Code        string            `json:"code,omitempty"`
	Message     string            `json:"message,omitempty"`
	Token       string            `json:"token,omitempty"`
	SessionID   string            `json:"sessionId,omitempty"`
	User        *identity.Payload `json:"user,omitempty"`
	Permissions map[string]bool   `json:"permissions,omitempty"`
}

// Client talks JSON to the API.
type Client struct {
	baseURL    string
	endpoints  Endpoints
	httpClient *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithEndpoints overrides the API paths.
func WithEndpoints(e Endpoints) Option {
	return func(c *Client) { c.endpoints = e }
}

// NewClient constructs a Client. A zero timeout leaves requests bounded only
// by their context.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		endpoints:  DefaultEndpoints(),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Me returns the identity bound to token.
func (c *Client) Me(ctx context.Context, token string) (identity.Identity, error) {
	var out envelope
	if err := c.do(ctx, http.MethodGet, c.endpoints.Me, token, nil, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, fmt.Errorf("%w: me: user missing", ErrMalformed)
	}
	return identity.Decode(*out.User)
}

// Login exchanges email and password for credentials.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	body := map[string]string{"email": email, "password": password}
	var out envelope
	if err := c.do(ctx, http.MethodPost, c.endpoints.Login, "", body, &out); err != nil {
		return LoginResult{}, err
	}
	creds := session.Credentials{Token: out.Token, SessionID: out.SessionID}
	if !creds.Valid() {
		return LoginResult{}, fmt.Errorf("%w: login: token and sessionId are required", ErrMalformed)
	}
	// From here on the API holds a session; failures still hand back the
	// credentials so the caller can release it.
	if out.User == nil {
		return LoginResult{Credentials: creds}, fmt.Errorf("%w: login: user missing", ErrMalformed)
	}
	id, err := identity.Decode(*out.User)
	if err != nil {
		return LoginResult{Credentials: creds}, err
	}
	return LoginResult{Credentials: creds, Identity: id}, nil
}

// Logout ends the API session. The response body is ignored.
func (c *Client) Logout(ctx context.Context, creds session.Credentials) error {
	body := map[string]string{"sessionId": creds.SessionID}
	return c.do(ctx, http.MethodPost, c.endpoints.Logout, creds.Token, body, nil)
}

// Permissions returns the capability map of the admin owning token.
func (c *Client) Permissions(ctx context.Context, token string) (map[string]bool, error) {
	var out envelope
	if err := c.do(ctx, http.MethodGet, c.endpoints.Permissions, token, nil, &out); err != nil {
		return nil, err
	}
	if out.Success == nil {
		return nil, fmt.Errorf("%w: permissions: success flag missing", ErrMalformed)
	}
	if out.Permissions == nil {
		return map[string]bool{}, nil
	}
	return out.Permissions, nil
}

// UpdatePermissions replaces capability flags of the given admin.
func (c *Client) UpdatePermissions(ctx context.Context, token, adminID string, caps map[string]bool) error {
	path := c.endpoints.UpdatePermission + url.PathEscape(adminID)
	return c.do(ctx, http.MethodPut, path, token, caps, nil)
}

func (c *Client) do(ctx context.Context, method, path, token string, body any, out *envelope) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
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

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}

	var (
		env       envelope
		decodeErr error
	)
	if len(bytes.TrimSpace(raw)) > 0 {
		decodeErr = json.Unmarshal(raw, &env)
	}

	if resp.StatusCode >= 400 || (decodeErr == nil && env.Success != nil && !*env.Success) {
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	if out == nil {
		return nil
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, decodeErr)
	}
	*out = env
	return nil
}
