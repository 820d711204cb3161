// Package client is the Go SDK for the MedMitra portal API. It attaches the
// caller's access token and hospital to every request, transparently rotates
// an expired access token once, and exposes typed wrappers for the portal
// endpoints.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"
)

const apiPrefix = "/api/v1"

// ErrSessionExpired is returned when the refresh token no longer works. The
// stored tokens have been cleared by then.
var ErrSessionExpired = errors.New("session expired")

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
	// Fields maps request fields to the validation rule they broke.
	Fields map[string]string

	body []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == status
}

// Tokens is an access/refresh token pair.
type Tokens struct {
	Access  string
	Refresh string
}

// TokenStore keeps the session tokens between requests.
type TokenStore interface {
	Load() Tokens
	Save(t Tokens)
	Clear()
}

// MemoryTokenStore is the default TokenStore.
type MemoryTokenStore struct {
	mu sync.RWMutex
	t  Tokens
}

func (s *MemoryTokenStore) Load() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.t
}

func (s *MemoryTokenStore) Save(t Tokens) {
	s.mu.Lock()
	s.t = t
	s.mu.Unlock()
}

func (s *MemoryTokenStore) Clear() {
	s.Save(Tokens{})
}

type Client struct {
	baseURL   string
	hc        *http.Client
	hospital  string
	tokens    TokenStore
	onExpired func()
	refreshes singleflight.Group
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithHospital sets the X-Hospital-ID header sent before login. After login
// the token's hospital claim takes precedence on the server.
func WithHospital(code string) Option {
	return func(c *Client) { c.hospital = code }
}

func WithTokenStore(s TokenStore) Option {
	return func(c *Client) { c.tokens = s }
}

// WithSessionExpired registers a hook run once the session cannot be
// refreshed, typically to send the user back to the login screen.
func WithSessionExpired(fn func()) Option {
	return func(c *Client) { c.onExpired = fn }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: 30 * time.Second},
		tokens:  &MemoryTokenStore{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Tokens returns the current session tokens.
func (c *Client) Tokens() Tokens {
	return c.tokens.Load()
}

// SetTokens installs a session obtained elsewhere, e.g. restored from disk.
func (c *Client) SetTokens(t Tokens) {
	c.tokens.Save(t)
}

// noRefresh lists endpoints whose 401 means bad credentials, not an expired
// access token.
var noRefresh = map[string]bool{
	apiPrefix + "/auth/login":           true,
	apiPrefix + "/auth/refresh":         true,
	apiPrefix + "/auth/patients/signup": true,
	apiPrefix + "/auth/logout":          true,
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	resp, sentWith, err := c.send(ctx, method, path, body, true)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized && sentWith != "" && !noRefresh[pathOnly(path)] {
		discard(resp)
		if err := c.refresh(ctx, sentWith); err != nil {
			return err
		}
		if resp, _, err = c.send(ctx, method, path, body, true); err != nil {
			return err
		}
	}
	return decode(resp, out)
}

// send performs one request and returns the access token it carried.
func (c *Client) send(ctx context.Context, method, path string, body []byte, withAuth bool) (*http.Response, string, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.hospital != "" {
		req.Header.Set("X-Hospital-ID", c.hospital)
	}
	var access string
	if withAuth {
		if access = c.tokens.Load().Access; access != "" {
			req.Header.Set("Authorization", "Bearer "+access)
		}
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, access, nil
}

// refresh rotates the session once for every caller that saw staleAccess
// rejected. Callers arriving after a completed rotation just retry.
func (c *Client) refresh(ctx context.Context, staleAccess string) error {
	_, err, _ := c.refreshes.Do("refresh", func() (any, error) {
		cur := c.tokens.Load()
		if cur.Access != "" && cur.Access != staleAccess {
			return nil, nil
		}
		// An earlier rotation already failed and cleared the session.
		if cur.Access == "" && cur.Refresh == "" && staleAccess != "" {
			return nil, ErrSessionExpired
		}
		if cur.Refresh == "" {
			c.expire()
			return nil, ErrSessionExpired
		}

		body, err := json.Marshal(map[string]string{"refresh_token": cur.Refresh})
		if err != nil {
			return nil, err
		}
		resp, _, err := c.send(ctx, http.MethodPost, apiPrefix+"/auth/refresh", body, false)
		if err != nil {
			return nil, err
		}
		var pair TokenPair
		if err := decode(resp, &pair); err != nil {
			var ae *APIError
			if errors.As(err, &ae) && ae.Status < http.StatusInternalServerError {
				c.expire()
				return nil, ErrSessionExpired
			}
			return nil, err
		}
		c.tokens.Save(Tokens{Access: pair.AccessToken, Refresh: pair.RefreshToken})
		return nil, nil
	})
	return err
}

func (c *Client) expire() {
	c.tokens.Clear()
	if c.onExpired != nil {
		c.onExpired()
	}
}

func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	ae := &APIError{Status: resp.StatusCode, body: raw}
	var body struct {
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		ae.Message = body.Message
		ae.Fields = body.Fields
	} else {
		ae.Message = http.StatusText(resp.StatusCode)
	}
	return ae
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func pathOnly(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		return p[:i]
	}
	return p
}
