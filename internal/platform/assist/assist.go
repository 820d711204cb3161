// Package assist talks to an OpenAI-compatible chat-completions endpoint.
package assist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/medmitra/medmitra/internal/platform/apperr"
)

// ErrNotConfigured is returned when no provider URL is set.
var ErrNotConfigured = fmt.Errorf("assist provider not configured: %w", apperr.ErrUnavailable)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Completer produces the next assistant reply.
type Completer interface {
	Complete(ctx context.Context, system string, history []Message) (string, error)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryDelays sets the waits between attempts on 429 and 5xx responses.
func WithRetryDelays(d ...time.Duration) Option {
	return func(c *Client) { c.retryDelays = d }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// Client is a chat-completions client.
type Client struct {
	url         string
	apiKey      string
	model       string
	maxTokens   int
	httpClient  *http.Client
	retryDelays []time.Duration
}

// New returns a client for baseURL. An empty baseURL yields a client whose
// calls fail with ErrNotConfigured.
func New(baseURL, apiKey, model string, opts ...Option) *Client {
	c := &Client{
		url:         completionsURL(baseURL),
		apiKey:      apiKey,
		model:       model,
		maxTokens:   800,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		retryDelays: []time.Duration{500 * time.Millisecond, 2 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// completionsURL accepts either the API root or the full endpoint.
func completionsURL(base string) string {
	base = strings.TrimRight(base, "/")
	if base == "" || strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}

// Enabled reports whether a provider is configured.
func (c *Client) Enabled() bool { return c.url != "" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the system prompt and history and returns the reply text.
// Provider failures wrap apperr.ErrUnavailable.
func (c *Client) Complete(ctx context.Context, system string, history []Message) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}
	req := chatRequest{Model: c.model, MaxTokens: c.maxTokens, Temperature: 0.2}
	if system != "" {
		req.Messages = append(req.Messages, chatMessage{Role: RoleSystem, Content: system})
	}
	for _, m := range history {
		req.Messages = append(req.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= len(c.retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.retryDelays[attempt-1]):
			}
		}
		reply, retry, err := c.do(ctx, body)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return "", fmt.Errorf("assist: %v: %w", lastErr, apperr.ErrUnavailable)
}

func (c *Client) do(ctx context.Context, body []byte) (reply string, retry bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, err
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("provider returned %d", resp.StatusCode)
	}
	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", false, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", false, fmt.Errorf("provider returned %d: %s", resp.StatusCode, msg)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", false, errors.New("provider returned no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), false, nil
}
