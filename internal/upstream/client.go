// Package upstream is the HTTP client for the OpenAI provider. It issues
// bearer-authenticated JSON POSTs and surfaces any non-2xx response as an
// *Error carrying the response body as diagnostic text.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the production provider endpoint.
const DefaultBaseURL = "https://api.openai.com"

// maxErrorBody caps how much of an error response is retained as diagnostic
// text.
const maxErrorBody = 16 * 1024

// Error is a non-2xx provider response. The gateway's retry policy treats
// it like any other upstream failure.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("openai error (status %d): %s", e.StatusCode, e.Body)
}

// Client calls the provider's chat-completions and responses endpoints.
// The embedded http.Client timeout is the per-attempt deadline; retries are
// layered above by the caller.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	verbose bool
}

// NewClient creates a Client. An empty baseURL selects DefaultBaseURL;
// tests point it at a local mock server.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// SetVerbose enables per-request slog output.
func (c *Client) SetVerbose(v bool) {
	c.verbose = v
}

// ChatCompletion posts body to the chat-completions endpoint and returns
// the decoded JSON response.
func (c *Client) ChatCompletion(ctx context.Context, body any) (map[string]any, error) {
	return c.post(ctx, "/v1/chat/completions", body)
}

// Responses posts body to the responses endpoint (used for the web-search
// augmented price lookup) and returns the decoded JSON response.
func (c *Client) Responses(ctx context.Context, body any) (map[string]any, error) {
	return c.post(ctx, "/v1/responses", body)
}

func (c *Client) post(ctx context.Context, path string, body any) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	if c.verbose {
		slog.Info("upstream.request",
			"path", path,
			"status", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_bytes", len(payload),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &Error{StatusCode: resp.StatusCode, Body: string(detail)}
	}

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding upstream response: %w", err)
	}
	return decoded, nil
}
