// Package transcribe provides the HTTP client for an external
// speech-to-text engine. One call transcribes one audio chunk.
package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client posts audio chunks to a speech-to-text endpoint and returns
// the transcript text.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithAPIKey sets the bearer token sent with each request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithModel selects the engine model.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// NewClient creates a speech-to-text client for the given endpoint base
// URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// transcribeResponse is the engine's response envelope.
type transcribeResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Transcribe sends one audio chunk and returns its transcript.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader) (string, error) {
	url := c.baseURL + "/v1/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, audio)
	if err != nil {
		return "", fmt.Errorf("voxpipe/transcribe: build request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.model != "" {
		req.Header.Set("X-Model", c.model)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("voxpipe/transcribe: send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", fmt.Errorf("voxpipe/transcribe: read response: %w", err)
	}

	c.logger.Debug("transcription response",
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(raw)),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("voxpipe/transcribe: engine returned status %d: %s", resp.StatusCode, truncate(raw, 256))
	}

	var out transcribeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("voxpipe/transcribe: decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("voxpipe/transcribe: engine error: %s", out.Error)
	}
	return out.Text, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
