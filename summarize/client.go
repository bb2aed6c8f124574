package summarize

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

// Client calls an LLM completion endpoint to summarize transcripts.
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

// WithModel selects the completion model.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// NewClient creates a summarizer client for the given completion
// endpoint base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      "gemini-2.0-flash",
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// completionRequest is the wire request for the completion endpoint.
type completionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
}

// completionResponse is the wire response from the completion endpoint.
type completionResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Summarize sends the merged transcript and returns the parsed
// structured summary. Model output that is not valid JSON is still
// accepted through the lenient and heuristic parse paths.
func (c *Client) Summarize(ctx context.Context, transcript string) (*Summary, error) {
	payload := completionRequest{
		Model:       c.model,
		Prompt:      buildPrompt(transcript),
		Temperature: 0,
	}
	bs, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("voxpipe/summarize: encode request: %w", err)
	}

	url := c.baseURL + "/v1/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return nil, fmt.Errorf("voxpipe/summarize: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voxpipe/summarize: send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("voxpipe/summarize: read response: %w", err)
	}

	c.logger.Debug("completion response",
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(raw)),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("voxpipe/summarize: model returned status %d", resp.StatusCode)
	}

	var out completionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("voxpipe/summarize: decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("voxpipe/summarize: model error: %s", out.Error)
	}

	summary := Parse(out.Text)
	return &summary, nil
}

// buildPrompt asks for JSON-only structured output with the summary
// schema, with guidance per transcript kind (call, meeting, lecture).
func buildPrompt(transcript string) string {
	var b strings.Builder
	b.WriteString("You are given a transcript of a human interaction: a meeting, lesson, lecture, or phone call.\n")
	b.WriteString("Produce a structured summary as a JSON object only, with these keys:\n")
	b.WriteString("- sections: a list of objects, each with a 'title' and 'bullets' (an array of points).\n")
	b.WriteString("- participants: names or roles appearing in the transcript. If no names appear, use 'Speaker A', 'Speaker B'.\n")
	b.WriteString("- decisions: decisions or agreements that were reached.\n")
	b.WriteString("- action_items: follow-up tasks or agreed actions.\n")
	b.WriteString("- questions: questions that were raised.\n\n")
	b.WriteString("Guidance by transcript kind:\n")
	b.WriteString("- Phone call: focus on identifying the speakers, short agreements, direct questions, and simple tasks.\n")
	b.WriteString("- Meeting: focus on participants, main topics, formal decisions, and follow-up tasks.\n")
	b.WriteString("- Lecture or lesson: focus on topics explained, examples given, audience questions, and suggested further study.\n")
	b.WriteString("- If the kind cannot be determined: produce a general summary with the required structure.\n\n")
	b.WriteString("Do not add any text outside the JSON.\n")
	b.WriteString("Example:\n")
	b.WriteString(`{
  "sections": [
    { "title": "Topic A", "bullets": ["point 1","point 2"] },
    { "title": "Topic B", "bullets": ["point 1"] }
  ],
  "participants": ["Speaker A","Speaker B"],
  "decisions": ["Agreed to meet on Sunday"],
  "action_items": ["Speaker A will send the document","Speaker B will check availability"],
  "questions": ["When is the next meeting?"]
}`)
	b.WriteString("\n\nTranscript:\n")
	b.WriteString(transcript)
	b.WriteString("\n")
	return b.String()
}
