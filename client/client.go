// Package client polls a voxpipe server for the outcome of an uploaded
// recording. The poller spends a bounded number of status queries, paced
// by a backoff strategy, and reports progress between attempts.
//
// Usage:
//
//	p := client.New("https://voxpipe.example.com",
//	    client.WithMaxAttempts(30),
//	    client.WithProgressFunc(func(pr client.Progress) {
//	        fmt.Printf("%3.0f%% %s\n", pr.Percent, pr.Stage)
//	    }),
//	)
//	summary, err := p.Poll(ctx, client.ForFile("standup.mp3"))
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/voxpipe/voxpipe"
	"github.com/voxpipe/voxpipe/backoff"
	"github.com/voxpipe/voxpipe/job"
	"github.com/voxpipe/voxpipe/summarize"
)

// Identity names the job a poll is about, either by its job ID or by
// the uploaded file's name.
type Identity struct {
	ID       string
	FileName string
}

// ForJob identifies a job by its ID.
func ForJob(jobID string) Identity { return Identity{ID: jobID} }

// ForFile identifies a job by the uploaded file's name.
func ForFile(name string) Identity { return Identity{FileName: name} }

func (i Identity) String() string {
	if i.ID != "" {
		return i.ID
	}
	return i.FileName
}

// status mirrors the server's in-flight status body.
type status struct {
	Stage          string    `json:"stage"`
	CompletedParts int       `json:"completed_parts"`
	TotalParts     int       `json:"total_parts"`
	OriginalName   string    `json:"original_name"`
	InternalID     string    `json:"internal_id"`
	UpdatedAt      time.Time `json:"updated_at"`
	Error          string    `json:"error,omitempty"`
}

// FailureError is returned when the server reports the job in a failure
// stage. Polling stops immediately; waiting longer cannot help.
type FailureError struct {
	JobID  string
	Stage  job.Stage
	Detail string
}

func (e *FailureError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("voxpipe/client: job %s failed in stage %s", e.JobID, e.Stage)
	}
	return fmt.Sprintf("voxpipe/client: job %s failed in stage %s: %s", e.JobID, e.Stage, e.Detail)
}

// Poller performs bounded status polling against a voxpipe server.
type Poller struct {
	baseURL     string
	httpClient  *http.Client
	strategy    backoff.Strategy
	maxAttempts int
	perPart     time.Duration
	onProgress  func(Progress)
	logger      *slog.Logger
}

// Option configures a Poller.
type Option func(*Poller)

// WithHTTPClient sets the HTTP client used for status queries.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Poller) {
		p.httpClient = hc
	}
}

// WithBackoff sets the strategy pacing the wait between attempts.
func WithBackoff(s backoff.Strategy) Option {
	return func(p *Poller) {
		p.strategy = s
	}
}

// WithMaxAttempts bounds the number of status queries a single Poll
// spends. The budget is exact: Poll issues at most n queries.
func WithMaxAttempts(n int) Option {
	return func(p *Poller) {
		p.maxAttempts = n
	}
}

// WithPartEstimate sets the assumed transcription time per part used
// for the remaining-time estimate.
func WithPartEstimate(d time.Duration) Option {
	return func(p *Poller) {
		p.perPart = d
	}
}

// WithProgressFunc registers a callback invoked after every status
// response while the job is still in flight.
func WithProgressFunc(fn func(Progress)) Option {
	return func(p *Poller) {
		p.onProgress = fn
	}
}

// WithLogger sets the poller's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

// New creates a Poller for the given server base URL.
func New(baseURL string, opts ...Option) *Poller {
	p := &Poller{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		strategy:    backoff.DefaultPollStrategy(),
		maxAttempts: 60,
		perPart:     30 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll queries the job's status until the summary is ready, the job
// fails, or the attempt budget runs out. A 404 means the upload has not
// been registered yet and counts as a normal in-flight attempt, since
// event delivery may lag the upload. An exhausted budget returns
// ErrStillProcessing; the job keeps running server-side and a later
// Poll can pick it up.
func (p *Poller) Poll(ctx context.Context, ident Identity) (*summarize.Summary, error) {
	if ident.ID == "" && ident.FileName == "" {
		return nil, fmt.Errorf("voxpipe/client: poll: identity is empty")
	}

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, p.strategy.Delay(attempt)); err != nil {
				return nil, err
			}
		}

		summary, st, err := p.query(ctx, ident)
		if err != nil {
			return nil, err
		}
		if summary != nil {
			return summary, nil
		}
		if st == nil {
			// Not registered yet; keep waiting.
			p.logger.Debug("job not yet visible", slog.String("target", ident.String()))
			continue
		}

		stage := job.Stage(st.Stage)
		if stage.Failed() {
			return nil, &FailureError{JobID: st.InternalID, Stage: stage, Detail: st.Error}
		}

		pr := p.progressFor(st)
		if p.onProgress != nil {
			p.onProgress(pr)
		}
		p.logger.Debug("still processing",
			slog.String("target", ident.String()),
			slog.String("stage", st.Stage),
			slog.Float64("percent", pr.Percent),
		)
	}

	return nil, fmt.Errorf("voxpipe/client: poll %s: %w after %d attempts",
		ident.String(), voxpipe.ErrStillProcessing, p.maxAttempts)
}

// query performs one status request. Exactly one of the summary and the
// status is non-nil on success; both nil means the job is unknown (404).
func (p *Poller) query(ctx context.Context, ident Identity) (*summarize.Summary, *status, error) {
	q := url.Values{}
	if ident.ID != "" {
		q.Set("id", ident.ID)
	} else {
		q.Set("fileName", ident.FileName)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/status?"+q.Encode(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("voxpipe/client: build request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("voxpipe/client: status request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("voxpipe/client: read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var summary summarize.Summary
		if err := json.Unmarshal(body, &summary); err != nil {
			return nil, nil, fmt.Errorf("voxpipe/client: decode summary: %w", err)
		}
		return &summary, nil, nil
	case http.StatusAccepted:
		var st status
		if err := json.Unmarshal(body, &st); err != nil {
			return nil, nil, fmt.Errorf("voxpipe/client: decode status: %w", err)
		}
		return nil, &st, nil
	case http.StatusNotFound:
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("voxpipe/client: status query returned %d: %s",
			resp.StatusCode, truncate(body, 200))
	}
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("voxpipe/client: poll: %w", ctx.Err())
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ error = (*FailureError)(nil)
