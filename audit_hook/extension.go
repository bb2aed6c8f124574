package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxpipe/voxpipe/ext"
	"github.com/voxpipe/voxpipe/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Extension)(nil)
	_ ext.JobCreated    = (*Extension)(nil)
	_ ext.StageChanged  = (*Extension)(nil)
	_ ext.PartCompleted = (*Extension)(nil)
	_ ext.JobCompleted  = (*Extension)(nil)
	_ ext.JobFailed     = (*Extension)(nil)
	_ ext.JobRetried    = (*Extension)(nil)
	_ ext.SweepFired    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement. It is
// defined locally so this package does not depend on any particular
// audit store; callers inject the concrete backend at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one immutable record of something that happened to a
// job.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges pipeline lifecycle events to an audit trail
// backend. Each lifecycle hook emits a structured audit event through
// the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided
// Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobCreated implements ext.JobCreated.
func (e *Extension) OnJobCreated(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobCreated, SeverityInfo, OutcomeSuccess,
		j.ID.String(), CategoryJob, nil,
		"file_name", j.OriginalName,
		"source_key", j.SourceKey,
	)
}

// OnStageChanged implements ext.StageChanged.
func (e *Extension) OnStageChanged(ctx context.Context, j *job.Job, from, to job.Stage) error {
	severity := SeverityInfo
	outcome := OutcomeSuccess
	if to.Failed() {
		severity = SeverityCritical
		outcome = OutcomeFailure
	}
	return e.record(ctx, ActionStageChanged, severity, outcome,
		j.ID.String(), CategoryJob, nil,
		"file_name", j.OriginalName,
		"from", string(from),
		"to", string(to),
	)
}

// OnPartCompleted implements ext.PartCompleted.
func (e *Extension) OnPartCompleted(ctx context.Context, j *job.Job, partIndex int) error {
	return e.record(ctx, ActionPartCompleted, SeverityInfo, OutcomeSuccess,
		j.ID.String(), CategoryJob, nil,
		"file_name", j.OriginalName,
		"part_index", partIndex,
		"completed_parts", j.CompletedParts(),
		"total_parts", j.TotalParts,
	)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess,
		j.ID.String(), CategoryJob, nil,
		"file_name", j.OriginalName,
		"result_key", j.ResultKey,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure,
		j.ID.String(), CategoryJob, jobErr,
		"file_name", j.OriginalName,
		"stage", string(j.Stage),
		"attempts", j.Attempts,
	)
}

// OnJobRetried implements ext.JobRetried.
func (e *Extension) OnJobRetried(ctx context.Context, j *job.Job, attempt int) error {
	return e.record(ctx, ActionJobRetried, SeverityWarning, OutcomeSuccess,
		j.ID.String(), CategoryJob, nil,
		"file_name", j.OriginalName,
		"stage", string(j.Stage),
		"attempt", attempt,
	)
}

// ── Sweep hooks ─────────────────────────────────────

// OnSweepFired implements ext.SweepFired.
func (e *Extension) OnSweepFired(ctx context.Context, j *job.Job, stalledFor time.Duration) error {
	return e.record(ctx, ActionJobSwept, SeverityWarning, OutcomeFailure,
		j.ID.String(), CategorySweep, nil,
		"file_name", j.OriginalName,
		"stage", string(j.Stage),
		"stalled_for", stalledFor.String(),
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled. The
// kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   ResourceJob,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
