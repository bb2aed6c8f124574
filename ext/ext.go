// Package ext defines the extension system for voxpipe.
// Extensions are notified of pipeline lifecycle events (job created,
// stage changed, part completed, etc.) and can react to them — logging,
// metrics, tracing, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/voxpipe/voxpipe/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobCreated is called after a job record is created for a fresh upload.
type JobCreated interface {
	OnJobCreated(ctx context.Context, j *job.Job) error
}

// StageChanged is called after a job advances from one stage to another.
type StageChanged interface {
	OnStageChanged(ctx context.Context, j *job.Job, from, to job.Stage) error
}

// PartCompleted is called after a transcription part is marked done.
type PartCompleted interface {
	OnPartCompleted(ctx context.Context, j *job.Job, partIndex int) error
}

// JobCompleted is called after a job reaches the summarized stage.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job enters a failure stage.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetried is called when a failed job is reset for another attempt.
type JobRetried interface {
	OnJobRetried(ctx context.Context, j *job.Job, attempt int) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// SweepFired is called when the stale-job sweeper fails a stalled job.
type SweepFired interface {
	OnSweepFired(ctx context.Context, j *job.Job, stalledFor time.Duration) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
