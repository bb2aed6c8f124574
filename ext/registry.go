package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxpipe/voxpipe/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobCreatedEntry struct {
	name string
	hook JobCreated
}

type stageChangedEntry struct {
	name string
	hook StageChanged
}

type partCompletedEntry struct {
	name string
	hook PartCompleted
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobRetriedEntry struct {
	name string
	hook JobRetried
}

type sweepFiredEntry struct {
	name string
	hook SweepFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobCreated    []jobCreatedEntry
	stageChanged  []stageChangedEntry
	partCompleted []partCompletedEntry
	jobCompleted  []jobCompletedEntry
	jobFailed     []jobFailedEntry
	jobRetried    []jobRetriedEntry
	sweepFired    []sweepFiredEntry
	shutdown      []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobCreated); ok {
		r.jobCreated = append(r.jobCreated, jobCreatedEntry{name, h})
	}
	if h, ok := e.(StageChanged); ok {
		r.stageChanged = append(r.stageChanged, stageChangedEntry{name, h})
	}
	if h, ok := e.(PartCompleted); ok {
		r.partCompleted = append(r.partCompleted, partCompletedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(JobRetried); ok {
		r.jobRetried = append(r.jobRetried, jobRetriedEntry{name, h})
	}
	if h, ok := e.(SweepFired); ok {
		r.sweepFired = append(r.sweepFired, sweepFiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Event emitters
// ──────────────────────────────────────────────────

// EmitJobCreated notifies all extensions that implement JobCreated.
func (r *Registry) EmitJobCreated(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCreated {
		if err := e.hook.OnJobCreated(ctx, j); err != nil {
			r.logHookError("OnJobCreated", e.name, err)
		}
	}
}

// EmitStageChanged notifies all extensions that implement StageChanged.
func (r *Registry) EmitStageChanged(ctx context.Context, j *job.Job, from, to job.Stage) {
	for _, e := range r.stageChanged {
		if err := e.hook.OnStageChanged(ctx, j, from, to); err != nil {
			r.logHookError("OnStageChanged", e.name, err)
		}
	}
}

// EmitPartCompleted notifies all extensions that implement PartCompleted.
func (r *Registry) EmitPartCompleted(ctx context.Context, j *job.Job, partIndex int) {
	for _, e := range r.partCompleted {
		if err := e.hook.OnPartCompleted(ctx, j, partIndex); err != nil {
			r.logHookError("OnPartCompleted", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobRetried notifies all extensions that implement JobRetried.
func (r *Registry) EmitJobRetried(ctx context.Context, j *job.Job, attempt int) {
	for _, e := range r.jobRetried {
		if err := e.hook.OnJobRetried(ctx, j, attempt); err != nil {
			r.logHookError("OnJobRetried", e.name, err)
		}
	}
}

// EmitSweepFired notifies all extensions that implement SweepFired.
func (r *Registry) EmitSweepFired(ctx context.Context, j *job.Job, stalledFor time.Duration) {
	for _, e := range r.sweepFired {
		if err := e.hook.OnSweepFired(ctx, j, stalledFor); err != nil {
			r.logHookError("OnSweepFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
