// Package engine implements the stage transition engine. It is the only
// component that moves jobs between stages: every advance, part
// completion, failure, and retry goes through it so the transition
// table and partition invariants are enforced in one place.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxpipe/voxpipe"
	"github.com/voxpipe/voxpipe/ext"
	"github.com/voxpipe/voxpipe/id"
	"github.com/voxpipe/voxpipe/job"
)

// Engine applies stage transitions to jobs through a job.Store. All
// mutations go through the store's atomic UpdateJob, so concurrent
// part-complete events for the same job are serialized safely.
type Engine struct {
	store  job.Store
	hooks  *ext.Registry
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithHooks sets the extension registry the engine emits lifecycle
// events to.
func WithHooks(hooks *ext.Registry) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// New creates an Engine backed by the given store.
func New(store job.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, voxpipe.ErrNoStore
	}
	e := &Engine{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if e.hooks == nil {
		e.hooks = ext.NewRegistry(e.logger)
	}
	return e, nil
}

// Create registers a job record for a freshly uploaded recording. The
// job starts in the uploaded stage. A duplicate source key returns
// ErrJobAlreadyExists.
func (e *Engine) Create(ctx context.Context, jobID id.JobID, originalName, sourceKey string) (*job.Job, error) {
	j := job.New(jobID, originalName, sourceKey)
	if err := e.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("voxpipe/engine: create job: %w", err)
	}
	e.logger.Info("job created",
		slog.String("job_id", jobID.String()),
		slog.String("original_name", originalName),
	)
	e.hooks.EmitJobCreated(ctx, j)
	return j, nil
}

// Advance moves a job to the given stage. Moving to the stage the job
// is already in is a no-op. Any other transition not present in the
// table returns ErrInvalidTransition, leaving the job untouched.
func (e *Engine) Advance(ctx context.Context, jobID id.JobID, to job.Stage) (*job.Job, error) {
	var from job.Stage
	updated, err := e.store.UpdateJob(ctx, jobID, func(j *job.Job) error {
		from = j.Stage
		if j.Stage == to {
			return nil
		}
		if !job.CanTransition(j.Stage, to) {
			return fmt.Errorf("%w: %s -> %s", voxpipe.ErrInvalidTransition, j.Stage, to)
		}
		j.Stage = to
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("voxpipe/engine: advance job: %w", err)
	}
	if from != to {
		e.emitStageChanged(ctx, updated, from, to)
	}
	return updated, nil
}

// SetPartition records the transcription partition for a job and moves
// it from uploaded to split. totalParts must be at least 1.
func (e *Engine) SetPartition(ctx context.Context, jobID id.JobID, totalParts int) (*job.Job, error) {
	if totalParts < 1 {
		return nil, fmt.Errorf("voxpipe/engine: set partition: %w: %d parts", voxpipe.ErrNoPartition, totalParts)
	}
	var from job.Stage
	updated, err := e.store.UpdateJob(ctx, jobID, func(j *job.Job) error {
		from = j.Stage
		if !job.CanTransition(j.Stage, job.StageSplit) {
			return fmt.Errorf("%w: %s -> %s", voxpipe.ErrInvalidTransition, j.Stage, job.StageSplit)
		}
		j.Stage = job.StageSplit
		j.TotalParts = totalParts
		j.DoneParts = nil
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("voxpipe/engine: set partition: %w", err)
	}
	if from != job.StageSplit {
		e.emitStageChanged(ctx, updated, from, job.StageSplit)
	}
	return updated, nil
}

// MarkPartComplete records one finished transcription part. Marking the
// same part twice is harmless, and so is a completion delivered after
// the job reached a terminal stage. When the final outstanding part
// arrives the job advances to transcribe_completed exactly once, no
// matter in what order or how concurrently parts complete. The returned
// bool reports whether this call performed that final advance.
func (e *Engine) MarkPartComplete(ctx context.Context, jobID id.JobID, partIndex int) (*job.Job, bool, error) {
	var (
		from         job.Stage
		newlyMarked  bool
		completedNow bool
	)
	updated, err := e.store.UpdateJob(ctx, jobID, func(j *job.Job) error {
		from = j.Stage
		newlyMarked = false
		completedNow = false

		// At-least-once delivery: a redelivery for a part that already
		// counted is a no-op even if the job has since advanced past
		// transcription, and a completion landing on a terminal job
		// must not disturb it.
		if j.PartDone(partIndex) {
			return nil
		}
		if j.Stage.Terminal() {
			return nil
		}

		if j.TotalParts < 1 {
			return voxpipe.ErrNoPartition
		}
		if partIndex < 0 || partIndex >= j.TotalParts {
			return fmt.Errorf("%w: part %d of %d", voxpipe.ErrPartOutOfRange, partIndex, j.TotalParts)
		}

		// The first part to report moves the job out of split.
		if j.Stage == job.StageSplit {
			j.Stage = job.StageTranscribeInProgress
		}
		if j.Stage != job.StageTranscribeInProgress {
			return fmt.Errorf("%w: %s -> %s", voxpipe.ErrInvalidTransition, j.Stage, job.StageTranscribeInProgress)
		}

		newlyMarked = j.MarkPart(partIndex)
		if newlyMarked && j.AllPartsDone() {
			j.Stage = job.StageTranscribeCompleted
			completedNow = true
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("voxpipe/engine: mark part complete: %w", err)
	}

	if newlyMarked {
		e.hooks.EmitPartCompleted(ctx, updated, partIndex)
		e.logger.Debug("part completed",
			slog.String("job_id", jobID.String()),
			slog.Int("part", partIndex),
			slog.Int("completed", updated.CompletedParts()),
			slog.Int("total", updated.TotalParts),
		)
	}
	if updated.Stage != from {
		e.emitStageChanged(ctx, updated, from, updated.Stage)
	}
	return updated, completedNow, nil
}

// Fail moves a job into the given failure stage with a diagnostic
// detail. Failing an already-terminal job is rejected so a completed
// summary can never be clobbered by a late error.
func (e *Engine) Fail(ctx context.Context, jobID id.JobID, failure job.Stage, detail string) (*job.Job, error) {
	if !failure.Failed() {
		return nil, fmt.Errorf("voxpipe/engine: fail job: %s is not a failure stage", failure)
	}
	var from job.Stage
	updated, err := e.store.UpdateJob(ctx, jobID, func(j *job.Job) error {
		from = j.Stage
		if j.Stage == failure {
			return nil
		}
		if j.Stage == job.StageSummarized {
			return fmt.Errorf("%w: job is %s", voxpipe.ErrTerminalStage, j.Stage)
		}
		if !job.CanTransition(j.Stage, failure) {
			return fmt.Errorf("%w: %s -> %s", voxpipe.ErrInvalidTransition, j.Stage, failure)
		}
		j.Stage = failure
		j.ErrorDetail = detail
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("voxpipe/engine: fail job: %w", err)
	}
	if from != failure {
		e.logger.Warn("job failed",
			slog.String("job_id", jobID.String()),
			slog.String("stage", string(failure)),
			slog.String("detail", detail),
		)
		e.emitStageChanged(ctx, updated, from, failure)
		e.hooks.EmitJobFailed(ctx, updated, fmt.Errorf("%s: %s", failure, detail))
	}
	return updated, nil
}

// Retry resets a failed job to the stage its failure retries from and
// bumps the attempt counter. Completed transcription parts are kept so
// a transcription retry redoes only the missing parts; if every part
// already counted (the failure happened at merge time) the job resumes
// from transcribe_completed, since no part event will ever arrive to
// advance it. Jobs that are not in a failure stage return
// ErrNotRetryable.
func (e *Engine) Retry(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var from job.Stage
	updated, err := e.store.UpdateJob(ctx, jobID, func(j *job.Job) error {
		from = j.Stage
		target, ok := job.RetryStage(j.Stage)
		if !ok {
			return fmt.Errorf("%w: job is %s", voxpipe.ErrNotRetryable, j.Stage)
		}
		// A transcription retry with no parts yet recorded restarts
		// from split so the partition is honored again. One with every
		// part recorded failed at merge time: resume past transcription
		// or the job waits for a part event that can never come.
		switch {
		case target == job.StageTranscribeInProgress && j.CompletedParts() == 0:
			target = job.StageSplit
		case target == job.StageTranscribeInProgress && j.AllPartsDone():
			target = job.StageTranscribeCompleted
		}
		j.Stage = target
		j.ErrorDetail = ""
		j.Attempts++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("voxpipe/engine: retry job: %w", err)
	}
	e.logger.Info("job retried",
		slog.String("job_id", jobID.String()),
		slog.String("from", string(from)),
		slog.String("to", string(updated.Stage)),
		slog.Int("attempt", updated.Attempts),
	)
	e.emitStageChanged(ctx, updated, from, updated.Stage)
	e.hooks.EmitJobRetried(ctx, updated, updated.Attempts)
	return updated, nil
}

// Get returns the current job record.
func (e *Engine) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("voxpipe/engine: get job: %w", err)
	}
	return j, nil
}

func (e *Engine) emitStageChanged(ctx context.Context, j *job.Job, from, to job.Stage) {
	e.logger.Info("stage changed",
		slog.String("job_id", j.ID.String()),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	e.hooks.EmitStageChanged(ctx, j, from, to)
	if to == job.StageSummarized {
		e.hooks.EmitJobCompleted(ctx, j, time.Since(j.CreatedAt))
	}
}
