// Package partition plans how an uploaded recording is split into
// fixed-length transcription chunks and records the resulting partition
// on the job.
package partition

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxpipe/voxpipe"
	"github.com/voxpipe/voxpipe/engine"
	"github.com/voxpipe/voxpipe/id"
	"github.com/voxpipe/voxpipe/job"
)

// Plan describes the chunking of one recording.
type Plan struct {
	// TotalParts is the number of chunks, at least 1.
	TotalParts int
	// ChunkLength is the nominal duration of each chunk. The final
	// chunk may be shorter.
	ChunkLength time.Duration
}

// PartLength returns the duration of the given chunk within a recording
// of the given total duration.
func (p Plan) PartLength(index int, total time.Duration) time.Duration {
	if index < 0 || index >= p.TotalParts {
		return 0
	}
	if index < p.TotalParts-1 {
		return p.ChunkLength
	}
	last := total - time.Duration(p.TotalParts-1)*p.ChunkLength
	if last < 0 {
		return 0
	}
	return last
}

// Offset returns the start offset of the given chunk.
func (p Plan) Offset(index int) time.Duration {
	return time.Duration(index) * p.ChunkLength
}

// PlanFor computes the chunk plan for a recording of the given duration.
// A recording at or under one chunk length still yields a single part,
// so every job has a partition of at least 1.
func PlanFor(duration, chunkLength time.Duration) (Plan, error) {
	if chunkLength <= 0 {
		return Plan{}, fmt.Errorf("voxpipe/partition: plan: chunk length %v must be positive", chunkLength)
	}
	if duration < 0 {
		return Plan{}, fmt.Errorf("voxpipe/partition: plan: duration %v must not be negative", duration)
	}
	parts := int((duration + chunkLength - 1) / chunkLength)
	if parts < 1 {
		parts = 1
	}
	return Plan{TotalParts: parts, ChunkLength: chunkLength}, nil
}

// Coordinator computes partitions and commits them to jobs through the
// stage engine.
type Coordinator struct {
	engine      *engine.Engine
	chunkLength time.Duration
	logger      *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithChunkLength overrides the default chunk length.
func WithChunkLength(d time.Duration) Option {
	return func(c *Coordinator) {
		c.chunkLength = d
	}
}

// NewCoordinator creates a Coordinator over the given engine.
func NewCoordinator(eng *engine.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{
		engine:      eng,
		chunkLength: voxpipe.DefaultConfig().ChunkLength,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Commit plans the partition for a recording of the given duration and
// records it on the job, moving the job to the split stage.
func (c *Coordinator) Commit(ctx context.Context, jobID id.JobID, duration time.Duration) (Plan, *job.Job, error) {
	plan, err := PlanFor(duration, c.chunkLength)
	if err != nil {
		return Plan{}, nil, err
	}
	j, err := c.engine.SetPartition(ctx, jobID, plan.TotalParts)
	if err != nil {
		return Plan{}, nil, fmt.Errorf("voxpipe/partition: commit: %w", err)
	}
	c.logger.Info("partition committed",
		slog.String("job_id", jobID.String()),
		slog.Duration("duration", duration),
		slog.Int("total_parts", plan.TotalParts),
	)
	return plan, j, nil
}
