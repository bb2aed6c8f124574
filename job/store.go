package job

import (
	"context"

	"github.com/voxpipe/voxpipe/id"
)

// ListOpts controls pagination for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Mutator is applied to a copy of the stored job inside an atomic update.
// Returning an error aborts the update without persisting anything.
type Mutator func(j *Job) error

// Store defines the persistence contract for job stage records.
//
// UpdateJob is the only write path for existing records and must be safe
// under concurrent callers racing to record part completions or stage
// transitions: implementations use optimistic versioning (compare the
// Entity version, retry the read-modify-write on conflict) so the race is
// resolved internally and never surfaces to callers.
type Store interface {
	// CreateJob persists a new job record. It returns
	// voxpipe.ErrJobAlreadyExists if a record with the same ID exists,
	// which callers rely on for idempotent handling of redelivered
	// upload notifications.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID, or voxpipe.ErrJobNotFound.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// FindJobByName returns the most recently created job for the given
	// original file name, or voxpipe.ErrJobNotFound. This is the
	// compatibility shim for clients that only know the upload's name.
	FindJobByName(ctx context.Context, originalName string) (*Job, error)

	// FindJobBySourceKey returns the job created for the given storage
	// key, or voxpipe.ErrJobNotFound. Used to deduplicate upload
	// notifications for keys that do not embed a job ID.
	FindJobBySourceKey(ctx context.Context, sourceKey string) (*Job, error)

	// UpdateJob atomically applies the mutator to the stored record and
	// persists the result, returning the updated job. The mutator may be
	// invoked more than once if a concurrent writer wins the race.
	UpdateJob(ctx context.Context, jobID id.JobID, fn Mutator) (*Job, error)

	// ListJobsByStage returns jobs currently in the given stage, oldest
	// update first.
	ListJobsByStage(ctx context.Context, stage Stage, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs in the given stage. An empty
	// stage counts all jobs.
	CountJobs(ctx context.Context, stage Stage) (int64, error)
}
