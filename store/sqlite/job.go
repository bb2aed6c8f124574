package sqlite

import (
	"context"
	"fmt"

	"github.com/voxpipe/voxpipe"
	"github.com/voxpipe/voxpipe/id"
	"github.com/voxpipe/voxpipe/job"
)

// casRetries bounds the optimistic-concurrency retry loop in UpdateJob.
const casRetries = 16

// CreateJob persists a new job record.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	args, err := jobArgs(j)
	if err != nil {
		return fmt.Errorf("voxpipe/sqlite: create job: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO voxpipe_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return voxpipe.ErrJobAlreadyExists
		}
		return fmt.Errorf("voxpipe/sqlite: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM voxpipe_jobs WHERE id = ?`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, voxpipe.ErrJobNotFound
		}
		return nil, fmt.Errorf("voxpipe/sqlite: get job: %w", err)
	}
	return j, nil
}

// FindJobByName returns the most recently created job for the given
// original file name.
func (s *Store) FindJobByName(ctx context.Context, originalName string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM voxpipe_jobs
		WHERE original_name = ?
		ORDER BY created_at DESC
		LIMIT 1`,
		originalName,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, voxpipe.ErrJobNotFound
		}
		return nil, fmt.Errorf("voxpipe/sqlite: find job by name: %w", err)
	}
	return j, nil
}

// FindJobBySourceKey returns the job created for the given storage key.
func (s *Store) FindJobBySourceKey(ctx context.Context, sourceKey string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM voxpipe_jobs WHERE source_key = ?`,
		sourceKey,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, voxpipe.ErrJobNotFound
		}
		return nil, fmt.Errorf("voxpipe/sqlite: find job by source key: %w", err)
	}
	return j, nil
}

// UpdateJob applies the mutator under optimistic versioning: read the
// row, mutate a copy, and write it back only if the stored version is
// unchanged. A lost race re-reads and re-applies the mutator.
func (s *Store) UpdateJob(ctx context.Context, jobID id.JobID, fn job.Mutator) (*job.Job, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		current, err := s.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}

		updated := current.Clone()
		if err := fn(updated); err != nil {
			return nil, err
		}
		updated.Touch()

		args, err := jobArgs(updated)
		if err != nil {
			return nil, fmt.Errorf("voxpipe/sqlite: update job: %w", err)
		}
		// jobArgs order: skip id (WHERE) and shift the rest into SET.
		res, err := s.db.ExecContext(ctx, `
			UPDATE voxpipe_jobs SET
				original_name = ?, source_key = ?, stage = ?, total_parts = ?,
				done_parts = ?, merged_key = ?, result_key = ?, error_detail = ?,
				attempts = ?, created_at = ?, updated_at = ?, version = ?
			WHERE id = ? AND version = ?`,
			append(args[1:], jobID.String(), current.Version)...,
		)
		if err != nil {
			return nil, fmt.Errorf("voxpipe/sqlite: update job: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("voxpipe/sqlite: update job: %w", err)
		}
		if rows == 1 {
			return updated, nil
		}
		// Version moved under us; re-read and retry.
	}
	return nil, fmt.Errorf("voxpipe/sqlite: update job %s: %w", jobID, voxpipe.ErrConflict)
}

// ListJobsByStage returns jobs in the given stage, oldest update first.
func (s *Store) ListJobsByStage(ctx context.Context, stage job.Stage, opts job.ListOpts) ([]*job.Job, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unbounded.
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM voxpipe_jobs
		WHERE stage = ?
		ORDER BY updated_at ASC
		LIMIT ? OFFSET ?`,
		string(stage), limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("voxpipe/sqlite: list jobs by stage: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("voxpipe/sqlite: list jobs by stage: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("voxpipe/sqlite: list jobs by stage: %w", err)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs in the given stage. An empty
// stage counts all jobs.
func (s *Store) CountJobs(ctx context.Context, stage job.Stage) (int64, error) {
	var (
		count int64
		err   error
	)
	if stage == "" {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM voxpipe_jobs`).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM voxpipe_jobs WHERE stage = ?`, string(stage)).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("voxpipe/sqlite: count jobs: %w", err)
	}
	return count, nil
}
