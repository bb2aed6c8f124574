package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/voxpipe/voxpipe"
	"github.com/voxpipe/voxpipe/id"
	"github.com/voxpipe/voxpipe/job"
)

// casRetries bounds the optimistic-concurrency retry loop in UpdateJob.
const casRetries = 16

const jobColumns = `id, original_name, source_key, stage, total_parts,
	done_parts, merged_key, result_key, error_detail, attempts,
	created_at, updated_at, version`

// scanJob reads one row in jobColumns order into a domain job.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		rawID     string
		doneParts []byte
	)
	err := row.Scan(
		&rawID, &j.OriginalName, &j.SourceKey, (*string)(&j.Stage), &j.TotalParts,
		&doneParts, &j.MergedKey, &j.ResultKey, &j.ErrorDetail, &j.Attempts,
		&j.CreatedAt, &j.UpdatedAt, &j.Version,
	)
	if err != nil {
		return nil, err
	}

	j.ID, err = id.ParseJobID(rawID)
	if err != nil {
		return nil, fmt.Errorf("bad stored job id %q: %w", rawID, err)
	}
	if err := json.Unmarshal(doneParts, &j.DoneParts); err != nil {
		return nil, fmt.Errorf("bad done_parts for job %s: %w", rawID, err)
	}
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return &j, nil
}

func donePartsJSON(j *job.Job) ([]byte, error) {
	parts := j.DoneParts
	if parts == nil {
		parts = []int{}
	}
	return json.Marshal(parts)
}

// CreateJob persists a new job record.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	doneParts, err := donePartsJSON(j)
	if err != nil {
		return fmt.Errorf("voxpipe/postgres: create job: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO voxpipe_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		j.ID.String(), j.OriginalName, j.SourceKey, string(j.Stage), j.TotalParts,
		doneParts, j.MergedKey, j.ResultKey, j.ErrorDetail, j.Attempts,
		j.CreatedAt.UTC(), j.UpdatedAt.UTC(), j.Version,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return voxpipe.ErrJobAlreadyExists
		}
		return fmt.Errorf("voxpipe/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM voxpipe_jobs WHERE id = $1`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, voxpipe.ErrJobNotFound
		}
		return nil, fmt.Errorf("voxpipe/postgres: get job: %w", err)
	}
	return j, nil
}

// FindJobByName returns the most recently created job for the given
// original file name.
func (s *Store) FindJobByName(ctx context.Context, originalName string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM voxpipe_jobs
		WHERE original_name = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		originalName,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, voxpipe.ErrJobNotFound
		}
		return nil, fmt.Errorf("voxpipe/postgres: find job by name: %w", err)
	}
	return j, nil
}

// FindJobBySourceKey returns the job created for the given storage key.
func (s *Store) FindJobBySourceKey(ctx context.Context, sourceKey string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM voxpipe_jobs WHERE source_key = $1`,
		sourceKey,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, voxpipe.ErrJobNotFound
		}
		return nil, fmt.Errorf("voxpipe/postgres: find job by source key: %w", err)
	}
	return j, nil
}

// UpdateJob applies the mutator under optimistic versioning: the UPDATE
// matches on the version read, so a lost race affects zero rows and the
// read-mutate-write is retried against the fresh row.
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

		doneParts, err := donePartsJSON(updated)
		if err != nil {
			return nil, fmt.Errorf("voxpipe/postgres: update job: %w", err)
		}
		tag, err := s.pool.Exec(ctx, `
			UPDATE voxpipe_jobs SET
				original_name = $1, source_key = $2, stage = $3, total_parts = $4,
				done_parts = $5, merged_key = $6, result_key = $7, error_detail = $8,
				attempts = $9, updated_at = $10, version = $11
			WHERE id = $12 AND version = $13`,
			updated.OriginalName, updated.SourceKey, string(updated.Stage), updated.TotalParts,
			doneParts, updated.MergedKey, updated.ResultKey, updated.ErrorDetail,
			updated.Attempts, updated.UpdatedAt.UTC(), updated.Version,
			jobID.String(), current.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("voxpipe/postgres: update job: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return updated, nil
		}
		// Version moved under us; re-read and retry.
	}
	return nil, fmt.Errorf("voxpipe/postgres: update job %s: %w", jobID, voxpipe.ErrConflict)
}

// ListJobsByStage returns jobs in the given stage, oldest update first.
func (s *Store) ListJobsByStage(ctx context.Context, stage job.Stage, opts job.ListOpts) ([]*job.Job, error) {
	query := `
		SELECT ` + jobColumns + ` FROM voxpipe_jobs
		WHERE stage = $1
		ORDER BY updated_at ASC
		OFFSET $2`
	args := []any{string(stage), opts.Offset}
	if opts.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("voxpipe/postgres: list jobs by stage: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("voxpipe/postgres: list jobs by stage: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("voxpipe/postgres: list jobs by stage: %w", err)
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
		err = s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM voxpipe_jobs`).Scan(&count)
	} else {
		err = s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM voxpipe_jobs WHERE stage = $1`, string(stage)).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("voxpipe/postgres: count jobs: %w", err)
	}
	return count, nil
}
