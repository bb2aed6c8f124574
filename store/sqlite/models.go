package sqlite

import (
	"encoding/json"
	"fmt"

	"github.com/voxpipe/voxpipe/id"
	"github.com/voxpipe/voxpipe/job"
)

// schema is the full DDL, idempotent so Migrate can run on every start.
const schema = `
CREATE TABLE IF NOT EXISTS voxpipe_jobs (
	id            TEXT PRIMARY KEY,
	original_name TEXT NOT NULL,
	source_key    TEXT NOT NULL UNIQUE,
	stage         TEXT NOT NULL,
	total_parts   INTEGER NOT NULL DEFAULT 0,
	done_parts    TEXT NOT NULL DEFAULT '[]',
	merged_key    TEXT NOT NULL DEFAULT '',
	result_key    TEXT NOT NULL DEFAULT '',
	error_detail  TEXT NOT NULL DEFAULT '',
	attempts      INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	version       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_voxpipe_jobs_stage
	ON voxpipe_jobs (stage, updated_at);

CREATE INDEX IF NOT EXISTS idx_voxpipe_jobs_name
	ON voxpipe_jobs (original_name, created_at);
`

const jobColumns = `id, original_name, source_key, stage, total_parts,
	done_parts, merged_key, result_key, error_detail, attempts,
	created_at, updated_at, version`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob reads one row in jobColumns order into a domain job.
func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j         job.Job
		rawID     string
		doneParts string
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
	if err := json.Unmarshal([]byte(doneParts), &j.DoneParts); err != nil {
		return nil, fmt.Errorf("bad done_parts for job %s: %w", rawID, err)
	}
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return &j, nil
}

// jobArgs returns the insert/update argument list in jobColumns order.
func jobArgs(j *job.Job) ([]any, error) {
	doneParts, err := json.Marshal(donePartsOrEmpty(j))
	if err != nil {
		return nil, fmt.Errorf("marshal done_parts: %w", err)
	}
	return []any{
		j.ID.String(), j.OriginalName, j.SourceKey, string(j.Stage), j.TotalParts,
		string(doneParts), j.MergedKey, j.ResultKey, j.ErrorDetail, j.Attempts,
		j.CreatedAt.UTC(), j.UpdatedAt.UTC(), j.Version,
	}, nil
}

// donePartsOrEmpty keeps the stored JSON a valid array rather than null.
func donePartsOrEmpty(j *job.Job) []int {
	if j.DoneParts == nil {
		return []int{}
	}
	return j.DoneParts
}
