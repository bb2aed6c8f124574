// Package memory provides a fully in-memory store.Store implementation.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/voxpipe/voxpipe"
	"github.com/voxpipe/voxpipe/id"
	"github.com/voxpipe/voxpipe/job"
)

// Ensure Store implements job.Store at compile time.
var _ job.Store = (*Store)(nil)

// Store keeps all job records in a map guarded by a mutex. Mutators run
// against clones, so a mutator error never leaves a stored record
// half-modified.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// New returns a new empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*job.Job)}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job record.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return voxpipe.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, voxpipe.ErrJobNotFound
	}
	return j.Clone(), nil
}

// FindJobByName returns the most recently created job for the given
// original file name.
func (m *Store) FindJobByName(_ context.Context, originalName string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *job.Job
	for _, j := range m.jobs {
		if j.OriginalName != originalName {
			continue
		}
		if latest == nil || j.CreatedAt.After(latest.CreatedAt) {
			latest = j
		}
	}
	if latest == nil {
		return nil, voxpipe.ErrJobNotFound
	}
	return latest.Clone(), nil
}

// FindJobBySourceKey returns the job created for the given storage key.
func (m *Store) FindJobBySourceKey(_ context.Context, sourceKey string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, j := range m.jobs {
		if j.SourceKey == sourceKey {
			return j.Clone(), nil
		}
	}
	return nil, voxpipe.ErrJobNotFound
}

// UpdateJob applies the mutator to a clone of the stored record and
// swaps it in. The store lock makes the read-modify-write atomic, so no
// version retry loop is needed here.
func (m *Store) UpdateJob(_ context.Context, jobID id.JobID, fn job.Mutator) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, voxpipe.ErrJobNotFound
	}
	next := stored.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Touch()
	m.jobs[jobID.String()] = next
	return next.Clone(), nil
}

// ListJobsByStage returns jobs currently in the given stage, oldest
// update first.
func (m *Store) ListJobsByStage(_ context.Context, stage job.Stage, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.Stage == stage {
			matched = append(matched, j)
		}
	}
	sort.Slice(matched, func(a, b int) bool {
		return matched[a].UpdatedAt.Before(matched[b].UpdatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return []*job.Job{}, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}

	out := make([]*job.Job, len(matched))
	for i, j := range matched {
		out[i] = j.Clone()
	}
	return out, nil
}

// CountJobs returns the number of jobs in the given stage. An empty
// stage counts all jobs.
func (m *Store) CountJobs(_ context.Context, stage job.Stage) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if stage == "" {
		return int64(len(m.jobs)), nil
	}
	var n int64
	for _, j := range m.jobs {
		if j.Stage == stage {
			n++
		}
	}
	return n, nil
}
