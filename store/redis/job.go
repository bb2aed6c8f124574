package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/voxpipe/voxpipe"
	"github.com/voxpipe/voxpipe/id"
	"github.com/voxpipe/voxpipe/job"
)

// casRetries bounds how many times an update replays after losing a
// WATCH race before giving up with voxpipe.ErrConflict.
const casRetries = 16

// CreateJob persists a new job record and its secondary indexes.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("voxpipe/redis: marshal job: %w", err)
	}

	key := jobKey(j.ID.String())
	ok, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("voxpipe/redis: create job: %w", err)
	}
	if !ok {
		return voxpipe.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, jobIDsKey, j.ID.String())
	pipe.ZAdd(ctx, stageKey(string(j.Stage)), redis.Z{
		Score:  float64(j.UpdatedAt.UnixMilli()),
		Member: j.ID.String(),
	})
	pipe.ZAdd(ctx, nameKey(j.OriginalName), redis.Z{
		Score:  float64(j.CreatedAt.UnixMilli()),
		Member: j.ID.String(),
	})
	if j.SourceKey != "" {
		pipe.HSet(ctx, sourceIdxKey, j.SourceKey, j.ID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("voxpipe/redis: index job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	data, err := s.client.Get(ctx, jobKey(jobID.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, voxpipe.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("voxpipe/redis: get job: %w", err)
	}
	return unmarshalJob(data)
}

// FindJobByName returns the most recently created job with the given
// original file name.
func (s *Store) FindJobByName(ctx context.Context, originalName string) (*job.Job, error) {
	ids, err := s.client.ZRevRange(ctx, nameKey(originalName), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("voxpipe/redis: find job by name: %w", err)
	}
	if len(ids) == 0 {
		return nil, voxpipe.ErrJobNotFound
	}
	jobID, err := id.ParseJobID(ids[0])
	if err != nil {
		return nil, fmt.Errorf("voxpipe/redis: find job by name: %w", err)
	}
	return s.GetJob(ctx, jobID)
}

// FindJobBySourceKey returns the job created for the given storage key.
func (s *Store) FindJobBySourceKey(ctx context.Context, sourceKey string) (*job.Job, error) {
	raw, err := s.client.HGet(ctx, sourceIdxKey, sourceKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, voxpipe.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("voxpipe/redis: find job by source key: %w", err)
	}
	jobID, err := id.ParseJobID(raw)
	if err != nil {
		return nil, fmt.Errorf("voxpipe/redis: find job by source key: %w", err)
	}
	return s.GetJob(ctx, jobID)
}

// UpdateJob applies the mutator under a WATCH/MULTI transaction so a
// concurrent writer forces a replay instead of a lost update. Stage and
// name indexes are refreshed in the same transaction.
func (s *Store) UpdateJob(ctx context.Context, jobID id.JobID, fn job.Mutator) (*job.Job, error) {
	key := jobKey(jobID.String())

	var updated *job.Job
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return voxpipe.ErrJobNotFound
		}
		if err != nil {
			return err
		}
		current, err := unmarshalJob(data)
		if err != nil {
			return err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.Touch()

		out, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			if next.Stage != current.Stage {
				pipe.ZRem(ctx, stageKey(string(current.Stage)), jobID.String())
			}
			pipe.ZAdd(ctx, stageKey(string(next.Stage)), redis.Z{
				Score:  float64(next.UpdatedAt.UnixMilli()),
				Member: jobID.String(),
			})
			return nil
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	}

	for i := 0; i < casRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, voxpipe.ErrJobNotFound) {
			return nil, voxpipe.ErrJobNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("voxpipe/redis: update job: %w", err)
		}
		return updated, nil
	}
	return nil, fmt.Errorf("voxpipe/redis: update job %s: %w", jobID, voxpipe.ErrConflict)
}

// ListJobsByStage returns jobs in the given stage, oldest update first.
// The stage sorted set is scored by update time, so a plain ZRange walks
// jobs in exactly that order.
func (s *Store) ListJobsByStage(ctx context.Context, stage job.Stage, opts job.ListOpts) ([]*job.Job, error) {
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = int64(opts.Offset + opts.Limit - 1)
	}
	ids, err := s.client.ZRange(ctx, stageKey(string(stage)), int64(opts.Offset), stop).Result()
	if err != nil {
		return nil, fmt.Errorf("voxpipe/redis: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, raw := range ids {
		jobID, err := id.ParseJobID(raw)
		if err != nil {
			return nil, fmt.Errorf("voxpipe/redis: list jobs: %w", err)
		}
		j, err := s.GetJob(ctx, jobID)
		if errors.Is(err, voxpipe.ErrJobNotFound) {
			// Index entry outlived the record; skip it.
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs in the given stage, or the total
// number of jobs when stage is empty.
func (s *Store) CountJobs(ctx context.Context, stage job.Stage) (int64, error) {
	var (
		n   int64
		err error
	)
	if stage == "" {
		n, err = s.client.SCard(ctx, jobIDsKey).Result()
	} else {
		n, err = s.client.ZCard(ctx, stageKey(string(stage))).Result()
	}
	if err != nil {
		return 0, fmt.Errorf("voxpipe/redis: count jobs: %w", err)
	}
	return n, nil
}

func unmarshalJob(data []byte) (*job.Job, error) {
	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("voxpipe/redis: unmarshal job: %w", err)
	}
	return &j, nil
}
