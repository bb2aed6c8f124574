// Package sweep fails jobs that stopped making progress. A job sitting
// in a working stage past the stall threshold has lost its driver (a
// crashed orchestrator, a transcription that never reported back) and
// is moved to the matching failure stage so clients stop waiting and an
// operator can retry it.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/voxpipe/voxpipe"
	"github.com/voxpipe/voxpipe/engine"
	"github.com/voxpipe/voxpipe/ext"
	"github.com/voxpipe/voxpipe/job"
)

// failureFor maps each working stage to the failure stage a stalled job
// lands in.
var failureFor = map[job.Stage]job.Stage{
	job.StageUploaded:             job.StagePreprocessFailed,
	job.StageSplit:                job.StageTranscribeFailed,
	job.StageTranscribeInProgress: job.StageTranscribeFailed,
	job.StageTranscribeCompleted:  job.StageTranscribeFailed,
	job.StageMerged:               job.StageSummarizeFailed,
	job.StageSummarizeInProgress:  job.StageSummarizeFailed,
}

// cronParser supports standard 5-field cron and descriptors like
// "@every 5m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Sweeper periodically scans for stalled jobs and fails them.
type Sweeper struct {
	store  job.Store
	eng    *engine.Engine
	hooks  *ext.Registry
	logger *slog.Logger

	threshold time.Duration
	schedule  cronlib.Schedule
	batchSize int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the sweeper's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithHooks sets the extension registry sweep events are emitted to.
func WithHooks(hooks *ext.Registry) Option {
	return func(s *Sweeper) {
		s.hooks = hooks
	}
}

// WithThreshold sets how long a job may sit in a working stage without
// an update before it is considered stalled.
func WithThreshold(d time.Duration) Option {
	return func(s *Sweeper) {
		s.threshold = d
	}
}

// WithBatchSize caps how many jobs per stage a single sweep examines.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		s.batchSize = n
	}
}

// New creates a Sweeper. schedule is a cron expression or descriptor
// ("@every 5m") controlling how often a sweep runs.
func New(store job.Store, eng *engine.Engine, schedule string, opts ...Option) (*Sweeper, error) {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("voxpipe/sweep: parse schedule %q: %w", schedule, err)
	}

	s := &Sweeper{
		store:     store,
		eng:       eng,
		logger:    slog.Default(),
		threshold: voxpipe.DefaultConfig().StallThreshold,
		schedule:  sched,
		batchSize: 100,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hooks == nil {
		s.hooks = ext.NewRegistry(s.logger)
	}
	return s, nil
}

// Start launches the sweep loop.
func (s *Sweeper) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("sweeper started",
		slog.Duration("threshold", s.threshold),
		slog.Time("next_sweep", s.schedule.Next(time.Now())),
	)
	return nil
}

// Stop signals the sweep loop to stop and waits for it to finish.
func (s *Sweeper) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("sweeper stopped")
	return nil
}

func (s *Sweeper) loop() {
	defer s.wg.Done()
	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			if n, err := s.Sweep(context.Background()); err != nil {
				s.logger.Error("sweep failed", slog.String("error", err.Error()))
			} else if n > 0 {
				s.logger.Info("sweep completed", slog.Int("swept", n))
			}
		}
	}
}

// Sweep performs one pass over all working stages and fails every job
// whose last update is older than the stall threshold. It returns the
// number of jobs swept.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.threshold)
	swept := 0

	for stage, failure := range failureFor {
		jobs, err := s.store.ListJobsByStage(ctx, stage, job.ListOpts{Limit: s.batchSize})
		if err != nil {
			return swept, fmt.Errorf("voxpipe/sweep: list %s jobs: %w", stage, err)
		}
		for _, j := range jobs {
			if j.UpdatedAt.After(cutoff) {
				// Jobs are listed oldest update first; the rest of this
				// stage is fresher still.
				break
			}
			if err := s.sweepJob(ctx, j, stage, failure); err != nil {
				s.logger.Error("sweep job failed",
					slog.String("job_id", j.ID.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			swept++
		}
	}
	return swept, nil
}

func (s *Sweeper) sweepJob(ctx context.Context, j *job.Job, stage, failure job.Stage) error {
	stalledFor := time.Since(j.UpdatedAt)
	detail := fmt.Sprintf("stalled in %s for %s without progress", stage, stalledFor.Round(time.Second))

	failed, err := s.eng.Fail(ctx, j.ID, failure, detail)
	if err != nil {
		return err
	}
	s.logger.Warn("stalled job swept",
		slog.String("job_id", j.ID.String()),
		slog.String("stage", string(stage)),
		slog.String("failure", string(failure)),
		slog.Duration("stalled_for", stalledFor),
	)
	s.hooks.EmitSweepFired(ctx, failed, stalledFor)
	return nil
}
