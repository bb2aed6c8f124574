package sweep

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/voxpipe/voxpipe/engine"
	"github.com/voxpipe/voxpipe/ext"
	"github.com/voxpipe/voxpipe/id"
	"github.com/voxpipe/voxpipe/job"
	"github.com/voxpipe/voxpipe/store/memory"
)

func newSweeper(t *testing.T, st *memory.Store, opts ...Option) *Sweeper {
	t.Helper()
	eng, err := engine.New(st)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	s, err := New(st, eng, "@every 1m", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// seedJob stores a job in the given stage whose last update is age ago.
func seedJob(t *testing.T, st *memory.Store, stage job.Stage, totalParts int, age time.Duration) id.JobID {
	t.Helper()
	jobID := id.NewJobID()
	j := job.New(jobID, "stale.mp3", "uploads/"+jobID.String()+"/stale.mp3")
	j.Stage = stage
	j.TotalParts = totalParts
	j.UpdatedAt = time.Now().UTC().Add(-age)
	if err := st.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return jobID
}

func TestNewRejectsBadSchedule(t *testing.T) {
	st := memory.New()
	eng, err := engine.New(st)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if _, err := New(st, eng, "not a schedule"); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestSweepFailsStalledJobs(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	s := newSweeper(t, st, WithThreshold(30*time.Minute))

	stale := seedJob(t, st, job.StageTranscribeInProgress, 4, time.Hour)
	fresh := seedJob(t, st, job.StageTranscribeInProgress, 4, time.Minute)

	swept, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	staleJob, err := st.GetJob(ctx, stale)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if staleJob.Stage != job.StageTranscribeFailed {
		t.Errorf("stale stage = %s, want %s", staleJob.Stage, job.StageTranscribeFailed)
	}
	if !strings.Contains(staleJob.ErrorDetail, "stalled in transcribe_in_progress") {
		t.Errorf("error detail = %q", staleJob.ErrorDetail)
	}

	freshJob, err := st.GetJob(ctx, fresh)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if freshJob.Stage != job.StageTranscribeInProgress {
		t.Errorf("fresh stage = %s, want untouched", freshJob.Stage)
	}
}

func TestSweepMapsStagesToMatchingFailures(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	s := newSweeper(t, st, WithThreshold(time.Minute))

	tests := []struct {
		stage job.Stage
		parts int
		want  job.Stage
	}{
		{job.StageUploaded, 0, job.StagePreprocessFailed},
		{job.StageSplit, 3, job.StageTranscribeFailed},
		{job.StageTranscribeInProgress, 3, job.StageTranscribeFailed},
		{job.StageTranscribeCompleted, 3, job.StageTranscribeFailed},
		{job.StageMerged, 3, job.StageSummarizeFailed},
		{job.StageSummarizeInProgress, 3, job.StageSummarizeFailed},
	}

	ids := make(map[job.Stage]id.JobID, len(tests))
	for _, tt := range tests {
		ids[tt.stage] = seedJob(t, st, tt.stage, tt.parts, time.Hour)
	}

	swept, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if swept != len(tests) {
		t.Fatalf("swept = %d, want %d", swept, len(tests))
	}

	for _, tt := range tests {
		j, err := st.GetJob(ctx, ids[tt.stage])
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if j.Stage != tt.want {
			t.Errorf("%s swept to %s, want %s", tt.stage, j.Stage, tt.want)
		}
	}
}

func TestSweepLeavesTerminalJobsAlone(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	s := newSweeper(t, st, WithThreshold(time.Minute))

	done := seedJob(t, st, job.StageSummarized, 2, time.Hour)
	failed := seedJob(t, st, job.StageTranscribeFailed, 2, time.Hour)

	swept, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if swept != 0 {
		t.Fatalf("swept = %d, want 0", swept)
	}

	for _, tt := range []struct {
		jobID id.JobID
		want  job.Stage
	}{
		{done, job.StageSummarized},
		{failed, job.StageTranscribeFailed},
	} {
		j, err := st.GetJob(ctx, tt.jobID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if j.Stage != tt.want {
			t.Errorf("terminal job %s changed stage to %s, want %s", tt.jobID, j.Stage, tt.want)
		}
	}
}

// sweepRecorder records SweepFired hook invocations.
type sweepRecorder struct {
	fired []time.Duration
}

func (r *sweepRecorder) Name() string { return "sweep-recorder" }

func (r *sweepRecorder) OnSweepFired(_ context.Context, _ *job.Job, stalledFor time.Duration) error {
	r.fired = append(r.fired, stalledFor)
	return nil
}

func TestSweepEmitsHook(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	rec := &sweepRecorder{}
	hooks := ext.NewRegistry(slog.Default())
	hooks.Register(rec)

	s := newSweeper(t, st, WithThreshold(time.Minute), WithHooks(hooks))
	seedJob(t, st, job.StageMerged, 2, time.Hour)

	if _, err := s.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(rec.fired) != 1 {
		t.Fatalf("hook fired %d times, want 1", len(rec.fired))
	}
	if rec.fired[0] < 59*time.Minute {
		t.Errorf("stalled duration = %v, want about an hour", rec.fired[0])
	}
}
