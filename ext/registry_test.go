package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/voxpipe/voxpipe/ext"
	"github.com/voxpipe/voxpipe/id"
	"github.com/voxpipe/voxpipe/job"
)

// recorder implements every hook and records the calls it receives.
type recorder struct {
	name    string
	calls   []string
	hookErr error
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnJobCreated(ctx context.Context, j *job.Job) error {
	r.calls = append(r.calls, "created")
	return r.hookErr
}

func (r *recorder) OnStageChanged(ctx context.Context, j *job.Job, from, to job.Stage) error {
	r.calls = append(r.calls, "stage:"+string(from)+">"+string(to))
	return r.hookErr
}

func (r *recorder) OnPartCompleted(ctx context.Context, j *job.Job, partIndex int) error {
	r.calls = append(r.calls, "part")
	return r.hookErr
}

func (r *recorder) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
	r.calls = append(r.calls, "failed")
	return r.hookErr
}

func (r *recorder) OnShutdown(ctx context.Context) error {
	r.calls = append(r.calls, "shutdown")
	return r.hookErr
}

// createdOnly implements only the JobCreated hook.
type createdOnly struct {
	calls int
}

func (c *createdOnly) Name() string                                  { return "created-only" }
func (c *createdOnly) OnJobCreated(ctx context.Context, j *job.Job) error { c.calls++; return nil }

func testJob() *job.Job {
	return job.New(id.NewJobID(), "meeting.wav", "uploads/x/meeting.wav")
}

func TestRegistry_DispatchesToImplementedHooks(t *testing.T) {
	reg := ext.NewRegistry(slog.Default())
	rec := &recorder{name: "rec"}
	reg.Register(rec)

	ctx := context.Background()
	j := testJob()

	reg.EmitJobCreated(ctx, j)
	reg.EmitStageChanged(ctx, j, job.StageUploaded, job.StageSplit)
	reg.EmitPartCompleted(ctx, j, 0)
	reg.EmitJobFailed(ctx, j, errors.New("boom"))
	reg.EmitShutdown(ctx)

	want := []string{"created", "stage:uploaded>split", "part", "failed", "shutdown"}
	if len(rec.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", rec.calls, want)
	}
	for i := range want {
		if rec.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, rec.calls[i], want[i])
		}
	}
}

func TestRegistry_SkipsUnimplementedHooks(t *testing.T) {
	reg := ext.NewRegistry(slog.Default())
	co := &createdOnly{}
	reg.Register(co)

	ctx := context.Background()
	j := testJob()

	// Only EmitJobCreated should reach the extension; the rest are no-ops.
	reg.EmitJobCreated(ctx, j)
	reg.EmitStageChanged(ctx, j, job.StageUploaded, job.StageSplit)
	reg.EmitJobCompleted(ctx, j, time.Second)
	reg.EmitSweepFired(ctx, j, time.Hour)

	if co.calls != 1 {
		t.Errorf("calls = %d, want 1", co.calls)
	}
}

func TestRegistry_HookErrorsDoNotBlock(t *testing.T) {
	reg := ext.NewRegistry(slog.Default())
	failing := &recorder{name: "failing", hookErr: errors.New("hook broke")}
	healthy := &recorder{name: "healthy"}
	reg.Register(failing)
	reg.Register(healthy)

	reg.EmitJobCreated(context.Background(), testJob())

	if len(failing.calls) != 1 || len(healthy.calls) != 1 {
		t.Errorf("both extensions should be notified: failing=%v healthy=%v",
			failing.calls, healthy.calls)
	}
}

func TestRegistry_Extensions(t *testing.T) {
	reg := ext.NewRegistry(slog.Default())
	reg.Register(&recorder{name: "a"})
	reg.Register(&createdOnly{})

	if got := len(reg.Extensions()); got != 2 {
		t.Errorf("Extensions() len = %d, want 2", got)
	}
}
