package audithook_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ah "github.com/voxpipe/voxpipe/audit_hook"
	"github.com/voxpipe/voxpipe/id"
	"github.com/voxpipe/voxpipe/job"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

// ── Test helpers ─────────────────────────────────────

func newTestJob() *job.Job {
	j := job.New(id.NewJobID(), "standup.mp3", "uploads/raw/standup.mp3")
	j.Stage = job.StageTranscribeInProgress
	j.TotalParts = 4
	j.MarkPart(0)
	return j
}

// ── Hook emission ────────────────────────────────────

func TestJobCreatedEmitsEvent(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()

	if err := e.OnJobCreated(context.Background(), j); err != nil {
		t.Fatalf("OnJobCreated: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionJobCreated {
		t.Errorf("Action = %q, want %q", evt.Action, ah.ActionJobCreated)
	}
	if evt.ResourceID != j.ID.String() {
		t.Errorf("ResourceID = %q, want %q", evt.ResourceID, j.ID)
	}
	if evt.Severity != ah.SeverityInfo || evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("severity/outcome = %q/%q, want info/success", evt.Severity, evt.Outcome)
	}
	if evt.Metadata["file_name"] != "standup.mp3" {
		t.Errorf("file_name = %v, want standup.mp3", evt.Metadata["file_name"])
	}
}

func TestStageChangedSeverityTracksFailure(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()

	if err := e.OnStageChanged(context.Background(), j, job.StageSplit, job.StageTranscribeInProgress); err != nil {
		t.Fatalf("OnStageChanged: %v", err)
	}
	if evt := rec.last(); evt.Severity != ah.SeverityInfo {
		t.Errorf("normal transition severity = %q, want info", evt.Severity)
	}

	if err := e.OnStageChanged(context.Background(), j, job.StageTranscribeInProgress, job.StageTranscribeFailed); err != nil {
		t.Fatalf("OnStageChanged to failure: %v", err)
	}
	evt := rec.last()
	if evt.Severity != ah.SeverityCritical || evt.Outcome != ah.OutcomeFailure {
		t.Errorf("failure transition = %q/%q, want critical/failure", evt.Severity, evt.Outcome)
	}
	if evt.Metadata["to"] != string(job.StageTranscribeFailed) {
		t.Errorf("to = %v, want %s", evt.Metadata["to"], job.StageTranscribeFailed)
	}
}

func TestPartCompletedCarriesCounts(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()

	if err := e.OnPartCompleted(context.Background(), j, 0); err != nil {
		t.Fatalf("OnPartCompleted: %v", err)
	}

	evt := rec.last()
	if evt.Metadata["part_index"] != 0 {
		t.Errorf("part_index = %v, want 0", evt.Metadata["part_index"])
	}
	if evt.Metadata["completed_parts"] != 1 || evt.Metadata["total_parts"] != 4 {
		t.Errorf("counts = %v/%v, want 1/4",
			evt.Metadata["completed_parts"], evt.Metadata["total_parts"])
	}
}

func TestJobFailedRecordsReason(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()
	j.Stage = job.StageTranscribeFailed

	if err := e.OnJobFailed(context.Background(), j, errors.New("part 2: engine timeout")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	evt := rec.last()
	if evt.Reason != "part 2: engine timeout" {
		t.Errorf("Reason = %q, want the failure detail", evt.Reason)
	}
	if evt.Metadata["error"] != "part 2: engine timeout" {
		t.Errorf("error metadata = %v, want the failure detail", evt.Metadata["error"])
	}
}

func TestSweepFiredUsesSweepCategory(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()

	if err := e.OnSweepFired(context.Background(), j, 45*time.Minute); err != nil {
		t.Fatalf("OnSweepFired: %v", err)
	}

	evt := rec.last()
	if evt.Category != ah.CategorySweep {
		t.Errorf("Category = %q, want %q", evt.Category, ah.CategorySweep)
	}
	if evt.Metadata["stalled_for"] != "45m0s" {
		t.Errorf("stalled_for = %v, want 45m0s", evt.Metadata["stalled_for"])
	}
}

// ── Filtering ────────────────────────────────────────

func TestWithActionsFiltersEvents(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionJobFailed))
	j := newTestJob()
	ctx := context.Background()

	if err := e.OnJobCreated(ctx, j); err != nil {
		t.Fatalf("OnJobCreated: %v", err)
	}
	if err := e.OnPartCompleted(ctx, j, 1); err != nil {
		t.Fatalf("OnPartCompleted: %v", err)
	}
	if err := e.OnJobFailed(ctx, j, errors.New("boom")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	if rec.count() != 1 {
		t.Fatalf("recorded %d events, want 1 (only job.failed enabled)", rec.count())
	}
	if rec.findByAction(ah.ActionJobFailed) == nil {
		t.Error("job.failed event missing")
	}
}

// ── Recorder errors ──────────────────────────────────

func TestRecorderErrorDoesNotPropagate(t *testing.T) {
	e := ah.New(ah.RecorderFunc(func(context.Context, *ah.AuditEvent) error {
		return errors.New("backend down")
	}))

	// Audit failures must never fail the pipeline operation.
	if err := e.OnJobCreated(context.Background(), newTestJob()); err != nil {
		t.Fatalf("OnJobCreated returned %v, want nil despite recorder error", err)
	}
}

func TestJobRetriedEvent(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()
	j.Attempts = 2

	if err := e.OnJobRetried(context.Background(), j, 2); err != nil {
		t.Fatalf("OnJobRetried: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobRetried {
		t.Errorf("Action = %q, want %q", evt.Action, ah.ActionJobRetried)
	}
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity = %q, want warning", evt.Severity)
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("attempt = %v, want 2", evt.Metadata["attempt"])
	}
}
