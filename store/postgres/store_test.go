//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/voxpipe/voxpipe"
	"github.com/voxpipe/voxpipe/id"
	"github.com/voxpipe/voxpipe/job"
	"github.com/voxpipe/voxpipe/store/postgres"
)

// setupTestStore starts a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("voxpipe_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	store, err := postgres.New(ctx, connStr, postgres.WithLogger(slog.Default()))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func newJob(name string) *job.Job {
	jobID := id.NewJobID()
	return job.New(jobID, name, "uploads/"+jobID.String()+"/"+name)
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Job store tests
// ──────────────────────────────────────────────────

func TestJobStore_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := newJob("meeting.mp3")
	j.Stage = job.StageTranscribeInProgress
	j.TotalParts = 4
	j.MarkPart(2)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Stage != job.StageTranscribeInProgress || got.TotalParts != 4 {
		t.Errorf("got %+v", got)
	}
	if !got.PartDone(2) || got.CompletedParts() != 1 {
		t.Errorf("done parts round-trip failed: %v", got.DoneParts)
	}
}

func TestJobStore_DuplicateCreate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := newJob("dup.mp3")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.CreateJob(ctx, j); !errors.Is(err, voxpipe.ErrJobAlreadyExists) {
		t.Fatalf("duplicate create error = %v, want ErrJobAlreadyExists", err)
	}
}

func TestJobStore_Lookups(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	older := newJob("weekly.mp3")
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	if err := s.CreateJob(ctx, older); err != nil {
		t.Fatalf("CreateJob older: %v", err)
	}
	newer := newJob("weekly.mp3")
	if err := s.CreateJob(ctx, newer); err != nil {
		t.Fatalf("CreateJob newer: %v", err)
	}

	byName, err := s.FindJobByName(ctx, "weekly.mp3")
	if err != nil {
		t.Fatalf("FindJobByName: %v", err)
	}
	if byName.ID.String() != newer.ID.String() {
		t.Errorf("by name got %s, want most recent %s", byName.ID, newer.ID)
	}

	byKey, err := s.FindJobBySourceKey(ctx, older.SourceKey)
	if err != nil {
		t.Fatalf("FindJobBySourceKey: %v", err)
	}
	if byKey.ID.String() != older.ID.String() {
		t.Errorf("by key got %s, want %s", byKey.ID, older.ID)
	}

	if _, err := s.FindJobByName(ctx, "missing.mp3"); !errors.Is(err, voxpipe.ErrJobNotFound) {
		t.Fatalf("missing name error = %v, want ErrJobNotFound", err)
	}
}

func TestJobStore_ConcurrentUpdates(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := newJob("parallel.mp3")
	j.Stage = job.StageTranscribeInProgress
	j.TotalParts = 24
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 24; i++ {
		wg.Add(1)
		go func(part int) {
			defer wg.Done()
			_, err := s.UpdateJob(ctx, j.ID, func(j *job.Job) error {
				j.MarkPart(part)
				return nil
			})
			if err != nil {
				t.Errorf("UpdateJob part %d: %v", part, err)
			}
		}(i)
	}
	wg.Wait()

	stored, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.CompletedParts() != 24 {
		t.Errorf("completed parts = %d, want 24 (lost update)", stored.CompletedParts())
	}
}

func TestJobStore_ListAndCount(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		j := newJob("listed.mp3")
		j.Stage = job.StageSplit
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	jobs, err := s.ListJobsByStage(ctx, job.StageSplit, job.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("ListJobsByStage: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("len = %d, want 2", len(jobs))
	}

	count, err := s.CountJobs(ctx, job.StageSplit)
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}
