package cleanup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/doctriage/doctriage/pkg/blob"
	"github.com/doctriage/doctriage/pkg/logging"
	"github.com/doctriage/doctriage/pkg/models"
	"github.com/doctriage/doctriage/pkg/store"
)

func seedTerminalJob(t *testing.T, st *store.MemoryStore, blobs blob.Storage, id string, status models.JobStatus, keepPayload bool) string {
	t.Helper()
	ctx := context.Background()

	ref := ""
	if keepPayload {
		var err error
		ref, err = blobs.Store(ctx, id+".txt", strings.NewReader("payload"))
		if err != nil {
			t.Fatalf("Failed to store payload: %v", err)
		}
	}

	job := &models.Job{
		ID: id, Filename: id + ".txt", PayloadRef: ref,
		Status: models.JobStatusQueued, MaxAttempts: 3, EnqueuedAt: time.Now(),
	}
	st.Put(ctx, job)
	st.MarkProcessing(ctx, id, "w1")
	if err := st.UpdateStatus(ctx, id, status, nil, nil); err != nil {
		t.Fatalf("Failed to finish job: %v", err)
	}
	return ref
}

func TestCleanupDeletesExpiredTerminalJobs(t *testing.T) {
	st := store.NewMemoryStore()
	blobs, _ := blob.NewFilesystemStorage(afero.NewMemMapFs(), "/payloads")
	ctx := context.Background()

	seedTerminalJob(t, st, blobs, "old", models.JobStatusCompleted, false)
	time.Sleep(20 * time.Millisecond)

	m := NewManager(Config{Enabled: true, Retention: 10 * time.Millisecond, Interval: time.Hour, DeleteBatchSize: 100},
		st, blobs, logging.NewLogger(logging.ERROR, false))

	if n := m.CleanupNow(ctx); n != 1 {
		t.Fatalf("Expected 1 deleted job, got %d", n)
	}
	if _, err := st.Get(ctx, "old"); !errors.Is(err, models.ErrJobNotFound) {
		t.Error("Expired job should be gone")
	}
	if m.GetStats().TotalDeleted != 1 {
		t.Errorf("Stats not updated: %+v", m.GetStats())
	}
}

func TestCleanupKeepsJobsInsideRetention(t *testing.T) {
	st := store.NewMemoryStore()
	blobs, _ := blob.NewFilesystemStorage(afero.NewMemMapFs(), "/payloads")
	ctx := context.Background()

	seedTerminalJob(t, st, blobs, "fresh", models.JobStatusCompleted, false)

	m := NewManager(Config{Enabled: true, Retention: time.Hour, Interval: time.Hour, DeleteBatchSize: 100},
		st, blobs, logging.NewLogger(logging.ERROR, false))

	if n := m.CleanupNow(ctx); n != 0 {
		t.Errorf("Fresh job deleted, n=%d", n)
	}
	if _, err := st.Get(ctx, "fresh"); err != nil {
		t.Error("Fresh job should survive the pass")
	}
}

func TestCleanupRemovesFailedJobPayload(t *testing.T) {
	st := store.NewMemoryStore()
	blobs, _ := blob.NewFilesystemStorage(afero.NewMemMapFs(), "/payloads")
	ctx := context.Background()

	ref := seedTerminalJob(t, st, blobs, "failed", models.JobStatusFailed, true)
	time.Sleep(20 * time.Millisecond)

	m := NewManager(Config{Enabled: true, Retention: 10 * time.Millisecond, Interval: time.Hour, DeleteBatchSize: 100},
		st, blobs, logging.NewLogger(logging.ERROR, false))
	m.CleanupNow(ctx)

	if _, err := blobs.Open(ctx, ref); !errors.Is(err, blob.ErrNotFound) {
		t.Error("Failed job's retained payload should be deleted with the job")
	}
}

func TestCleanupIgnoresActiveJobs(t *testing.T) {
	st := store.NewMemoryStore()
	blobs, _ := blob.NewFilesystemStorage(afero.NewMemMapFs(), "/payloads")
	ctx := context.Background()

	job := &models.Job{ID: "live", Filename: "live.txt", Status: models.JobStatusQueued, MaxAttempts: 3, EnqueuedAt: time.Now().Add(-48 * time.Hour)}
	st.Put(ctx, job)

	m := NewManager(Config{Enabled: true, Retention: time.Millisecond, Interval: time.Hour, DeleteBatchSize: 100},
		st, blobs, logging.NewLogger(logging.ERROR, false))

	if n := m.CleanupNow(ctx); n != 0 {
		t.Errorf("Queued job must never be GCed, n=%d", n)
	}
}
