package worker

import (
	"context"
	"testing"
	"time"

	"github.com/doctriage/doctriage/pkg/models"
)

func TestRegistryActiveFiltersStale(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	r.Register(ctx, models.WorkerInfo{ID: "w1"})
	r.Register(ctx, models.WorkerInfo{ID: "w2"})

	active, err := r.Active(ctx, time.Minute)
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("Expected 2 active workers, got %d", len(active))
	}

	// A zero staleness bound makes every heartbeat stale.
	time.Sleep(5 * time.Millisecond)
	active, _ = r.Active(ctx, time.Nanosecond)
	if len(active) != 0 {
		t.Errorf("Expected 0 active workers with tight bound, got %d", len(active))
	}
}

func TestRegistryDeregister(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	r.Register(ctx, models.WorkerInfo{ID: "w1"})
	r.Deregister(ctx, "w1")

	active, _ := r.Active(ctx, time.Minute)
	if len(active) != 0 {
		t.Errorf("Expected no workers after deregister, got %d", len(active))
	}
}

func TestRegistryHeartbeatUpdatesInfo(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	r.Register(ctx, models.WorkerInfo{ID: "w1"})
	r.Heartbeat(ctx, models.WorkerInfo{ID: "w1", CurrentJobID: "j9", CPUPercent: 40})

	active, _ := r.Active(ctx, time.Minute)
	if len(active) != 1 {
		t.Fatalf("Expected 1 worker, got %d", len(active))
	}
	if active[0].CurrentJobID != "j9" || active[0].CPUPercent != 40 {
		t.Errorf("Heartbeat did not update info: %+v", active[0])
	}
}

func TestRegistryAvgProcessing(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	avg, err := r.AvgProcessing(ctx, time.Minute)
	if err != nil {
		t.Fatalf("AvgProcessing failed: %v", err)
	}
	if avg != 0 {
		t.Errorf("No samples should yield zero, got %v", avg)
	}

	r.RecordProcessing(ctx, 2*time.Second)
	r.RecordProcessing(ctx, 4*time.Second)

	avg, _ = r.AvgProcessing(ctx, time.Minute)
	if avg != 3*time.Second {
		t.Errorf("Expected 3s average, got %v", avg)
	}

	// Samples outside the window do not count.
	avg, _ = r.AvgProcessing(ctx, 0)
	if avg != 0 {
		t.Errorf("Zero window should yield zero, got %v", avg)
	}
}
