package scaler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/doctriage/doctriage/pkg/logging"
)

func TestPoolBackendGrowsAndShrinks(t *testing.T) {
	var running int32
	pool := NewPoolBackend(func(ctx context.Context) error {
		atomic.AddInt32(&running, 1)
		defer atomic.AddInt32(&running, -1)
		<-ctx.Done()
		return nil
	}, logging.NewLogger(logging.ERROR, false))
	defer pool.Stop()

	ctx := context.Background()
	if err := pool.SetReplicas(ctx, 3); err != nil {
		t.Fatalf("SetReplicas failed: %v", err)
	}
	if n, _ := pool.Replicas(ctx); n != 3 {
		t.Errorf("Expected 3 replicas, got %d", n)
	}
	waitFor(t, func() bool { return atomic.LoadInt32(&running) == 3 })

	if err := pool.SetReplicas(ctx, 1); err != nil {
		t.Fatalf("Scale-down failed: %v", err)
	}
	if n, _ := pool.Replicas(ctx); n != 1 {
		t.Errorf("Expected 1 replica, got %d", n)
	}
	waitFor(t, func() bool { return atomic.LoadInt32(&running) == 1 })

	// Same count is a no-op.
	if err := pool.SetReplicas(ctx, 1); err != nil {
		t.Fatalf("No-op SetReplicas failed: %v", err)
	}

	if err := pool.SetReplicas(ctx, -1); err == nil {
		t.Error("Negative replica count should be rejected")
	}
}

func TestPoolBackendStopWaitsForWorkers(t *testing.T) {
	var running int32
	pool := NewPoolBackend(func(ctx context.Context) error {
		atomic.AddInt32(&running, 1)
		defer atomic.AddInt32(&running, -1)
		<-ctx.Done()
		return nil
	}, logging.NewLogger(logging.ERROR, false))

	pool.SetReplicas(context.Background(), 2)
	waitFor(t, func() bool { return atomic.LoadInt32(&running) == 2 })

	pool.Stop()
	if n := atomic.LoadInt32(&running); n != 0 {
		t.Errorf("Stop should wait for workers to exit, %d still running", n)
	}
	if n, _ := pool.Replicas(context.Background()); n != 0 {
		t.Errorf("Expected 0 replicas after Stop, got %d", n)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition never became true")
}
