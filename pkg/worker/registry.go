package worker

import (
	"context"
	"sync"
	"time"

	"github.com/doctriage/doctriage/pkg/models"
)

// Registry is the ephemeral worker-liveness surface read by the
// autoscaler and the health endpoint. It also aggregates recent per-job
// processing durations so the controller can estimate throughput. Never
// authoritative for job state; the store is.
type Registry interface {
	Register(ctx context.Context, info models.WorkerInfo) error
	Heartbeat(ctx context.Context, info models.WorkerInfo) error
	Deregister(ctx context.Context, id string) error

	// Active returns workers whose last heartbeat is within the staleness bound
	Active(ctx context.Context, staleAfter time.Duration) ([]models.WorkerInfo, error)

	// RecordProcessing feeds one job's processing duration into the
	// rolling throughput window
	RecordProcessing(ctx context.Context, d time.Duration) error

	// AvgProcessing returns the mean processing duration over the window,
	// zero when no samples exist
	AvgProcessing(ctx context.Context, window time.Duration) (time.Duration, error)
}

type durationSample struct {
	at  time.Time
	dur time.Duration
}

// MemoryRegistry is an in-process Registry
type MemoryRegistry struct {
	mu      sync.RWMutex
	workers map[string]models.WorkerInfo
	samples []durationSample
}

// NewMemoryRegistry creates a new in-memory registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{workers: make(map[string]models.WorkerInfo)}
}

// Register records a worker
func (r *MemoryRegistry) Register(ctx context.Context, info models.WorkerInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	info.LastHeartbeat = time.Now()
	r.workers[info.ID] = info
	return nil
}

// Heartbeat refreshes a worker's liveness
func (r *MemoryRegistry) Heartbeat(ctx context.Context, info models.WorkerInfo) error {
	return r.Register(ctx, info)
}

// Deregister removes a worker
func (r *MemoryRegistry) Deregister(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, id)
	return nil
}

// Active returns workers with a fresh heartbeat
func (r *MemoryRegistry) Active(ctx context.Context, staleAfter time.Duration) ([]models.WorkerInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Now().Add(-staleAfter)
	active := make([]models.WorkerInfo, 0, len(r.workers))
	for _, w := range r.workers {
		if w.LastHeartbeat.After(cutoff) {
			active = append(active, w)
		}
	}
	return active, nil
}

// RecordProcessing appends a duration sample
func (r *MemoryRegistry) RecordProcessing(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples = append(r.samples, durationSample{at: time.Now(), dur: d})
	if len(r.samples) > 1024 {
		r.samples = r.samples[len(r.samples)-1024:]
	}
	return nil
}

// AvgProcessing averages samples inside the window
func (r *MemoryRegistry) AvgProcessing(ctx context.Context, window time.Duration) (time.Duration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	var total time.Duration
	n := 0
	for _, s := range r.samples {
		if s.at.After(cutoff) {
			total += s.dur
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return total / time.Duration(n), nil
}
