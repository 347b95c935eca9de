package queue

import (
	"context"
	"sync"
	"time"

	"github.com/doctriage/doctriage/pkg/models"
)

// MemoryQueue is an in-process Queue for tests and single-binary deployments
type MemoryQueue struct {
	mu      sync.Mutex
	items   []models.Descriptor
	claimed map[string]time.Time
	signal  chan struct{}
	closed  bool
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		items:   make([]models.Descriptor, 0),
		claimed: make(map[string]time.Time),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue appends a descriptor at the tail
func (q *MemoryQueue) Enqueue(ctx context.Context, d models.Descriptor) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return models.ErrQueueUnavailable
	}
	q.items = append(q.items, d)
	q.mu.Unlock()

	q.notify()
	return nil
}

// Dequeue pops the head descriptor, blocking up to timeout
func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.Descriptor, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, models.ErrQueueUnavailable
		}
		if len(q.items) > 0 {
			d := q.items[0]
			q.items = q.items[1:]
			q.claimed[d.JobID] = time.Now()
			q.mu.Unlock()
			// A descriptor may still be pending behind this one.
			q.notify()
			return &d, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-q.signal:
		}
	}
}

// Requeue reinserts a claimed descriptor at the tail
func (q *MemoryQueue) Requeue(ctx context.Context, d models.Descriptor) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return models.ErrQueueUnavailable
	}
	delete(q.claimed, d.JobID)
	q.items = append(q.items, d)
	q.mu.Unlock()

	q.notify()
	return nil
}

// Ack releases the claim on a descriptor
func (q *MemoryQueue) Ack(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.claimed, jobID)
	return nil
}

// Depth returns the number of pending descriptors
func (q *MemoryQueue) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// Ping reports whether the queue accepts operations
func (q *MemoryQueue) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return models.ErrQueueUnavailable
	}
	return nil
}

// Close shuts the queue; subsequent operations fail with ErrQueueUnavailable
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func (q *MemoryQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
