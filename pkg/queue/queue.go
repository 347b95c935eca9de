package queue

import (
	"context"
	"time"

	"github.com/doctriage/doctriage/pkg/models"
)

// Queue is the durable FIFO channel of pending job descriptors.
//
// Delivery semantics are at-least-once: a descriptor is claimed the
// instant Dequeue returns it, and ownership lasts until Ack or Requeue.
// The backend's claim operation is atomic, so a descriptor is never
// delivered to two workers concurrently; redelivery happens only through
// Requeue (driven by the stuck-job sweep or a retrying worker).
type Queue interface {
	// Enqueue appends a descriptor at the tail. Never blocks beyond a
	// bounded append; fails fast with models.ErrQueueUnavailable when the
	// backend is unreachable.
	Enqueue(ctx context.Context, d models.Descriptor) error

	// Dequeue blocks up to timeout waiting for a descriptor and returns
	// (nil, nil) on timeout so workers can poll for shutdown.
	Dequeue(ctx context.Context, timeout time.Duration) (*models.Descriptor, error)

	// Requeue reinserts a claimed descriptor at the tail and releases the
	// claim. Tail insertion keeps a repeatedly-failing job from starving
	// the jobs behind it.
	Requeue(ctx context.Context, d models.Descriptor) error

	// Ack releases the claim on a descriptor after its job reached a
	// terminal status.
	Ack(ctx context.Context, jobID string) error

	// Depth returns the number of pending (unclaimed) descriptors
	Depth(ctx context.Context) (int, error)

	// Ping checks backend reachability
	Ping(ctx context.Context) error

	Close() error
}
