package api

import (
	"context"
	"time"

	"github.com/doctriage/doctriage/pkg/models"
	"github.com/doctriage/doctriage/pkg/store"
)

// NotifyingStore decorates a Store with websocket pushes on status
// transitions. The server wires its store through this wrapper so
// admission, in-process pool workers and the sweep all publish; a
// standalone worker agent writes to the raw store and its transitions
// surface to clients through polling instead.
type NotifyingStore struct {
	store.Store
	hub *Hub
}

// NewNotifyingStore wraps a store with transition broadcasts
func NewNotifyingStore(inner store.Store, hub *Hub) *NotifyingStore {
	return &NotifyingStore{Store: inner, hub: hub}
}

// Put creates the job entry and announces the queued job
func (n *NotifyingStore) Put(ctx context.Context, job *models.Job) error {
	if err := n.Store.Put(ctx, job); err != nil {
		return err
	}
	n.hub.Broadcast(job.View())
	return nil
}

// MarkProcessing records the claim and announces the transition
func (n *NotifyingStore) MarkProcessing(ctx context.Context, id, workerID string) error {
	if err := n.Store.MarkProcessing(ctx, id, workerID); err != nil {
		return err
	}
	n.broadcast(ctx, id)
	return nil
}

// UpdateStatus applies the terminal transition and announces it
func (n *NotifyingStore) UpdateStatus(ctx context.Context, id string, status models.JobStatus, result *models.ClassificationResult, jobErr *models.JobError) error {
	if err := n.Store.UpdateStatus(ctx, id, status, result, jobErr); err != nil {
		return err
	}
	n.broadcast(ctx, id)
	return nil
}

// Requeue moves the job back to queued and announces it
func (n *NotifyingStore) Requeue(ctx context.Context, id string) error {
	if err := n.Store.Requeue(ctx, id); err != nil {
		return err
	}
	n.broadcast(ctx, id)
	return nil
}

func (n *NotifyingStore) broadcast(ctx context.Context, id string) {
	bctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	job, err := n.Store.Get(bctx, id)
	if err != nil {
		return // push is best-effort, the store write already landed
	}
	n.hub.Broadcast(job.View())
}
