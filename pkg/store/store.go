package store

import (
	"context"
	"fmt"
	"time"

	"github.com/doctriage/doctriage/pkg/models"
)

// Store is durable key/value state for job status and results, keyed by
// job identifier.
//
// Callers are expected to respect the monotonic-transition invariant;
// UpdateStatus and the claim/requeue helpers enforce it. Reads are
// strongly consistent with the most recent write from the same process
// for every backend; cross-process consistency is immediate for postgres
// and not applicable for memory/badger (single-process backends).
type Store interface {
	// Put creates the job entry. Admission calls this before enqueueing
	// the descriptor so a status lookup never races the store write.
	Put(ctx context.Context, job *models.Job) error

	// Get returns the job or models.ErrJobNotFound
	Get(ctx context.Context, id string) (*models.Job, error)

	// List returns jobs in the given status, newest first; empty status
	// means all jobs
	List(ctx context.Context, status models.JobStatus) ([]*models.Job, error)

	// MarkProcessing records a worker's claim: status=processing,
	// attempts+1, claim time, owner. Rejects non-queued jobs.
	MarkProcessing(ctx context.Context, id, workerID string) error

	// UpdateStatus moves the job to a terminal status with its result or
	// error. Rejects invalid transitions.
	UpdateStatus(ctx context.Context, id string, status models.JobStatus, result *models.ClassificationResult, jobErr *models.JobError) error

	// Requeue moves a processing job back to queued (stuck-job sweep or
	// attempts-remaining retry), clearing ownership.
	Requeue(ctx context.Context, id string) error

	// ProcessingOlderThan returns processing jobs claimed before cutoff
	ProcessingOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Job, error)

	// TerminalOlderThan returns completed/failed jobs that reached their
	// terminal status before cutoff (retention GC input)
	TerminalOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Job, error)

	// Delete removes a job entry. Only terminal jobs may be deleted.
	Delete(ctx context.Context, id string) error

	// Counts returns the number of jobs per status
	Counts(ctx context.Context) (map[models.JobStatus]int, error)

	// Ping checks backend reachability
	Ping(ctx context.Context) error

	Close() error
}

// Config holds store configuration
type Config struct {
	Type string // "memory", "badger" or "postgres"
	DSN  string // postgres connection string
	Path string // badger data directory
}

// NewStore creates a store based on configuration
func NewStore(ctx context.Context, config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, config.DSN)
	case "badger":
		path := config.Path
		if path == "" {
			path = "./data/jobs"
		}
		return NewBadgerStore(path)
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}
