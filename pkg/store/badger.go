package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/doctriage/doctriage/pkg/models"
)

const badgerJobPrefix = "job:"

// BadgerStore is an embedded durable job store backed by BadgerDB.
// Suited to single-process deployments that need job state to survive
// restarts without an external database.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a BadgerDB store at path
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Badger's logger interface does not match ours

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerJobKey(id string) []byte {
	return []byte(badgerJobPrefix + id)
}

func (s *BadgerStore) getJob(txn *badger.Txn, id string) (*models.Job, error) {
	item, err := txn.Get(badgerJobKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, models.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	var job models.Job
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &job)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

func (s *BadgerStore) setJob(txn *badger.Txn, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}
	return txn.Set(badgerJobKey(job.ID), data)
}

// Put creates the job entry
func (s *BadgerStore) Put(ctx context.Context, job *models.Job) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(badgerJobKey(job.ID)); err == nil {
			return fmt.Errorf("job %s already exists", job.ID)
		}
		return s.setJob(txn, job)
	})
}

// Get retrieves a job by ID
func (s *BadgerStore) Get(ctx context.Context, id string) (*models.Job, error) {
	var job *models.Job
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		job, err = s.getJob(txn, id)
		return err
	})
	return job, err
}

// MarkProcessing records a worker's claim on a queued job
func (s *BadgerStore) MarkProcessing(ctx context.Context, id, workerID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		job, err := s.getJob(txn, id)
		if err != nil {
			return err
		}
		if err := models.ValidateTransition(job.Status, models.JobStatusProcessing); err != nil {
			return err
		}
		now := time.Now()
		job.Status = models.JobStatusProcessing
		job.Attempts++
		job.WorkerID = workerID
		job.ClaimedAt = &now
		return s.setJob(txn, job)
	})
}

// UpdateStatus moves the job to a terminal status
func (s *BadgerStore) UpdateStatus(ctx context.Context, id string, status models.JobStatus, result *models.ClassificationResult, jobErr *models.JobError) error {
	return s.db.Update(func(txn *badger.Txn) error {
		job, err := s.getJob(txn, id)
		if err != nil {
			return err
		}
		if err := models.ValidateTransition(job.Status, status); err != nil {
			return err
		}
		job.Status = status
		job.Result = result
		job.Error = jobErr
		if models.IsTerminal(status) {
			now := time.Now()
			job.CompletedAt = &now
		}
		return s.setJob(txn, job)
	})
}

// Requeue moves a processing job back to queued
func (s *BadgerStore) Requeue(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		job, err := s.getJob(txn, id)
		if err != nil {
			return err
		}
		if err := models.ValidateTransition(job.Status, models.JobStatusQueued); err != nil {
			return err
		}
		job.Status = models.JobStatusQueued
		job.WorkerID = ""
		job.ClaimedAt = nil
		return s.setJob(txn, job)
	})
}

func (s *BadgerStore) scan(filter func(*models.Job) bool) ([]*models.Job, error) {
	var jobs []*models.Job
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerJobPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var job models.Job
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return err
			}
			if filter(&job) {
				c := job
				jobs = append(jobs, &c)
			}
		}
		return nil
	})
	return jobs, err
}

// List returns jobs in the given status, newest first
func (s *BadgerStore) List(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	jobs, err := s.scan(func(j *models.Job) bool {
		return status == "" || j.Status == status
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].EnqueuedAt.After(jobs[j].EnqueuedAt)
	})
	return jobs, nil
}

// ProcessingOlderThan returns processing jobs claimed before cutoff
func (s *BadgerStore) ProcessingOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	return s.scan(func(j *models.Job) bool {
		return j.Status == models.JobStatusProcessing && j.ClaimedAt != nil && j.ClaimedAt.Before(cutoff)
	})
}

// TerminalOlderThan returns terminal jobs completed before cutoff
func (s *BadgerStore) TerminalOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	return s.scan(func(j *models.Job) bool {
		return models.IsTerminal(j.Status) && j.CompletedAt != nil && j.CompletedAt.Before(cutoff)
	})
}

// Delete removes a terminal job entry
func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		job, err := s.getJob(txn, id)
		if err != nil {
			return err
		}
		if !models.IsTerminal(job.Status) {
			return fmt.Errorf("cannot delete job %s in status %s", id, job.Status)
		}
		return txn.Delete(badgerJobKey(id))
	})
}

// Counts returns the number of jobs per status
func (s *BadgerStore) Counts(ctx context.Context) (map[models.JobStatus]int, error) {
	counts := make(map[models.JobStatus]int)
	_, err := s.scan(func(j *models.Job) bool {
		counts[j.Status]++
		return false
	})
	return counts, err
}

// Ping checks the database is open
func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return models.ErrStoreUnavailable
	}
	return nil
}

// Close closes the database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
