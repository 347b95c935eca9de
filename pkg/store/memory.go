package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/doctriage/doctriage/pkg/models"
)

// MemoryStore is an in-memory implementation of the job store
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.Job)}
}

// Put creates the job entry
func (s *MemoryStore) Put(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	c := *job
	s.jobs[job.ID] = &c
	return nil
}

// Get retrieves a job by ID
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, models.ErrJobNotFound
	}
	c := *job
	return &c, nil
}

// MarkProcessing records a worker's claim on a queued job
func (s *MemoryStore) MarkProcessing(ctx context.Context, id, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	if err := models.ValidateTransition(job.Status, models.JobStatusProcessing); err != nil {
		return err
	}

	now := time.Now()
	job.Status = models.JobStatusProcessing
	job.Attempts++
	job.WorkerID = workerID
	job.ClaimedAt = &now
	return nil
}

// UpdateStatus moves the job to a terminal status
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status models.JobStatus, result *models.ClassificationResult, jobErr *models.JobError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.ErrJobNotFound
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
	return nil
}

// Requeue moves a processing job back to queued
func (s *MemoryStore) Requeue(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	if err := models.ValidateTransition(job.Status, models.JobStatusQueued); err != nil {
		return err
	}

	job.Status = models.JobStatusQueued
	job.WorkerID = ""
	job.ClaimedAt = nil
	return nil
}

// List returns jobs in the given status, newest first
func (s *MemoryStore) List(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*models.Job
	for _, job := range s.jobs {
		if status == "" || job.Status == status {
			c := *job
			jobs = append(jobs, &c)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].EnqueuedAt.After(jobs[j].EnqueuedAt)
	})
	return jobs, nil
}

// ProcessingOlderThan returns processing jobs claimed before cutoff
func (s *MemoryStore) ProcessingOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stuck []*models.Job
	for _, job := range s.jobs {
		if job.Status == models.JobStatusProcessing && job.ClaimedAt != nil && job.ClaimedAt.Before(cutoff) {
			c := *job
			stuck = append(stuck, &c)
		}
	}
	return stuck, nil
}

// TerminalOlderThan returns terminal jobs completed before cutoff
func (s *MemoryStore) TerminalOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var old []*models.Job
	for _, job := range s.jobs {
		if models.IsTerminal(job.Status) && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			c := *job
			old = append(old, &c)
		}
	}
	return old, nil
}

// Delete removes a terminal job entry
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	if !models.IsTerminal(job.Status) {
		return fmt.Errorf("cannot delete job %s in status %s", id, job.Status)
	}
	delete(s.jobs, id)
	return nil
}

// Counts returns the number of jobs per status
func (s *MemoryStore) Counts(ctx context.Context) (map[models.JobStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// Ping always succeeds for the in-memory store
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}
