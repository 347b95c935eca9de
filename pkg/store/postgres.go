package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doctriage/doctriage/pkg/models"
)

// PostgresStore implements Store on PostgreSQL via pgxpool.
// Transition guards run inside conditional UPDATEs so they stay atomic
// across processes.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    filename TEXT NOT NULL,
    payload_ref TEXT NOT NULL,
    status TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL DEFAULT 3,
    worker_id TEXT NOT NULL DEFAULT '',
    enqueued_at TIMESTAMPTZ NOT NULL,
    claimed_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    result JSONB,
    error JSONB
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
CREATE INDEX IF NOT EXISTS idx_jobs_claimed_at ON jobs (claimed_at) WHERE status = 'processing';
`

// NewPostgresStore connects to PostgreSQL and ensures the schema exists
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

const jobColumns = `id, filename, payload_ref, status, attempts, max_attempts, worker_id,
    enqueued_at, claimed_at, completed_at, result, error`

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		job                  models.Job
		status               string
		resultRaw, errorRaw  []byte
	)
	err := row.Scan(&job.ID, &job.Filename, &job.PayloadRef, &status, &job.Attempts,
		&job.MaxAttempts, &job.WorkerID, &job.EnqueuedAt, &job.ClaimedAt,
		&job.CompletedAt, &resultRaw, &errorRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	job.Status = models.JobStatus(status)
	if len(resultRaw) > 0 {
		if err := json.Unmarshal(resultRaw, &job.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result for job %s: %w", job.ID, err)
		}
	}
	if len(errorRaw) > 0 {
		if err := json.Unmarshal(errorRaw, &job.Error); err != nil {
			return nil, fmt.Errorf("failed to decode error for job %s: %w", job.ID, err)
		}
	}
	return &job, nil
}

// Put creates the job entry
func (s *PostgresStore) Put(ctx context.Context, job *models.Job) error {
	query := `INSERT INTO jobs (id, filename, payload_ref, status, attempts, max_attempts, worker_id, enqueued_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, query, job.ID, job.Filename, job.PayloadRef,
		string(job.Status), job.Attempts, job.MaxAttempts, job.WorkerID, job.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

// Get retrieves a job by ID
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	return scanJob(s.pool.QueryRow(ctx, query, id))
}

// List returns jobs in the given status, newest first
func (s *PostgresStore) List(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	if status == "" {
		return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY enqueued_at DESC`)
	}
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY enqueued_at DESC`, string(status))
}

// MarkProcessing atomically claims a queued job for a worker
func (s *PostgresStore) MarkProcessing(ctx context.Context, id, workerID string) error {
	query := `UPDATE jobs
	          SET status = 'processing', attempts = attempts + 1, worker_id = $2, claimed_at = NOW()
	          WHERE id = $1 AND status = 'queued'`
	tag, err := s.pool.Exec(ctx, query, id, workerID)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, id, models.JobStatusProcessing)
	}
	return nil
}

// UpdateStatus moves a job to a terminal status. Both live states may
// fail: processing through the worker path, queued when admission rolls
// back a job it could not enqueue.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status models.JobStatus, result *models.ClassificationResult, jobErr *models.JobError) error {
	resultRaw, err := marshalNullable(result)
	if err != nil {
		return err
	}
	errorRaw, err := marshalNullable(jobErr)
	if err != nil {
		return err
	}

	query := `UPDATE jobs
	          SET status = $2, result = $3, error = $4, completed_at = NOW()
	          WHERE id = $1 AND status IN ('queued', 'processing')`
	if !models.IsTerminal(status) {
		return fmt.Errorf("invalid terminal status %s for job %s", status, id)
	}
	tag, err := s.pool.Exec(ctx, query, id, string(status), resultRaw, errorRaw)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, id, status)
	}
	return nil
}

// Requeue moves a processing job back to queued
func (s *PostgresStore) Requeue(ctx context.Context, id string) error {
	query := `UPDATE jobs
	          SET status = 'queued', worker_id = '', claimed_at = NULL
	          WHERE id = $1 AND status = 'processing'`
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, id, models.JobStatusQueued)
	}
	return nil
}

// transitionConflict distinguishes a missing job from an invalid transition
// after a conditional update matched no rows
func (s *PostgresStore) transitionConflict(ctx context.Context, id string, to models.JobStatus) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("invalid transition from %s to %s", job.Status, to)
}

func (s *PostgresStore) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ProcessingOlderThan returns processing jobs claimed before cutoff
func (s *PostgresStore) ProcessingOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = 'processing' AND claimed_at < $1`
	return s.queryJobs(ctx, query, cutoff)
}

// TerminalOlderThan returns terminal jobs completed before cutoff
func (s *PostgresStore) TerminalOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
	          WHERE status IN ('completed', 'failed') AND completed_at < $1`
	return s.queryJobs(ctx, query, cutoff)
}

// Delete removes a terminal job entry
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM jobs WHERE id = $1 AND status IN ('completed', 'failed')`
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrJobNotFound
	}
	return nil
}

// Counts returns the number of jobs per status
func (s *PostgresStore) Counts(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// Ping checks database reachability
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func marshalNullable(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case *models.ClassificationResult:
		if val == nil {
			return nil, nil
		}
	case *models.JobError:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode field: %w", err)
	}
	return data, nil
}
