package models

import (
	"time"
)

// JobStatus represents the status of a classification job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"     // Job admitted, waiting in queue
	JobStatusProcessing JobStatus = "processing" // Job claimed by a worker
	JobStatusCompleted  JobStatus = "completed"  // Job finished successfully
	JobStatusFailed     JobStatus = "failed"     // Job failed permanently
)

// Job represents one uploaded document's classification work unit,
// tracked end-to-end by its identifier
type Job struct {
	ID          string                `json:"id"`
	Filename    string                `json:"filename"`
	PayloadRef  string                `json:"payload_ref"`
	Status      JobStatus             `json:"status"`
	Attempts    int                   `json:"attempts"`
	MaxAttempts int                   `json:"max_attempts"`
	WorkerID    string                `json:"worker_id,omitempty"`
	EnqueuedAt  time.Time             `json:"enqueued_at"`
	ClaimedAt   *time.Time            `json:"claimed_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Result      *ClassificationResult `json:"result,omitempty"`
	Error       *JobError             `json:"error,omitempty"`
}

// ClassificationResult is the payload processor's output for a completed job
type ClassificationResult struct {
	Label       string            `json:"label"`
	Confidence  float64           `json:"confidence"`
	Diagnostics map[string]string `json:"diagnostics,omitempty"`
	Duration    time.Duration     `json:"duration_ns"`
}

// Descriptor is the ephemeral queue entry for a job. It carries just
// enough for a worker to claim and process; the store is authoritative.
type Descriptor struct {
	JobID      string `json:"job_id"`
	PayloadRef string `json:"payload_ref"`
	Attempts   int    `json:"attempts"`
}

// WorkerInfo is the ephemeral controller-visible registration of a worker.
// Liveness only; never authoritative for job state.
type WorkerInfo struct {
	ID            string    `json:"id"`
	CurrentJobID  string    `json:"current_job_id,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	CPUPercent    float64   `json:"cpu_percent,omitempty"`
	MemPercent    float64   `json:"mem_percent,omitempty"`
}

// Snapshot is one controller tick's view of pipeline load
type Snapshot struct {
	QueueDepth    int           `json:"queue_depth"`
	ActiveWorkers int           `json:"active_workers"`
	AvgProcessing time.Duration `json:"avg_processing_ns"`
	Timestamp     time.Time     `json:"timestamp"`
}

// JobView is the client-facing projection of a job returned by status queries
type JobView struct {
	ID          string                `json:"id"`
	Filename    string                `json:"filename"`
	Status      JobStatus             `json:"status"`
	Attempts    int                   `json:"attempts"`
	EnqueuedAt  time.Time             `json:"enqueued_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Result      *ClassificationResult `json:"result,omitempty"`
	Error       *JobError             `json:"error,omitempty"`
}

// View returns the client-facing projection of the job
func (j *Job) View() JobView {
	return JobView{
		ID:          j.ID,
		Filename:    j.Filename,
		Status:      j.Status,
		Attempts:    j.Attempts,
		EnqueuedAt:  j.EnqueuedAt,
		CompletedAt: j.CompletedAt,
		Result:      j.Result,
		Error:       j.Error,
	}
}

// Descriptor builds the queue entry for this job
func (j *Job) Descriptor() Descriptor {
	return Descriptor{
		JobID:      j.ID,
		PayloadRef: j.PayloadRef,
		Attempts:   j.Attempts,
	}
}
