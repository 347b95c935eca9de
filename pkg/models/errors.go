package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a job failure for clients
type ErrorKind string

const (
	ErrKindValidation          ErrorKind = "validation"
	ErrKindClassification      ErrorKind = "classification"
	ErrKindMaxAttemptsExceeded ErrorKind = "max_attempts_exceeded"
	ErrKindStore               ErrorKind = "store"
	ErrKindQueue               ErrorKind = "queue"
)

// JobError is the structured failure reason recorded on a failed job.
// The terminal job state is the error channel back to the client, so
// processor failures are stored here rather than propagated up the stack.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewJobError creates a structured job error
func NewJobError(kind ErrorKind, format string, args ...interface{}) *JobError {
	return &JobError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Infrastructure-level sentinels. These are surfaced to callers at the
// boundary where they occur, not recorded as job state.
var (
	ErrJobNotFound      = errors.New("job not found")
	ErrValidation       = errors.New("validation failed")
	ErrQueueUnavailable = errors.New("queue unavailable")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrOverloaded       = errors.New("queue depth above admission ceiling")
)

// ClassificationError is a processor-reported failure. It is recoverable
// from the worker loop's point of view: recorded as job failure, never
// allowed to crash the loop.
type ClassificationError struct {
	Ref     string
	Message string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification of %s failed: %s", e.Ref, e.Message)
}

// ScalingBackendError wraps a failure from the worker-population backend.
// Controller-local: logged, retried next tick, never fatal.
type ScalingBackendError struct {
	Op  string
	Err error
}

func (e *ScalingBackendError) Error() string {
	return fmt.Sprintf("scaling backend %s: %v", e.Op, e.Err)
}

func (e *ScalingBackendError) Unwrap() error {
	return e.Err
}
