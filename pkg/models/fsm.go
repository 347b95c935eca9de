package models

import (
	"fmt"
)

// validTransitions maps from-status to allowed to-statuses.
// Transitions are monotonic: terminal states allow nothing, and the only
// path back to queued is the stuck-job sweep reclaiming a processing job.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusQueued: {
		JobStatusProcessing: true, // worker claimed the job
		JobStatusFailed:     true, // admission rollback or attempts exhausted pre-claim
	},
	JobStatusProcessing: {
		JobStatusCompleted: true, // processor succeeded
		JobStatusFailed:    true, // processor failed or attempts exhausted
		JobStatusQueued:    true, // sweep reclaimed a stuck job
	},
	// Terminal states
	JobStatusCompleted: {},
	JobStatusFailed:    {},
}

// ValidateTransition checks whether a status transition is allowed
func ValidateTransition(from, to JobStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source status: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal returns true if no further transitions are allowed from the status
func IsTerminal(status JobStatus) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}
