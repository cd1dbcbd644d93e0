// Package types provides type definitions for structured data used throughout the tubetrust system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import "time"

// JobStatus is the lifecycle state of a Job.
type JobStatus string

// JobStatus values
const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// AllJobStatuses lists every status in lifecycle order.
var AllJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusRunning,
	JobStatusCompleted,
	JobStatusFailed,
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no run is in progress for the job.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// transitions is the complete set of allowed status changes. The two edges
// back into PENDING are resets: resubmitting a failed job and explicitly
// retrying a completed one. PENDING -> FAILED covers jobs that never got
// scheduled and operator force-fails.
var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:   {JobStatusRunning, JobStatusFailed},
	JobStatusRunning:   {JobStatusCompleted, JobStatusFailed},
	JobStatusCompleted: {JobStatusPending},
	JobStatusFailed:    {JobStatusPending},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job is one analysis request for a source URL.
type Job struct {
	ID           string    `json:"id"`
	SourceURL    string    `json:"source_url"`
	Status       JobStatus `json:"status"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// JobFailure describes why a job moved to FAILED.
type JobFailure struct {
	Kind    string
	Message string
}
