// Package store defines persistence for jobs, the video cache and analyses,
// with in-memory and SQLite implementations. The PostgreSQL implementation
// lives in package db.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jonathan/tubetrust/internal/types"
)

// Sentinel errors returned by every Store implementation.
var (
	// ErrNotFound means the job does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTransitionConflict means the job was not in the expected status.
	ErrTransitionConflict = errors.New("job status changed concurrently")
	// ErrInvalidTransition means the requested status change is never allowed.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Store is the single source of truth for job state and results.
//
// Get* methods return (nil, nil) when the record does not exist.
type Store interface {
	Ping(ctx context.Context) error

	GetJob(ctx context.Context, id string) (*types.Job, error)
	// PutPendingJob creates the job, or resets an existing one to PENDING
	// with its error cleared. The caller decides whether a reset is allowed.
	PutPendingJob(ctx context.Context, id, sourceURL string) (*types.Job, error)
	// TransitionJob moves a job from one status to another only if it is
	// currently in from. failure is recorded when to is FAILED and cleared
	// for any other target.
	TransitionJob(ctx context.Context, id string, from, to types.JobStatus, failure *types.JobFailure) error
	// ListStaleJobs returns jobs in status whose last update is before cutoff.
	ListStaleJobs(ctx context.Context, status types.JobStatus, cutoff time.Time) ([]types.Job, error)
	CountJobsByStatus(ctx context.Context) (map[types.JobStatus]int, error)

	GetVideo(ctx context.Context, sourceURL string) (*types.Video, error)
	// UpsertVideo merges v into the cached row for v.SourceURL. Empty fields
	// never overwrite stored ones.
	UpsertVideo(ctx context.Context, v *types.Video) error

	GetAnalysis(ctx context.Context, jobID string) (*types.Analysis, error)
	// CompleteJob atomically upserts the video, creates or replaces the
	// analysis (claims and spot checks are deleted and recreated) and moves
	// the job RUNNING -> COMPLETED.
	CompleteJob(ctx context.Context, jobID string, v *types.Video, a *types.Analysis) error

	Close() error
}

// CheckTransition validates a requested status change against the job's
// current status.
func CheckTransition(current, from, to types.JobStatus) error {
	if !types.CanTransition(from, to) {
		return ErrInvalidTransition
	}
	if current != from {
		return ErrTransitionConflict
	}
	return nil
}

// FailureFields returns the error columns to store for a transition.
func FailureFields(to types.JobStatus, failure *types.JobFailure) (kind, message string) {
	if to != types.JobStatusFailed || failure == nil {
		return "", ""
	}
	return failure.Kind, failure.Message
}
