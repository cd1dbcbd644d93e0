// Package submission accepts analysis requests and decides whether a new
// pipeline run is needed.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/jonathan/tubetrust/internal/apperr"
	"github.com/jonathan/tubetrust/internal/store"
	"github.com/jonathan/tubetrust/internal/types"
	"github.com/jonathan/tubetrust/internal/youtube"
)

var (
	// ErrQueueFull means the job could not be scheduled.
	ErrQueueFull = errors.New("too many jobs in progress, try again later")
	// ErrMissingCredential means no LLM API key is configured.
	ErrMissingCredential = errors.New("analysis provider credential is not configured")
)

// Scheduler queues a pipeline run.
type Scheduler interface {
	Schedule(jobID, sourceURL string) error
}

// Submission is the outcome of Submit.
type Submission struct {
	JobID  string          `json:"job_id"`
	Status types.JobStatus `json:"status"`
	// Reused is true when an existing job answered the request.
	Reused bool `json:"reused"`
}

// Gateway deduplicates submissions and schedules new runs.
type Gateway struct {
	store         store.Store
	scheduler     Scheduler
	hasCredential bool
	group         singleflight.Group
	logger        *slog.Logger
}

// New creates a Gateway. hasCredential reports whether the analysis
// provider has an API key; without one nothing is accepted.
func New(s store.Store, scheduler Scheduler, hasCredential bool, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{store: s, scheduler: scheduler, hasCredential: hasCredential, logger: logger}
}

// Submit validates rawURL and returns the job that answers it, scheduling a
// run when no usable job exists.
func (g *Gateway) Submit(ctx context.Context, rawURL string) (*Submission, error) {
	if !g.hasCredential {
		return nil, ErrMissingCredential
	}

	ref, err := youtube.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	jobID := ref.VideoID
	if jobID == "" {
		return g.submit(ctx, uuid.NewString(), ref.URL)
	}

	// The flight outlives whichever caller started it; each caller stops
	// waiting on its own context.
	flight := g.group.DoChan(jobID, func() (any, error) {
		return g.submit(context.WithoutCancel(ctx), jobID, ref.URL)
	})
	select {
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		// Callers sharing a flight must not share the pointer.
		sub := *res.Val.(*Submission)
		return &sub, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *Gateway) submit(ctx context.Context, jobID, sourceURL string) (*Submission, error) {
	logger := g.logger.With("job_id", jobID)

	job, err := g.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up job: %w", err)
	}
	if reused, err := g.reusable(ctx, job); err != nil {
		return nil, err
	} else if reused {
		logger.Debug("submission reused existing job", "status", job.Status)
		return &Submission{JobID: jobID, Status: job.Status, Reused: true}, nil
	}

	job, err = g.store.PutPendingJob(ctx, jobID, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := g.scheduler.Schedule(jobID, sourceURL); err != nil {
		logger.Warn("failed to schedule job", "error", err)
		failure := &types.JobFailure{Kind: string(apperr.KindUnknown), Message: "could not be scheduled: " + err.Error()}
		if terr := g.store.TransitionJob(context.WithoutCancel(ctx), jobID, types.JobStatusPending, types.JobStatusFailed, failure); terr != nil {
			logger.Error("failed to mark unscheduled job", "error", terr)
		}
		return nil, fmt.Errorf("%w: %v", ErrQueueFull, err)
	}

	logger.Info("job submitted", "url", sourceURL)
	return &Submission{JobID: jobID, Status: job.Status}, nil
}

// reusable reports whether job already answers the submission: it is in
// flight, or it completed and its analysis exists.
func (g *Gateway) reusable(ctx context.Context, job *types.Job) (bool, error) {
	if job == nil {
		return false, nil
	}
	switch job.Status {
	case types.JobStatusPending, types.JobStatusRunning:
		return true, nil
	case types.JobStatusCompleted:
		a, err := g.store.GetAnalysis(ctx, job.ID)
		if err != nil {
			return false, fmt.Errorf("failed to look up analysis: %w", err)
		}
		return a != nil, nil
	}
	return false, nil
}
