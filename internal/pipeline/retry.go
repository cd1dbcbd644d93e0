package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonathan/tubetrust/internal/apperr"
	"github.com/jonathan/tubetrust/internal/store"
	"github.com/jonathan/tubetrust/internal/types"
)

// BeginRetry checks that jobID can be re-analyzed and moves it to PENDING.
// It returns the job as it was before the reset; pass that to Retry.
func (o *Orchestrator) BeginRetry(ctx context.Context, jobID string) (*types.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil {
		return nil, store.ErrNotFound
	}
	if !job.Status.IsTerminal() {
		return nil, ErrJobBusy
	}

	video, err := o.store.GetVideo(ctx, job.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load video: %w", err)
	}
	if !video.HasTranscript() {
		return nil, ErrNoCachedTranscript
	}

	if err := o.store.TransitionJob(ctx, jobID, job.Status, types.JobStatusPending, nil); err != nil {
		if errors.Is(err, store.ErrTransitionConflict) {
			return nil, ErrJobBusy
		}
		return nil, fmt.Errorf("failed to reset job: %w", err)
	}
	return job, nil
}

// Retry re-runs language detection and analysis on the cached transcript of
// a job reset by BeginRetry. Transcript acquisition is never attempted. On
// failure the job goes back to prior's status and error and the stored
// analysis is left alone.
func (o *Orchestrator) Retry(ctx context.Context, jobID string, prior *types.Job) error {
	logger := o.logger.With("job_id", jobID, "retry", true)

	if err := o.store.TransitionJob(ctx, jobID, types.JobStatusPending, types.JobStatusRunning, nil); err != nil {
		if errors.Is(err, store.ErrTransitionConflict) || errors.Is(err, store.ErrInvalidTransition) {
			logger.Info("job already claimed, skipping duplicate retry")
			return nil
		}
		return fmt.Errorf("failed to start retry: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, o.budgets.Run)
	defer cancel()

	r := &run{jobID: jobID, started: time.Now(), logger: logger}
	err := o.retry(runCtx, r, prior.SourceURL)
	if err == nil {
		logger.Info("retry completed", "duration_ms", time.Since(r.started).Milliseconds())
		return nil
	}

	err = o.classify(ctx, runCtx, err)
	o.restore(ctx, r, prior, err)
	return err
}

func (o *Orchestrator) retry(ctx context.Context, r *run, sourceURL string) error {
	video, err := o.store.GetVideo(ctx, sourceURL)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailed, apperr.ReasonNone, err, "failed to load cached video")
	}
	if !video.HasTranscript() {
		return apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonNone, "cached transcript disappeared")
	}
	r.video = video

	a, err := o.analysisStage(ctx, r)
	if err != nil {
		return err
	}
	return o.persist(ctx, r, a)
}

// restore puts the job back the way it was before the retry.
func (o *Orchestrator) restore(parent context.Context, r *run, prior *types.Job, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), o.budgets.stage(StagePersist))
	defer cancel()

	var failure *types.JobFailure
	if prior.Status == types.JobStatusFailed {
		failure = &types.JobFailure{Kind: prior.ErrorKind, Message: prior.ErrorMessage}
	}
	if err := o.store.TransitionJob(ctx, r.jobID, types.JobStatusRunning, prior.Status, failure); err != nil {
		r.logger.Error("failed to restore job after retry", "error", err, "cause", cause)
	}
	r.logger.Warn("retry failed, previous state restored",
		"restored_status", prior.Status,
		"error_kind", apperr.KindOf(cause),
		"error", cause,
	)
}

// AbortRetry undoes BeginRetry when the retry could not be scheduled.
func (o *Orchestrator) AbortRetry(ctx context.Context, jobID string, prior *types.Job, cause error) {
	r := &run{jobID: jobID, started: time.Now(), logger: o.logger.With("job_id", jobID, "retry", true)}
	if err := o.store.TransitionJob(ctx, jobID, types.JobStatusPending, types.JobStatusRunning, nil); err != nil {
		r.logger.Error("failed to abort retry", "error", err, "cause", cause)
		return
	}
	o.restore(ctx, r, prior, cause)
}
