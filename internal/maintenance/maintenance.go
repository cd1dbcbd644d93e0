// Package maintenance reports jobs that look stuck and lets an operator fail them.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonathan/tubetrust/internal/apperr"
	"github.com/jonathan/tubetrust/internal/store"
	"github.com/jonathan/tubetrust/internal/types"
)

// Default staleness thresholds.
const (
	DefaultRunningStaleAfter = 10 * time.Minute
	DefaultPendingStaleAfter = 5 * time.Minute
)

// Outcome is the result of force-failing one job.
type Outcome string

// Outcome values
const (
	OutcomeFailed   Outcome = "failed"
	OutcomeNotFound Outcome = "not_found"
	OutcomeSkipped  Outcome = "skipped"
)

// StaleJob is a job that has not moved for longer than its threshold.
type StaleJob struct {
	ID         string          `json:"id"`
	SourceURL  string          `json:"source_url"`
	Status     types.JobStatus `json:"status"`
	UpdatedAt  time.Time       `json:"updated_at"`
	AgeSeconds int64           `json:"age_seconds"`
}

// Report summarizes job health.
type Report struct {
	Counts       map[types.JobStatus]int `json:"counts"`
	StaleRunning []StaleJob              `json:"stale_running"`
	StalePending []StaleJob              `json:"stale_pending"`
	CheckedAt    time.Time               `json:"checked_at"`
}

// Healthy reports whether no job is stale.
func (r *Report) Healthy() bool {
	return len(r.StaleRunning) == 0 && len(r.StalePending) == 0
}

// Result is the per-job outcome of ForceFail.
type Result struct {
	JobID   string          `json:"job_id"`
	Outcome Outcome         `json:"outcome"`
	Status  types.JobStatus `json:"status,omitempty"`
}

// Options configures a Service.
type Options struct {
	RunningStaleAfter time.Duration
	PendingStaleAfter time.Duration
}

// Service runs maintenance queries against the store.
type Service struct {
	store  store.Store
	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Service.
func New(s store.Store, opts Options, logger *slog.Logger) *Service {
	if opts.RunningStaleAfter <= 0 {
		opts.RunningStaleAfter = DefaultRunningStaleAfter
	}
	if opts.PendingStaleAfter <= 0 {
		opts.PendingStaleAfter = DefaultPendingStaleAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, opts: opts, now: time.Now, logger: logger}
}

// SetClock replaces the clock used for staleness.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Report lists stale RUNNING and PENDING jobs along with counts by status.
func (s *Service) Report(ctx context.Context) (*Report, error) {
	now := s.now()

	counts, err := s.store.CountJobsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	running, err := s.stale(ctx, types.JobStatusRunning, now, s.opts.RunningStaleAfter)
	if err != nil {
		return nil, err
	}
	pending, err := s.stale(ctx, types.JobStatusPending, now, s.opts.PendingStaleAfter)
	if err != nil {
		return nil, err
	}

	return &Report{Counts: counts, StaleRunning: running, StalePending: pending, CheckedAt: now.UTC()}, nil
}

func (s *Service) stale(ctx context.Context, status types.JobStatus, now time.Time, after time.Duration) ([]StaleJob, error) {
	jobs, err := s.store.ListStaleJobs(ctx, status, now.Add(-after))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale %s jobs: %w", strings.ToLower(string(status)), err)
	}
	out := make([]StaleJob, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, StaleJob{
			ID:         job.ID,
			SourceURL:  job.SourceURL,
			Status:     job.Status,
			UpdatedAt:  job.UpdatedAt,
			AgeSeconds: int64(now.Sub(job.UpdatedAt).Seconds()),
		})
	}
	return out, nil
}

// ForceFail moves each listed PENDING or RUNNING job to FAILED with kind
// interrupted. Duplicate ids are reported once.
func (s *Service) ForceFail(ctx context.Context, ids []string, reason string) ([]Result, error) {
	message := "marked failed by operator"
	if reason = strings.TrimSpace(reason); reason != "" {
		message += ": " + reason
	}

	seen := make(map[string]bool, len(ids))
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		res, err := s.forceFail(ctx, id, message)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Service) forceFail(ctx context.Context, id, message string) (Result, error) {
	failure := &types.JobFailure{Kind: string(apperr.KindInterrupted), Message: message}

	// A job can move between the read and the transition. One re-read covers
	// the PENDING -> RUNNING race.
	for attempt := 0; attempt < 2; attempt++ {
		job, err := s.store.GetJob(ctx, id)
		if err != nil {
			return Result{}, fmt.Errorf("failed to get job %s: %w", id, err)
		}
		if job == nil {
			return Result{JobID: id, Outcome: OutcomeNotFound}, nil
		}
		if job.Status.IsTerminal() {
			return Result{JobID: id, Outcome: OutcomeSkipped, Status: job.Status}, nil
		}

		err = s.store.TransitionJob(ctx, id, job.Status, types.JobStatusFailed, failure)
		switch {
		case err == nil:
			s.logger.Warn("job force-failed", "job_id", id, "previous_status", job.Status)
			return Result{JobID: id, Outcome: OutcomeFailed, Status: types.JobStatusFailed}, nil
		case errors.Is(err, store.ErrTransitionConflict):
			continue
		case errors.Is(err, store.ErrNotFound):
			return Result{JobID: id, Outcome: OutcomeNotFound}, nil
		default:
			return Result{}, fmt.Errorf("failed to fail job %s: %w", id, err)
		}
	}

	job, err := s.store.GetJob(ctx, id)
	if err != nil || job == nil {
		return Result{JobID: id, Outcome: OutcomeSkipped}, nil
	}
	return Result{JobID: id, Outcome: OutcomeSkipped, Status: job.Status}, nil
}
