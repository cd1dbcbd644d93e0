package pipeline

import (
	"context"
	"log/slog"

	"github.com/jonathan/tubetrust/internal/queue"
	"github.com/jonathan/tubetrust/internal/types"
)

// Enqueuer accepts background tasks.
type Enqueuer interface {
	Enqueue(name string, task queue.Task) error
}

// Scheduler runs orchestrator work on a task runner.
type Scheduler struct {
	orch   *Orchestrator
	runner Enqueuer
	logger *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(orch *Orchestrator, runner Enqueuer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{orch: orch, runner: runner, logger: logger}
}

// Schedule queues a full run of jobID.
func (s *Scheduler) Schedule(jobID, sourceURL string) error {
	return s.runner.Enqueue("run "+jobID, func(ctx context.Context) {
		if err := s.orch.Run(ctx, jobID, sourceURL); err != nil {
			s.logger.Debug("scheduled run finished with error", "job_id", jobID, "error", err)
		}
	})
}

// ScheduleRetry queues a retry of jobID. prior is the job as returned by
// Orchestrator.BeginRetry. If the task cannot be queued the job is put back
// into its prior state.
func (s *Scheduler) ScheduleRetry(ctx context.Context, jobID string, prior *types.Job) error {
	err := s.runner.Enqueue("retry "+jobID, func(ctx context.Context) {
		if err := s.orch.Retry(ctx, jobID, prior); err != nil {
			s.logger.Debug("scheduled retry finished with error", "job_id", jobID, "error", err)
		}
	})
	if err != nil {
		s.orch.AbortRetry(context.WithoutCancel(ctx), jobID, prior, err)
	}
	return err
}

// RequestRetry checks that jobID can be retried and queues the retry. It
// returns store.ErrNotFound, ErrJobBusy, ErrNoCachedTranscript or the
// runner's enqueue error.
func (s *Scheduler) RequestRetry(ctx context.Context, jobID string) (*types.Job, error) {
	prior, err := s.orch.BeginRetry(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.ScheduleRetry(ctx, jobID, prior); err != nil {
		return nil, err
	}
	return prior, nil
}
