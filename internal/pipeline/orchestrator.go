// Package pipeline runs a job through metadata, transcript acquisition,
// analysis and persistence, each under its own time budget.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonathan/tubetrust/internal/analysis"
	"github.com/jonathan/tubetrust/internal/apperr"
	"github.com/jonathan/tubetrust/internal/bounded"
	"github.com/jonathan/tubetrust/internal/language"
	"github.com/jonathan/tubetrust/internal/store"
	"github.com/jonathan/tubetrust/internal/transcript"
	"github.com/jonathan/tubetrust/internal/types"
	"github.com/jonathan/tubetrust/internal/youtube"
)

// Retry preconditions.
var (
	ErrJobBusy            = errors.New("job is still pending or running")
	ErrNoCachedTranscript = errors.New("no cached transcript for this job")
)

// MetadataSource looks up what is known about a video before transcription.
type MetadataSource interface {
	Metadata(ctx context.Context, sourceURL string) (*types.Metadata, error)
}

// TranscriptSource acquires a transcript.
type TranscriptSource interface {
	Fetch(ctx context.Context, req transcript.Request) (*transcript.Result, error)
}

// Analyzer turns a transcript into an analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*types.Analysis, error)
}

// Orchestrator drives jobs through the pipeline. It is safe for concurrent use.
type Orchestrator struct {
	store       store.Store
	metadata    MetadataSource
	transcripts TranscriptSource
	analyzer    Analyzer
	budgets     Budgets
	observer    Observer
	logger      *slog.Logger
}

// Options configures an Orchestrator.
type Options struct {
	Store       store.Store
	Metadata    MetadataSource
	Transcripts TranscriptSource
	Analyzer    Analyzer
	Budgets     Budgets
	Observer    Observer
	Logger      *slog.Logger
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:       opts.Store,
		metadata:    opts.Metadata,
		transcripts: opts.Transcripts,
		analyzer:    opts.Analyzer,
		budgets:     opts.Budgets,
		observer:    opts.Observer,
		logger:      logger,
	}
}

// run holds what a run has learned so far. The video is persisted on
// failure so a later retry can skip acquisition.
type run struct {
	jobID   string
	video   *types.Video
	started time.Time
	logger  *slog.Logger
}

// Run executes one job. The job must be PENDING; if another run already
// claimed it, Run returns nil without doing anything. The returned error is
// the one recorded on the job.
func (o *Orchestrator) Run(ctx context.Context, jobID, sourceURL string) error {
	logger := o.logger.With("job_id", jobID)

	if err := o.store.TransitionJob(ctx, jobID, types.JobStatusPending, types.JobStatusRunning, nil); err != nil {
		if errors.Is(err, store.ErrTransitionConflict) || errors.Is(err, store.ErrInvalidTransition) {
			logger.Info("job already claimed, skipping duplicate run")
			return nil
		}
		return fmt.Errorf("failed to start job: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, o.budgets.Run)
	defer cancel()

	r := &run{
		jobID:   jobID,
		video:   &types.Video{SourceURL: sourceURL},
		started: time.Now(),
		logger:  logger,
	}
	logger.Info("pipeline started", "url", sourceURL, "budget", o.budgets.Run)

	a, err := o.execute(runCtx, r)
	if err == nil {
		err = o.persist(runCtx, r, a)
	}
	if err != nil {
		err = o.classify(ctx, runCtx, err)
		o.fail(ctx, r, err)
		return err
	}

	logger.Info("pipeline completed", "duration_ms", time.Since(r.started).Milliseconds(), "transcript_source", r.video.TranscriptSource)
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (*types.Analysis, error) {
	md, err := o.metadataStage(ctx, r)
	if err != nil {
		return nil, err
	}
	md.ApplyTo(r.video)

	if err := o.transcriptStage(ctx, r, md); err != nil {
		return nil, err
	}

	return o.analysisStage(ctx, r)
}

func (o *Orchestrator) metadataStage(ctx context.Context, r *run) (*types.Metadata, error) {
	o.emit(r, StageMetadata, "started", "")
	ref, _ := youtube.ParseURL(r.video.SourceURL)

	md, err := bounded.Do(ctx, StageMetadata, bounded.Within(ctx, o.budgets.stage(StageMetadata)),
		func(ctx context.Context) (*types.Metadata, error) {
			return o.metadata.Metadata(ctx, r.video.SourceURL)
		})
	if err != nil {
		if apperr.Is(err, apperr.KindContentTooLong) || ctx.Err() != nil {
			o.emit(r, StageMetadata, "failed", err.Error())
			return nil, err
		}
		r.logger.Warn("metadata unavailable, continuing without it", "stage", StageMetadata, "error", err)
		o.emit(r, StageMetadata, "skipped", err.Error())
		md = &types.Metadata{}
	}
	if md == nil {
		md = &types.Metadata{}
	}
	if md.VideoID == "" {
		md.VideoID = ref.VideoID
	}

	if limit := o.budgets.MaxDurationMinutes; limit > 0 && md.DurationMinutes() > limit {
		err := apperr.New(apperr.KindContentTooLong, apperr.ReasonNone,
			"video is %d minutes long, the limit is %d", md.DurationMinutes(), limit)
		o.emit(r, StageMetadata, "failed", err.Error())
		return nil, err
	}

	o.emit(r, StageMetadata, "completed", md.Title)
	return md, nil
}

func (o *Orchestrator) transcriptStage(ctx context.Context, r *run, md *types.Metadata) error {
	o.emit(r, StageTranscript, "started", "")

	cached, err := o.store.GetVideo(ctx, r.video.SourceURL)
	if err != nil {
		r.logger.Warn("video cache lookup failed", "stage", StageTranscript, "error", err)
	}
	if cached.HasTranscript() {
		r.video.Transcript = cached.Transcript
		r.video.TranscriptSource = cached.TranscriptSource
		r.logger.Info("using cached transcript", "stage", StageTranscript, "chars", len(cached.Transcript))
		o.emit(r, StageTranscript, "completed", "cached transcript")
		return nil
	}

	req := transcript.Request{
		VideoID:         md.VideoID,
		SourceURL:       r.video.SourceURL,
		LanguageHint:    languageHint(md),
		DurationSeconds: md.DurationSeconds,
	}
	res, err := bounded.Do(ctx, StageTranscript, bounded.Within(ctx, o.budgets.stage(StageTranscript)),
		func(ctx context.Context) (*transcript.Result, error) {
			return o.transcripts.Fetch(ctx, req)
		})
	if err != nil {
		o.emit(r, StageTranscript, "failed", err.Error())
		return err
	}

	r.video.Transcript = res.Text
	r.video.TranscriptSource = res.Source
	o.saveVideo(ctx, r)
	o.emit(r, StageTranscript, "completed", res.Source)
	return nil
}

func (o *Orchestrator) analysisStage(ctx context.Context, r *run) (*types.Analysis, error) {
	o.emit(r, StageAnalysis, "started", "")
	a, err := bounded.Do(ctx, StageAnalysis, bounded.Within(ctx, o.budgets.stage(StageAnalysis)),
		func(ctx context.Context) (*types.Analysis, error) {
			return o.analyzer.Analyze(ctx, analysis.Request{
				SourceURL:   r.video.SourceURL,
				Transcript:  r.video.Transcript,
				Title:       r.video.Title,
				Description: r.video.Description,
			})
		})
	if err != nil {
		o.emit(r, StageAnalysis, "failed", err.Error())
		return nil, err
	}
	o.emit(r, StageAnalysis, "completed", a.Model)
	return a, nil
}

func (o *Orchestrator) persist(ctx context.Context, r *run, a *types.Analysis) error {
	o.emit(r, StagePersist, "started", "")
	a.JobID = r.jobID
	a.SourceURL = r.video.SourceURL

	err := bounded.Run(ctx, StagePersist, bounded.Within(ctx, o.budgets.stage(StagePersist)),
		func(ctx context.Context) error {
			return o.store.CompleteJob(ctx, r.jobID, r.video, a)
		})
	if err != nil {
		o.emit(r, StagePersist, "failed", err.Error())
		if apperr.Is(err, apperr.KindTimeout) {
			return err
		}
		return apperr.Wrap(apperr.KindPersistenceFailed, apperr.ReasonNone, err, "failed to save result")
	}
	o.emit(r, StagePersist, "completed", "")
	return nil
}

// classify turns an error into the one recorded on the job. An expired run
// budget always reads as Timeout and a canceled parent as Interrupted.
func (o *Orchestrator) classify(parent, runCtx context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		return apperr.Wrap(apperr.KindInterrupted, apperr.ReasonNone, err, "run interrupted")
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		if apperr.Is(err, apperr.KindTimeout) {
			return err
		}
		return apperr.Wrap(apperr.KindTimeout, apperr.ReasonNone, err, "run exceeded its %s budget", o.budgets.Run)
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Wrap(apperr.KindUnknown, apperr.ReasonNone, err, "unexpected failure")
}

// fail records the failure. It runs on a detached context so an expired run
// budget does not prevent the bookkeeping.
func (o *Orchestrator) fail(parent context.Context, r *run, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), o.budgets.stage(StagePersist))
	defer cancel()

	if r.video.HasTranscript() {
		o.saveVideo(ctx, r)
	}

	failure := &types.JobFailure{Kind: string(apperr.KindOf(err)), Message: err.Error()}
	if terr := o.store.TransitionJob(ctx, r.jobID, types.JobStatusRunning, types.JobStatusFailed, failure); terr != nil {
		r.logger.Error("failed to record job failure", "error", terr, "cause", err)
	}
	r.logger.Warn("pipeline failed",
		"error_kind", failure.Kind,
		"reason", apperr.ReasonOf(err),
		"error", err,
		"duration_ms", time.Since(r.started).Milliseconds(),
	)
}

// saveVideo upserts what the run knows about the video. Failures are logged.
func (o *Orchestrator) saveVideo(ctx context.Context, r *run) {
	err := bounded.Run(ctx, "save video", bounded.Within(ctx, o.budgets.stage(StagePersist)),
		func(ctx context.Context) error {
			return o.store.UpsertVideo(ctx, r.video)
		})
	if err != nil {
		r.logger.Warn("failed to cache video", "error", err)
	}
}

func (o *Orchestrator) emit(r *run, stage, status, message string) {
	if o.observer == nil {
		return
	}
	o.observer(Event{JobID: r.jobID, Stage: stage, Status: status, Message: message, Elapsed: time.Since(r.started)})
}

// languageHint guesses the spoken language from the title and description.
// It returns "" when there is not enough signal.
func languageHint(md *types.Metadata) string {
	if md == nil {
		return ""
	}
	lang := language.Detect(md.Title + " " + md.Description)
	if lang.Confidence <= language.Default.Confidence {
		return ""
	}
	return lang.Code
}
