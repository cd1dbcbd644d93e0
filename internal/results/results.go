// Package results builds the polling view of a job.
package results

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jonathan/tubetrust/internal/bounded"
	"github.com/jonathan/tubetrust/internal/store"
	"github.com/jonathan/tubetrust/internal/types"
)

// DefaultRefreshTimeout bounds the metadata re-extraction done during a read.
const DefaultRefreshTimeout = 5 * time.Second

// MetadataSource re-extracts metadata for a video whose title is unknown.
type MetadataSource interface {
	Metadata(ctx context.Context, sourceURL string) (*types.Metadata, error)
}

// JobError is the failure reported for a FAILED job.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// VideoView is the video metadata part of a View.
type VideoView struct {
	VideoID          string `json:"video_id,omitempty"`
	Title            string `json:"title,omitempty"`
	Channel          string `json:"channel,omitempty"`
	Description      string `json:"description,omitempty"`
	DurationSeconds  int    `json:"duration_seconds,omitempty"`
	TranscriptSource string `json:"transcript_source,omitempty"`
}

// View is what a client sees when polling a job.
type View struct {
	JobID          string          `json:"job_id"`
	SourceURL      string          `json:"source_url"`
	Status         types.JobStatus `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	ElapsedSeconds int64           `json:"elapsed_seconds"`
	Video          *VideoView      `json:"video,omitempty"`
	Transcript     string          `json:"transcript,omitempty"`
	Analysis       *types.Analysis `json:"analysis,omitempty"`
	Error          *JobError       `json:"error,omitempty"`
}

// Reader assembles Views from the store.
type Reader struct {
	store          store.Store
	metadata       MetadataSource
	refreshTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// NewReader creates a Reader. metadata may be nil, which disables refresh.
func NewReader(s store.Store, metadata MetadataSource, refreshTimeout time.Duration, logger *slog.Logger) *Reader {
	if refreshTimeout <= 0 {
		refreshTimeout = DefaultRefreshTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{store: s, metadata: metadata, refreshTimeout: refreshTimeout, now: time.Now, logger: logger}
}

// SetClock replaces the clock used for elapsed time.
func (r *Reader) SetClock(now func() time.Time) {
	r.now = now
}

// Get returns the view for job id, or store.ErrNotFound.
func (r *Reader) Get(ctx context.Context, id string) (*View, error) {
	job, err := r.store.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return nil, store.ErrNotFound
	}

	view := &View{
		JobID:          job.ID,
		SourceURL:      job.SourceURL,
		Status:         job.Status,
		CreatedAt:      job.CreatedAt,
		ElapsedSeconds: int64(math.Max(0, r.now().Sub(job.CreatedAt).Seconds())),
	}

	// The status is already known; video details are optional in the view.
	video, err := r.store.GetVideo(ctx, job.SourceURL)
	if err != nil {
		r.logger.Warn("failed to get video, returning job without it", "job_id", job.ID, "error", err)
	} else {
		video = r.refresh(ctx, job, video)
	}
	if video != nil {
		view.Transcript = video.Transcript
		view.Video = &VideoView{
			VideoID:          video.VideoID,
			Title:            video.Title,
			Channel:          video.Channel,
			Description:      video.Description,
			DurationSeconds:  video.DurationSeconds,
			TranscriptSource: video.TranscriptSource,
		}
	}

	switch job.Status {
	case types.JobStatusCompleted:
		analysis, err := r.store.GetAnalysis(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get analysis: %w", err)
		}
		view.Analysis = analysis
	case types.JobStatusFailed:
		view.Error = &JobError{Kind: job.ErrorKind, Message: job.ErrorMessage}
	}
	return view, nil
}

// refresh fills in missing metadata. Failures only get logged.
func (r *Reader) refresh(ctx context.Context, job *types.Job, video *types.Video) *types.Video {
	if r.metadata == nil || (video != nil && video.Title != "") {
		return video
	}
	// A running job is about to write metadata itself.
	if job.Status == types.JobStatusPending || job.Status == types.JobStatusRunning {
		return video
	}

	logger := r.logger.With("job_id", job.ID)
	meta, err := bounded.Do(ctx, "metadata refresh", r.refreshTimeout, func(ctx context.Context) (*types.Metadata, error) {
		return r.metadata.Metadata(ctx, job.SourceURL)
	})
	if err != nil {
		logger.Warn("metadata refresh failed", "error", err)
		return video
	}
	if meta == nil || meta.Title == "" {
		return video
	}

	next := &types.Video{SourceURL: job.SourceURL}
	if video != nil {
		copied := *video
		next = &copied
	}
	meta.ApplyTo(next)
	if err := r.store.UpsertVideo(ctx, next); err != nil {
		logger.Warn("failed to save refreshed metadata", "error", err)
	}
	return next
}
