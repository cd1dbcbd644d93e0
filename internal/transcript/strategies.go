package transcript

import (
	"context"
	"fmt"

	"github.com/jonathan/tubetrust/internal/apperr"
	"github.com/jonathan/tubetrust/internal/types"
)

// Strategy names as they appear in config and in Video.TranscriptSource.
const (
	NameCache    = "cache"
	NameCaptions = "captions"
	NameWorker   = "worker"
	NameLocal    = "local"
)

// VideoGetter reads the video cache.
type VideoGetter interface {
	GetVideo(ctx context.Context, sourceURL string) (*types.Video, error)
}

// CacheStrategy returns a transcript stored by an earlier run.
type CacheStrategy struct {
	Videos VideoGetter
}

// Name implements Strategy.
func (CacheStrategy) Name() string { return NameCache }

// Fetch implements Strategy.
func (s CacheStrategy) Fetch(ctx context.Context, req Request) (string, error) {
	v, err := s.Videos.GetVideo(ctx, req.SourceURL)
	if err != nil {
		return "", fmt.Errorf("failed to read video cache: %w", err)
	}
	if !v.HasTranscript() {
		return "", apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonNone, "no cached transcript")
	}
	return v.Transcript, nil
}

// CaptionSource fetches published captions for a video id.
type CaptionSource interface {
	Transcript(ctx context.Context, videoID, languageHint string) (string, error)
}

// CaptionStrategy reads the video's published captions.
type CaptionStrategy struct {
	Source CaptionSource
}

// Name implements Strategy.
func (CaptionStrategy) Name() string { return NameCaptions }

// Fetch implements Strategy.
func (s CaptionStrategy) Fetch(ctx context.Context, req Request) (string, error) {
	if req.VideoID == "" {
		return "", apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonNoCaptions, "captions need a video id")
	}
	return s.Source.Transcript(ctx, req.VideoID, req.LanguageHint)
}
