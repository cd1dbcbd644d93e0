package types

import "time"

// Video caches what we know about a source URL. It outlives the jobs that
// produced it, so a transcript fetched during a failed run is reused by the
// next one.
type Video struct {
	SourceURL        string    `json:"source_url"`
	VideoID          string    `json:"video_id,omitempty"`
	Title            string    `json:"title,omitempty"`
	Channel          string    `json:"channel,omitempty"`
	Description      string    `json:"description,omitempty"`
	DurationSeconds  int       `json:"duration_seconds,omitempty"`
	Transcript       string    `json:"transcript,omitempty"`
	TranscriptSource string    `json:"transcript_source,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasTranscript reports whether a usable transcript is cached.
func (v *Video) HasTranscript() bool {
	return v != nil && v.Transcript != ""
}

// Merge overlays the non-empty fields of next onto v. The video cache is
// last-writer-wins per field, and a partial write never erases known data.
func (v *Video) Merge(next *Video) {
	if next == nil {
		return
	}
	if next.VideoID != "" {
		v.VideoID = next.VideoID
	}
	if next.Title != "" {
		v.Title = next.Title
	}
	if next.Channel != "" {
		v.Channel = next.Channel
	}
	if next.Description != "" {
		v.Description = next.Description
	}
	if next.DurationSeconds > 0 {
		v.DurationSeconds = next.DurationSeconds
	}
	if next.Transcript != "" {
		v.Transcript = next.Transcript
		v.TranscriptSource = next.TranscriptSource
	}
}

// Metadata is what the metadata stage learns about a video before any
// transcript work starts.
type Metadata struct {
	VideoID         string `json:"video_id,omitempty"`
	Title           string `json:"title,omitempty"`
	Channel         string `json:"channel,omitempty"`
	Description     string `json:"description,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

// DurationMinutes rounds the duration up to whole minutes.
func (m *Metadata) DurationMinutes() int {
	if m == nil || m.DurationSeconds <= 0 {
		return 0
	}
	return (m.DurationSeconds + 59) / 60
}

// ApplyTo copies the metadata onto a video record.
func (m *Metadata) ApplyTo(v *Video) {
	if m == nil || v == nil {
		return
	}
	v.Merge(&Video{
		VideoID:         m.VideoID,
		Title:           m.Title,
		Channel:         m.Channel,
		Description:     m.Description,
		DurationSeconds: m.DurationSeconds,
	})
}
