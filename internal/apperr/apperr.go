// Package apperr defines the error kinds a job can fail with.
//
// Every failure that reaches a Job record carries a Kind and, for the
// acquisition and analysis kinds, a Reason. Callers branch on those values
// with KindOf/ReasonOf instead of inspecting message text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure at the level users and operators care about.
type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindContentTooLong    Kind = "content_too_long"
	KindAcquisitionFailed Kind = "acquisition_failed"
	KindAnalysisFailed    Kind = "analysis_failed"
	KindTimeout           Kind = "timeout"
	KindPersistenceFailed Kind = "persistence_failed"
	KindInterrupted       Kind = "interrupted"
	KindUnknown           Kind = "unknown"
)

// Reason narrows a Kind down to the tier or provider condition that caused it.
type Reason string

const (
	ReasonNone Reason = ""

	// transcript acquisition
	ReasonNoCaptions           Reason = "no_captions"
	ReasonWorkerUnavailable    Reason = "worker_unavailable"
	ReasonWorkerFailed         Reason = "worker_failed"
	ReasonDownloadTooLarge     Reason = "download_too_large"
	ReasonDownloadFailed       Reason = "download_failed"
	ReasonTranscriptionTimeout Reason = "transcription_timeout"
	ReasonTranscriptionFailed  Reason = "transcription_failed"
	ReasonNoStrategies         Reason = "no_strategies"

	// analysis
	ReasonAuth               Reason = "auth"
	ReasonRateLimited        Reason = "rate_limited"
	ReasonQuotaExceeded      Reason = "quota_exceeded"
	ReasonMalformedResponse  Reason = "malformed_response"
	ReasonIncompleteResponse Reason = "incomplete_response"
	ReasonProviderError      Reason = "provider_error"
)

// Error is the concrete error type carried through the pipeline.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error with no underlying cause.
func New(kind Kind, reason Reason, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error that carries cause.
func Wrap(kind Kind, reason Reason, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// As returns the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindUnknown when err carries none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnknown
}

// ReasonOf returns the first non-empty reason found in err's chain.
func ReasonOf(err error) Reason {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ReasonNone
		}
		if e.Reason != ReasonNone {
			return e.Reason
		}
		err = e.Cause
	}
	return ReasonNone
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// UserMessage returns a short message suitable for showing to whoever
// submitted the job. The detailed error stays in logs and ErrorMessage.
func UserMessage(kind Kind, reason Reason) string {
	switch reason {
	case ReasonNoCaptions:
		return "This video has no captions we could read."
	case ReasonWorkerUnavailable:
		return "The transcription service is unavailable right now. Try again later."
	case ReasonDownloadTooLarge:
		return "The audio track is too large to transcribe."
	case ReasonTranscriptionTimeout:
		return "Transcribing the audio took too long."
	case ReasonAuth:
		return "The analysis provider rejected our credentials."
	case ReasonRateLimited:
		return "The analysis provider is rate limiting requests. Try again in a minute."
	case ReasonQuotaExceeded:
		return "The analysis quota is exhausted for now."
	case ReasonMalformedResponse:
		return "The analysis came back in a form we could not read. Retrying usually helps."
	case ReasonIncompleteResponse:
		return "The analysis came back incomplete. Retrying usually helps."
	case ReasonProviderError:
		return "The analysis provider returned an error."
	}
	switch kind {
	case KindInvalidInput:
		return "That does not look like a supported video URL."
	case KindContentTooLong:
		return "This video is longer than we can analyze."
	case KindAcquisitionFailed:
		return "We could not get a transcript for this video."
	case KindAnalysisFailed:
		return "The analysis failed."
	case KindTimeout:
		return "Processing took too long and was stopped."
	case KindPersistenceFailed:
		return "The result could not be saved."
	case KindInterrupted:
		return "Processing was interrupted."
	}
	return "Something went wrong."
}
