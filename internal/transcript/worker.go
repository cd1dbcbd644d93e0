package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jonathan/tubetrust/internal/apperr"
)

// WorkerClient calls a remote transcription service.
type WorkerClient struct {
	baseURL            string
	token              string
	maxDurationMinutes int
	client             *http.Client
	logger             *slog.Logger
}

// NewWorkerClient creates a WorkerClient whose HTTP calls give up after timeout.
func NewWorkerClient(baseURL, token string, maxDurationMinutes int, timeout time.Duration, logger *slog.Logger) *WorkerClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerClient{
		baseURL:            strings.TrimRight(baseURL, "/"),
		token:              token,
		maxDurationMinutes: maxDurationMinutes,
		client:             &http.Client{Timeout: timeout},
		logger:             logger,
	}
}

type workerRequest struct {
	URL                string `json:"url"`
	Language           string `json:"language,omitempty"`
	MaxDurationSeconds int    `json:"max_duration_seconds,omitempty"`
}

type workerResponse struct {
	Transcript string `json:"transcript"`
	Text       string `json:"text"`
	Error      string `json:"error"`
}

// Name implements Strategy.
func (*WorkerClient) Name() string { return NameWorker }

// Fetch implements Strategy.
func (w *WorkerClient) Fetch(ctx context.Context, req Request) (string, error) {
	maxSeconds := w.maxDurationMinutes * 60
	if maxSeconds > 0 && req.DurationSeconds > maxSeconds {
		return "", apperr.New(apperr.KindContentTooLong, apperr.ReasonNone,
			"video is %d minutes, the transcription worker accepts at most %d",
			(req.DurationSeconds+59)/60, w.maxDurationMinutes)
	}

	body, err := json.Marshal(workerRequest{URL: req.SourceURL, Language: req.LanguageHint, MaxDurationSeconds: maxSeconds})
	if err != nil {
		return "", fmt.Errorf("failed to encode worker request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/transcribe", bytes.NewReader(body))
	if err != nil {
		return "", apperr.Wrap(apperr.KindAcquisitionFailed, apperr.ReasonWorkerFailed, err, "invalid worker URL")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", apperr.Wrap(apperr.KindAcquisitionFailed, apperr.ReasonWorkerUnavailable, err, "transcription worker unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", apperr.Wrap(apperr.KindAcquisitionFailed, apperr.ReasonWorkerFailed, err, "failed to read worker response")
	}

	// Proxies in front of the worker may report 413 only in an error body.
	// A 2xx body is a transcript and is never sniffed.
	if resp.StatusCode == http.StatusRequestEntityTooLarge ||
		(resp.StatusCode >= 300 && strings.Contains(strings.ToLower(string(raw)), "entity too large")) {
		return "", apperr.New(apperr.KindContentTooLong, apperr.ReasonNone, "transcription worker rejected the video as too large")
	}
	switch {
	case resp.StatusCode >= 500:
		return "", apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonWorkerUnavailable,
			"transcription worker returned %d: %s", resp.StatusCode, snippet(raw))
	case resp.StatusCode != http.StatusOK:
		return "", apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonWorkerFailed,
			"transcription worker returned %d: %s", resp.StatusCode, snippet(raw))
	}

	var out workerResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", apperr.Wrap(apperr.KindAcquisitionFailed, apperr.ReasonWorkerFailed, err, "failed to decode worker response")
	}
	text := strings.TrimSpace(out.Transcript)
	if text == "" {
		text = strings.TrimSpace(out.Text)
	}
	if text == "" {
		msg := out.Error
		if msg == "" {
			msg = "empty transcript"
		}
		return "", apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonWorkerFailed, "transcription worker: %s", msg)
	}
	return text, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
