package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/tubetrust/internal/apperr"
	"github.com/jonathan/tubetrust/internal/audio"
	"github.com/jonathan/tubetrust/internal/language"
	"github.com/jonathan/tubetrust/internal/llm"
	"github.com/jonathan/tubetrust/internal/prompts"
)

// ChunkTranscriber turns one audio chunk into text.
type ChunkTranscriber interface {
	TranscribeChunk(ctx context.Context, chunk *audio.File, part, total int, languageHint string) (string, error)
}

// AudioModel is the subset of an LLM client that accepts audio.
type AudioModel interface {
	TranscribeAudio(ctx context.Context, audio []byte, mimeType, instruction string) (string, error)
}

// ModelTranscriber implements ChunkTranscriber with an audio-capable model.
type ModelTranscriber struct {
	Model AudioModel
}

// TranscribeChunk implements ChunkTranscriber. A chunk with no speech yields
// an empty string.
func (t ModelTranscriber) TranscribeChunk(ctx context.Context, chunk *audio.File, part, total int, languageHint string) (string, error) {
	data, err := os.ReadFile(chunk.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read chunk: %w", err)
	}

	hint := ""
	if languageHint != "" {
		tmpl, err := prompts.Get(prompts.TranscriptionFile, "language-hint")
		if err != nil {
			return "", err
		}
		hint = prompts.Format(tmpl, map[string]string{"LanguageName": language.Name(languageHint)})
	}
	tmpl, err := prompts.Get(prompts.TranscriptionFile, "transcribe-chunk")
	if err != nil {
		return "", err
	}
	instruction := prompts.Format(tmpl, map[string]string{
		"Part":         strconv.Itoa(part),
		"Total":        strconv.Itoa(total),
		"LanguageHint": hint,
	})

	text, err := t.Model.TranscribeAudio(ctx, data, chunk.MIMEType, instruction)
	if errors.Is(err, llm.ErrEmptyResponse) {
		return "", nil
	}
	return text, err
}

// LocalOptions configures LocalStrategy.
type LocalOptions struct {
	WorkDir      string
	Parallelism  int
	ChunkTimeout time.Duration
}

// LocalStrategy downloads the audio and transcribes it chunk by chunk.
type LocalStrategy struct {
	downloader  *audio.Downloader
	compressor  *audio.Compressor
	segmenter   *audio.Segmenter
	transcriber ChunkTranscriber
	opts        LocalOptions
	logger      *slog.Logger
}

// NewLocalStrategy creates a LocalStrategy.
func NewLocalStrategy(d *audio.Downloader, c *audio.Compressor, s *audio.Segmenter, t ChunkTranscriber, opts LocalOptions, logger *slog.Logger) *LocalStrategy {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalStrategy{downloader: d, compressor: c, segmenter: s, transcriber: t, opts: opts, logger: logger}
}

// Name implements Strategy.
func (*LocalStrategy) Name() string { return NameLocal }

// Fetch implements Strategy.
func (l *LocalStrategy) Fetch(ctx context.Context, req Request) (string, error) {
	ws, err := audio.NewWorkspace(l.opts.WorkDir, "tubetrust")
	if err != nil {
		return "", apperr.Wrap(apperr.KindAcquisitionFailed, apperr.ReasonDownloadFailed, err, "failed to prepare workspace")
	}
	defer func() {
		if err := ws.Release(); err != nil {
			l.logger.Warn("failed to remove workspace", "dir", ws.Dir(), "error", err)
		}
	}()

	file, err := l.downloader.Download(ctx, req.SourceURL, ws)
	if err != nil {
		return "", err
	}
	file, err = l.compressor.Compress(ctx, file, ws)
	if err != nil {
		return "", err
	}
	chunks, err := l.segmenter.Segment(ctx, file, ws)
	if err != nil {
		return "", err
	}

	return l.transcribe(ctx, chunks, req.LanguageHint)
}

func (l *LocalStrategy) transcribe(ctx context.Context, chunks []*audio.File, languageHint string) (string, error) {
	texts := make([]string, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Parallelism)
	for i, chunk := range chunks {
		g.Go(func() error {
			text, err := l.transcribeChunk(gctx, chunk, i+1, len(chunks), languageHint)
			if err != nil {
				return err
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return "", apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonTranscriptionFailed, "no speech found in %d chunks", len(chunks))
	}
	return strings.Join(parts, "\n"), nil
}

func (l *LocalStrategy) transcribeChunk(ctx context.Context, chunk *audio.File, part, total int, languageHint string) (string, error) {
	timeout := l.opts.ChunkTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	text, err := l.transcriber.TranscribeChunk(ctx, chunk, part, total, languageHint)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", apperr.Wrap(apperr.KindAcquisitionFailed, apperr.ReasonTranscriptionTimeout, err,
				"chunk %d of %d timed out after %s", part, total, timeout)
		}
		return "", apperr.Wrap(apperr.KindAcquisitionFailed, apperr.ReasonTranscriptionFailed, err,
			"chunk %d of %d failed", part, total)
	}
	l.logger.Debug("chunk transcribed", "part", part, "total", total, "chars", len(text), "duration_ms", time.Since(start).Milliseconds())
	return text, nil
}
