// Package transcript acquires a video transcript by trying an ordered list
// of strategies until one succeeds.
package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonathan/tubetrust/internal/apperr"
	"github.com/jonathan/tubetrust/internal/bounded"
)

// Request describes the video to transcribe.
type Request struct {
	VideoID         string
	SourceURL       string
	LanguageHint    string
	DurationSeconds int
}

// Strategy is one way of getting a transcript.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, req Request) (string, error)
}

// Tier is a strategy with its own time budget. A zero Timeout means the
// strategy only gets what is left of the caller's deadline.
type Tier struct {
	Strategy Strategy
	Timeout  time.Duration
}

// Result is a transcript and the strategy that produced it.
type Result struct {
	Text   string
	Source string
}

// Chain runs tiers in order and returns the first transcript.
type Chain struct {
	tiers  []Tier
	logger *slog.Logger
}

// NewChain creates a Chain.
func NewChain(logger *slog.Logger, tiers ...Tier) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{tiers: tiers, logger: logger}
}

// Names returns the strategy names in order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.tiers))
	for i, t := range c.tiers {
		names[i] = t.Strategy.Name()
	}
	return names
}

// Fetch tries each tier. A ContentTooLong error stops the chain at once.
// When every tier fails the error is AcquisitionFailed with the last tier's
// reason and a summary of each attempt.
func (c *Chain) Fetch(ctx context.Context, req Request) (*Result, error) {
	if len(c.tiers) == 0 {
		return nil, apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonNoStrategies, "no transcript strategies configured")
	}

	var (
		lastErr  error
		attempts []string
	)
	for _, tier := range c.tiers {
		name := tier.Strategy.Name()
		if ctx.Err() != nil {
			attempts = append(attempts, name+": skipped")
			continue
		}

		timeout := tier.Timeout
		if timeout <= 0 {
			timeout = bounded.Within(ctx, 24*time.Hour)
		} else {
			timeout = bounded.Within(ctx, timeout)
		}

		start := time.Now()
		text, err := bounded.Do(ctx, "transcript "+name, timeout, func(ctx context.Context) (string, error) {
			return tier.Strategy.Fetch(ctx, req)
		})
		if err == nil && strings.TrimSpace(text) != "" {
			c.logger.Info("transcript acquired",
				"strategy", name,
				"chars", len(text),
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return &Result{Text: text, Source: name}, nil
		}
		if err == nil {
			err = apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonNone, "%s returned an empty transcript", name)
		}
		if e, ok := apperr.As(err); ok && e.Kind == apperr.KindTimeout && e.Reason == apperr.ReasonNone {
			err = &apperr.Error{Kind: e.Kind, Reason: apperr.ReasonTranscriptionTimeout, Message: e.Message, Cause: e.Cause}
		}

		if apperr.Is(err, apperr.KindContentTooLong) {
			c.logger.Info("transcript chain stopped", "strategy", name, "error", err)
			return nil, err
		}

		c.logger.Warn("transcript strategy failed",
			"strategy", name,
			"reason", apperr.ReasonOf(err),
			"error", err,
		)
		lastErr = err
		attempts = append(attempts, fmt.Sprintf("%s: %v", name, err))
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, apperr.Wrap(apperr.KindAcquisitionFailed, apperr.ReasonOf(lastErr), lastErr,
		"no transcript available (%s)", strings.Join(attempts, "; "))
}
