// Package audio downloads a video's audio track and prepares it for
// transcription using yt-dlp and ffmpeg.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner executes an external program. stdout may be nil.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdout io.Writer) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, name string, args []string, stdout io.Writer) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, name string, args []string, stdout io.Writer) error {
	return f(ctx, name, args, stdout)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct {
	Logger *slog.Logger
}

// Run starts name with args and waits for it. On failure the last line the
// program wrote to stderr is included in the error.
func (r ExecRunner) Run(ctx context.Context, name string, args []string, stdout io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	if r.Logger != nil {
		r.Logger.Debug("running command", "program", name, "args", strings.Join(args, " "))
	}

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return fmt.Errorf("%s is not available: %w", name, err)
		}
		if line := lastLine(stderr.String()); line != "" {
			return fmt.Errorf("%s failed: %s: %w", name, line, err)
		}
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
