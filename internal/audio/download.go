package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/jonathan/tubetrust/internal/apperr"
)

// File is an audio file on disk.
type File struct {
	Path     string
	MIMEType string
	Size     int64
}

var errTooLarge = errors.New("download exceeded the size limit")

// limitWriter fails once more than limit bytes have been written and calls
// onExceed so the producing process can be stopped.
type limitWriter struct {
	w        io.Writer
	n        int64
	limit    int64
	exceeded bool
	onExceed func()
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if l.n+int64(len(p)) > l.limit {
		l.exceeded = true
		if l.onExceed != nil {
			l.onExceed()
		}
		return 0, errTooLarge
	}
	n, err := l.w.Write(p)
	l.n += int64(n)
	return n, err
}

// Downloader fetches audio with yt-dlp, trying each format in turn.
type Downloader struct {
	runner   Runner
	binary   string
	formats  []string
	maxBytes int64
	logger   *slog.Logger
}

// NewDownloader creates a Downloader. formats should be ordered smallest first.
func NewDownloader(runner Runner, binary string, formats []string, maxBytes int64, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{runner: runner, binary: binary, formats: formats, maxBytes: maxBytes, logger: logger}
}

// Download streams the audio for sourceURL into ws. Exceeding the size limit
// stops the cascade with download_too_large. When every format fails the
// error carries download_failed.
func (d *Downloader) Download(ctx context.Context, sourceURL string, ws *Workspace) (*File, error) {
	if len(d.formats) == 0 {
		return nil, apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonDownloadFailed, "no download formats configured")
	}

	var failures []string
	for i, format := range d.formats {
		file, err := d.tryFormat(ctx, sourceURL, format, ws.Path(fmt.Sprintf("audio-%d", i)))
		if err == nil {
			d.logger.Debug("audio downloaded", "format", format, "bytes", file.Size)
			return file, nil
		}
		if errors.Is(err, errTooLarge) {
			return nil, apperr.Wrap(apperr.KindAcquisitionFailed, apperr.ReasonDownloadTooLarge, err,
				"audio is larger than %d bytes", d.maxBytes)
		}
		if ctx.Err() != nil {
			return nil, apperr.Wrap(apperr.KindAcquisitionFailed, apperr.ReasonDownloadFailed, ctx.Err(), "download interrupted")
		}
		d.logger.Debug("download format failed", "format", format, "error", err)
		failures = append(failures, fmt.Sprintf("%s: %v", format, err))
	}

	return nil, apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonDownloadFailed,
		"all %d formats failed: %s", len(d.formats), strings.Join(failures, "; "))
}

func (d *Downloader) tryFormat(ctx context.Context, sourceURL, format, path string) (*File, error) {
	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer out.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lw := &limitWriter{w: out, limit: d.maxBytes, onExceed: cancel}
	args := []string{"-f", format, "--no-playlist", "--no-warnings", "--quiet", "-o", "-", sourceURL}
	runErr := d.runner.Run(runCtx, d.binary, args, lw)

	// The process may exit on SIGPIPE or cancellation before reporting the
	// writer error, so the flag is authoritative.
	if lw.exceeded {
		return nil, errTooLarge
	}
	if runErr != nil {
		return nil, runErr
	}
	if lw.n == 0 {
		return nil, errors.New("no audio data written")
	}

	mime, err := sniffMIME(path, format)
	if err != nil {
		return nil, err
	}
	return &File{Path: path, MIMEType: mime, Size: lw.n}, nil
}

// sniffMIME guesses the audio MIME type from the file header, falling back
// to the requested format.
func sniffMIME(path, format string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch detected := http.DetectContentType(head[:n]); {
	case strings.HasSuffix(detected, "/mp4"):
		return "audio/mp4", nil
	case strings.HasSuffix(detected, "/webm"):
		return "audio/webm", nil
	case strings.HasPrefix(detected, "audio/"):
		return strings.SplitN(detected, ";", 2)[0], nil
	}

	switch {
	case strings.Contains(format, "webm"):
		return "audio/webm", nil
	case strings.Contains(format, "mp3"):
		return "audio/mpeg", nil
	}
	return "audio/mp4", nil
}
