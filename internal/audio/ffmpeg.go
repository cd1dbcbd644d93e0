package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/jonathan/tubetrust/internal/apperr"
)

// Encoding holds the ffmpeg settings shared by compression and segmenting.
type Encoding struct {
	Binary      string
	Bitrate     string
	UploadLimit int64
}

func (e Encoding) speechArgs() []string {
	return []string{"-vn", "-ac", "1", "-ar", "16000", "-c:a", "libmp3lame", "-b:a", e.Bitrate}
}

// Compressor re-encodes audio to low-bitrate mono speech.
type Compressor struct {
	runner Runner
	enc    Encoding
	logger *slog.Logger
}

// NewCompressor creates a Compressor.
func NewCompressor(runner Runner, enc Encoding, logger *slog.Logger) *Compressor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compressor{runner: runner, enc: enc, logger: logger}
}

// Compress returns in unchanged when it already fits the upload limit.
func (c *Compressor) Compress(ctx context.Context, in *File, ws *Workspace) (*File, error) {
	if in.Size <= c.enc.UploadLimit {
		return in, nil
	}

	out := ws.Path("compressed.mp3")
	args := append([]string{"-nostdin", "-loglevel", "error", "-y", "-i", in.Path}, c.enc.speechArgs()...)
	args = append(args, out)
	if err := c.runner.Run(ctx, c.enc.Binary, args, nil); err != nil {
		return nil, apperr.Wrap(apperr.KindAcquisitionFailed, apperr.ReasonTranscriptionFailed, err, "failed to compress audio")
	}

	info, err := os.Stat(out)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAcquisitionFailed, apperr.ReasonTranscriptionFailed, err, "compressed audio missing")
	}
	c.logger.Debug("audio compressed", "from_bytes", in.Size, "to_bytes", info.Size())
	return &File{Path: out, MIMEType: "audio/mpeg", Size: info.Size()}, nil
}

// Segmenter splits audio into fixed-length chunks with the ffmpeg segment muxer.
type Segmenter struct {
	runner  Runner
	enc     Encoding
	seconds int
	logger  *slog.Logger
}

// NewSegmenter creates a Segmenter producing chunks of seconds each.
func NewSegmenter(runner Runner, enc Encoding, seconds int, logger *slog.Logger) *Segmenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{runner: runner, enc: enc, seconds: seconds, logger: logger}
}

// Segment returns in as the only chunk when it fits the upload limit.
// Chunks are returned in playback order.
func (s *Segmenter) Segment(ctx context.Context, in *File, ws *Workspace) ([]*File, error) {
	if in.Size <= s.enc.UploadLimit {
		return []*File{in}, nil
	}

	dir := ws.Path("chunks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chunk dir: %w", err)
	}

	args := append([]string{"-nostdin", "-loglevel", "error", "-y", "-i", in.Path}, s.enc.speechArgs()...)
	args = append(args,
		"-f", "segment",
		"-segment_time", strconv.Itoa(s.seconds),
		"-reset_timestamps", "1",
		filepath.Join(dir, "chunk-%03d.mp3"),
	)
	if err := s.runner.Run(ctx, s.enc.Binary, args, nil); err != nil {
		return nil, apperr.Wrap(apperr.KindAcquisitionFailed, apperr.ReasonTranscriptionFailed, err, "failed to segment audio")
	}

	paths, err := filepath.Glob(filepath.Join(dir, "chunk-*.mp3"))
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	if len(paths) == 0 {
		return nil, apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonTranscriptionFailed, "segmenting produced no chunks")
	}
	sort.Strings(paths)

	chunks := make([]*File, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat chunk: %w", err)
		}
		chunks = append(chunks, &File{Path: p, MIMEType: "audio/mpeg", Size: info.Size()})
	}
	s.logger.Debug("audio segmented", "chunks", len(chunks), "segment_seconds", s.seconds)
	return chunks, nil
}
