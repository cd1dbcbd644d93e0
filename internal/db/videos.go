package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jonathan/tubetrust/internal/types"
)

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Empty incoming values keep what is stored; everything else is last-writer-wins.
const upsertVideoSQL = `
INSERT INTO videos (source_url, video_id, title, channel, description, duration_seconds,
                    transcript, transcript_source)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (source_url) DO UPDATE SET
  video_id = COALESCE(NULLIF(EXCLUDED.video_id, ''), videos.video_id),
  title = COALESCE(NULLIF(EXCLUDED.title, ''), videos.title),
  channel = COALESCE(NULLIF(EXCLUDED.channel, ''), videos.channel),
  description = COALESCE(NULLIF(EXCLUDED.description, ''), videos.description),
  duration_seconds = CASE WHEN EXCLUDED.duration_seconds > 0 THEN EXCLUDED.duration_seconds ELSE videos.duration_seconds END,
  transcript_source = CASE WHEN EXCLUDED.transcript <> '' THEN EXCLUDED.transcript_source ELSE videos.transcript_source END,
  transcript = COALESCE(NULLIF(EXCLUDED.transcript, ''), videos.transcript),
  updated_at = NOW()`

func upsertVideo(ctx context.Context, ex execer, v *types.Video) error {
	_, err := ex.Exec(ctx, upsertVideoSQL,
		v.SourceURL, v.VideoID, v.Title, v.Channel, v.Description, v.DurationSeconds,
		v.Transcript, v.TranscriptSource,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert video: %w", err)
	}
	return nil
}

// UpsertVideo merges v into the cached video row for its source URL
func (db *DB) UpsertVideo(ctx context.Context, v *types.Video) error {
	return upsertVideo(ctx, db.pool, v)
}

// GetVideo retrieves a cached video by source URL
func (db *DB) GetVideo(ctx context.Context, sourceURL string) (*types.Video, error) {
	var v types.Video
	err := db.pool.QueryRow(ctx,
		`SELECT source_url, video_id, title, channel, description, duration_seconds,
		        transcript, transcript_source, updated_at
		 FROM videos WHERE source_url = $1`,
		sourceURL,
	).Scan(&v.SourceURL, &v.VideoID, &v.Title, &v.Channel, &v.Description, &v.DurationSeconds,
		&v.Transcript, &v.TranscriptSource, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	return &v, nil
}
