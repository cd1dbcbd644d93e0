package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jonathan/tubetrust/internal/types"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLite is a Store backed by a single SQLite file.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps the pragmas in effect.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, now: time.Now}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the embedded schema. It is idempotent.
func (s *SQLite) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(sqliteSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply sqlite schema: %w", err)
		}
	}
	return nil
}

// SetClock replaces the time source. Tests use it to age jobs.
func (s *SQLite) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) stamp() int64 {
	return s.now().UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// rowQuerier is satisfied by both *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLite) GetJob(ctx context.Context, id string) (*types.Job, error) {
	return getJob(ctx, s.db, id)
}

func getJob(ctx context.Context, q rowQuerier, id string) (*types.Job, error) {
	var job types.Job
	var status string
	var created, updated int64
	err := q.QueryRowContext(ctx,
		`SELECT id, source_url, status, error_kind, error_message, created_at, updated_at
		 FROM jobs WHERE id = ?`, id,
	).Scan(&job.ID, &job.SourceURL, &status, &job.ErrorKind, &job.ErrorMessage, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	job.Status = types.JobStatus(status)
	job.CreatedAt = fromMillis(created)
	job.UpdatedAt = fromMillis(updated)
	return &job, nil
}

func (s *SQLite) PutPendingJob(ctx context.Context, id, sourceURL string) (*types.Job, error) {
	now := s.stamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, source_url, status, error_kind, error_message, created_at, updated_at)
		 VALUES (?, ?, 'PENDING', '', '', ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   source_url = excluded.source_url,
		   status = 'PENDING',
		   error_kind = '',
		   error_message = '',
		   updated_at = excluded.updated_at`,
		id, sourceURL, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to put pending job: %w", err)
	}
	return s.GetJob(ctx, id)
}

func (s *SQLite) TransitionJob(ctx context.Context, id string, from, to types.JobStatus, failure *types.JobFailure) error {
	if !types.CanTransition(from, to) {
		return ErrInvalidTransition
	}
	kind, message := FailureFields(to, failure)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_kind = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(to), kind, message, s.stamp(), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to transition job: %w", err)
	}
	return s.checkTransitionResult(ctx, res, id)
}

// checkTransitionResult tells a missing job apart from a status conflict
// when a compare-and-set update touched no rows.
func (s *SQLite) checkTransitionResult(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrNotFound
	}
	return ErrTransitionConflict
}

func (s *SQLite) ListStaleJobs(ctx context.Context, status types.JobStatus, cutoff time.Time) ([]types.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_url, status, error_kind, error_message, created_at, updated_at
		 FROM jobs WHERE status = ? AND updated_at < ? ORDER BY updated_at`,
		string(status), cutoff.UTC().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []types.Job
	for rows.Next() {
		var job types.Job
		var st string
		var created, updated int64
		if err := rows.Scan(&job.ID, &job.SourceURL, &st, &job.ErrorKind, &job.ErrorMessage, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		job.Status = types.JobStatus(st)
		job.CreatedAt = fromMillis(created)
		job.UpdatedAt = fromMillis(updated)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *SQLite) CountJobsByStatus(ctx context.Context) (map[types.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[types.JobStatus]int, len(types.AllJobStatuses))
	for _, st := range types.AllJobStatuses {
		counts[st] = 0
	}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[types.JobStatus(st)] = n
	}
	return counts, rows.Err()
}

func (s *SQLite) GetVideo(ctx context.Context, sourceURL string) (*types.Video, error) {
	var v types.Video
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT source_url, video_id, title, channel, description, duration_seconds,
		        transcript, transcript_source, updated_at
		 FROM videos WHERE source_url = ?`, sourceURL,
	).Scan(&v.SourceURL, &v.VideoID, &v.Title, &v.Channel, &v.Description, &v.DurationSeconds,
		&v.Transcript, &v.TranscriptSource, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	v.UpdatedAt = fromMillis(updated)
	return &v, nil
}

// sqlExecer is satisfied by both *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const sqliteUpsertVideo = `
INSERT INTO videos (source_url, video_id, title, channel, description, duration_seconds,
                    transcript, transcript_source, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (source_url) DO UPDATE SET
  video_id = CASE WHEN excluded.video_id <> '' THEN excluded.video_id ELSE videos.video_id END,
  title = CASE WHEN excluded.title <> '' THEN excluded.title ELSE videos.title END,
  channel = CASE WHEN excluded.channel <> '' THEN excluded.channel ELSE videos.channel END,
  description = CASE WHEN excluded.description <> '' THEN excluded.description ELSE videos.description END,
  duration_seconds = CASE WHEN excluded.duration_seconds > 0 THEN excluded.duration_seconds ELSE videos.duration_seconds END,
  transcript_source = CASE WHEN excluded.transcript <> '' THEN excluded.transcript_source ELSE videos.transcript_source END,
  transcript = CASE WHEN excluded.transcript <> '' THEN excluded.transcript ELSE videos.transcript END,
  updated_at = excluded.updated_at`

func (s *SQLite) upsertVideo(ctx context.Context, ex sqlExecer, v *types.Video) error {
	_, err := ex.ExecContext(ctx, sqliteUpsertVideo,
		v.SourceURL, v.VideoID, v.Title, v.Channel, v.Description, v.DurationSeconds,
		v.Transcript, v.TranscriptSource, s.stamp(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert video: %w", err)
	}
	return nil
}

func (s *SQLite) UpsertVideo(ctx context.Context, v *types.Video) error {
	return s.upsertVideo(ctx, s.db, v)
}

func (s *SQLite) GetAnalysis(ctx context.Context, jobID string) (*types.Analysis, error) {
	var a types.Analysis
	var id, created, updated int64
	var bullets, outline, signals string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, job_id, source_url, one_liner, bullet_points, outline, trust_score, trust_signals,
		        language, language_code, model, created_at, updated_at
		 FROM analyses WHERE job_id = ?`, jobID,
	).Scan(&id, &a.JobID, &a.SourceURL, &a.OneLiner, &bullets, &outline, &a.TrustScore, &signals,
		&a.Language, &a.LanguageCode, &a.Model, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)

	for dst, raw := range map[*[]string]string{&a.BulletPoints: bullets, &a.Outline: outline, &a.TrustSignals: signals} {
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return nil, fmt.Errorf("failed to decode analysis lists: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.text, c.confidence, s.url, s.summary, s.verdict
		 FROM claims c LEFT JOIN spot_checks s ON s.claim_id = c.id
		 WHERE c.analysis_id = ?
		 ORDER BY c.position, s.position`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get claims: %w", err)
	}
	defer func() { _ = rows.Close() }()

	a.Claims = []types.Claim{}
	lastClaim := int64(-1)
	for rows.Next() {
		var claimID int64
		var text string
		var confidence int
		var url, summary, verdict sql.NullString
		if err := rows.Scan(&claimID, &text, &confidence, &url, &summary, &verdict); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		if claimID != lastClaim {
			a.Claims = append(a.Claims, types.Claim{Text: text, Confidence: confidence, SpotChecks: []types.SpotCheck{}})
			lastClaim = claimID
		}
		if url.Valid {
			c := &a.Claims[len(a.Claims)-1]
			c.SpotChecks = append(c.SpotChecks, types.SpotCheck{URL: url.String, Summary: summary.String, Verdict: verdict.String})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claims: %w", err)
	}
	return &a, nil
}

func (s *SQLite) CompleteJob(ctx context.Context, jobID string, v *types.Video, a *types.Analysis) error {
	bullets, outline, signals, err := encodeLists(a)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.stamp()
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = 'COMPLETED', error_kind = '', error_message = '', updated_at = ?
		 WHERE id = ? AND status = 'RUNNING'`, now, jobID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		job, err := getJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return ErrNotFound
		}
		return ErrTransitionConflict
	}

	if err := s.upsertVideo(ctx, tx, v); err != nil {
		return err
	}

	var analysisID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO analyses (job_id, source_url, one_liner, bullet_points, outline, trust_score, trust_signals,
		                       language, language_code, model, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (job_id) DO UPDATE SET
		   source_url = excluded.source_url,
		   one_liner = excluded.one_liner,
		   bullet_points = excluded.bullet_points,
		   outline = excluded.outline,
		   trust_score = excluded.trust_score,
		   trust_signals = excluded.trust_signals,
		   language = excluded.language,
		   language_code = excluded.language_code,
		   model = excluded.model,
		   updated_at = excluded.updated_at
		 RETURNING id`,
		jobID, v.SourceURL, a.OneLiner, string(bullets), string(outline), a.TrustScore, string(signals),
		a.Language, a.LanguageCode, a.Model, now, now,
	).Scan(&analysisID)
	if err != nil {
		return fmt.Errorf("failed to upsert analysis: %w", err)
	}

	// Replace claims wholesale; spot checks go with them via ON DELETE CASCADE.
	if _, err := tx.ExecContext(ctx, `DELETE FROM claims WHERE analysis_id = ?`, analysisID); err != nil {
		return fmt.Errorf("failed to delete claims: %w", err)
	}
	for i, c := range a.Claims {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO claims (analysis_id, position, text, confidence) VALUES (?, ?, ?, ?)`,
			analysisID, i, c.Text, c.Confidence)
		if err != nil {
			return fmt.Errorf("failed to insert claim: %w", err)
		}
		claimID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read claim id: %w", err)
		}
		for j, sc := range c.SpotChecks {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO spot_checks (claim_id, position, url, summary, verdict) VALUES (?, ?, ?, ?, ?)`,
				claimID, j, sc.URL, sc.Summary, sc.Verdict); err != nil {
				return fmt.Errorf("failed to insert spot check: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// encodeLists marshals the list columns of an analysis. Nil slices are
// stored as empty arrays.
func encodeLists(a *types.Analysis) (bullets, outline, signals []byte, err error) {
	enc := func(list []string) ([]byte, error) {
		if list == nil {
			list = []string{}
		}
		return json.Marshal(list)
	}
	if bullets, err = enc(a.BulletPoints); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode bullet points: %w", err)
	}
	if outline, err = enc(a.Outline); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode outline: %w", err)
	}
	if signals, err = enc(a.TrustSignals); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode trust signals: %w", err)
	}
	return bullets, outline, signals, nil
}
