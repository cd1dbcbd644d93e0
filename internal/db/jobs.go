package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/tubetrust/internal/store"
	"github.com/jonathan/tubetrust/internal/types"
)

const jobColumns = `id, source_url, status, error_kind, error_message, created_at, updated_at`

func scanJob(row pgx.Row) (*types.Job, error) {
	var job types.Job
	var status string
	if err := row.Scan(&job.ID, &job.SourceURL, &status, &job.ErrorKind, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.Status = types.JobStatus(status)
	return &job, nil
}

// GetJob retrieves a job by ID
func (db *DB) GetJob(ctx context.Context, id string) (*types.Job, error) {
	job, err := scanJob(db.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// PutPendingJob creates the job or resets it to PENDING with its error cleared
func (db *DB) PutPendingJob(ctx context.Context, id, sourceURL string) (*types.Job, error) {
	job, err := scanJob(db.pool.QueryRow(ctx,
		`INSERT INTO jobs (id, source_url, status)
		 VALUES ($1, $2, 'PENDING')
		 ON CONFLICT (id) DO UPDATE SET
		   source_url = EXCLUDED.source_url,
		   status = 'PENDING',
		   error_kind = '',
		   error_message = '',
		   updated_at = NOW()
		 RETURNING `+jobColumns,
		id, sourceURL,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to put pending job: %w", err)
	}
	return job, nil
}

// TransitionJob moves a job between statuses with a compare-and-set update
func (db *DB) TransitionJob(ctx context.Context, id string, from, to types.JobStatus, failure *types.JobFailure) error {
	if !types.CanTransition(from, to) {
		return store.ErrInvalidTransition
	}
	kind, message := store.FailureFields(to, failure)

	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error_kind = $2, error_message = $3, updated_at = NOW()
		 WHERE id = $4 AND status = $5`,
		string(to), kind, message, id, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to transition job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return db.missingOrConflict(ctx, db.pool, id)
}

// rowQuerier is satisfied by both the pool and a transaction.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (db *DB) missingOrConflict(ctx context.Context, q rowQuerier, id string) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check job: %w", err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrTransitionConflict
}

// ListStaleJobs returns jobs in status that have not been updated since cutoff
func (db *DB) ListStaleJobs(ctx context.Context, status types.JobStatus, cutoff time.Time) ([]types.Job, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 AND updated_at < $2 ORDER BY updated_at`,
		string(status), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// CountJobsByStatus returns the number of jobs in every status
func (db *DB) CountJobsByStatus(ctx context.Context) (map[types.JobStatus]int, error) {
	rows, err := db.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.JobStatus]int, len(types.AllJobStatuses))
	for _, s := range types.AllJobStatuses {
		counts[s] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[types.JobStatus(status)] = n
	}
	return counts, rows.Err()
}
