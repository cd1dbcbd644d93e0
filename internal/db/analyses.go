package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/tubetrust/internal/store"
	"github.com/jonathan/tubetrust/internal/types"
)

// GetAnalysis retrieves the analysis for a job with its claims and spot checks
func (db *DB) GetAnalysis(ctx context.Context, jobID string) (*types.Analysis, error) {
	var a types.Analysis
	var analysisID int64
	var bullets, outline, signals []byte

	err := db.pool.QueryRow(ctx,
		`SELECT id, job_id, source_url, one_liner, bullet_points, outline, trust_score, trust_signals,
		        language, language_code, model, created_at, updated_at
		 FROM analyses WHERE job_id = $1`,
		jobID,
	).Scan(&analysisID, &a.JobID, &a.SourceURL, &a.OneLiner, &bullets, &outline, &a.TrustScore, &signals,
		&a.Language, &a.LanguageCode, &a.Model, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	if err := json.Unmarshal(bullets, &a.BulletPoints); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bullet points: %w", err)
	}
	if err := json.Unmarshal(outline, &a.Outline); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outline: %w", err)
	}
	if err := json.Unmarshal(signals, &a.TrustSignals); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trust signals: %w", err)
	}

	claims, err := db.getClaims(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	a.Claims = claims
	return &a, nil
}

func (db *DB) getClaims(ctx context.Context, analysisID int64) ([]types.Claim, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT c.id, c.text, c.confidence, s.url, s.summary, s.verdict
		 FROM claims c
		 LEFT JOIN spot_checks s ON s.claim_id = c.id
		 WHERE c.analysis_id = $1
		 ORDER BY c.position, s.position`,
		analysisID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get claims: %w", err)
	}
	defer rows.Close()

	claims := []types.Claim{}
	lastID := int64(-1)
	for rows.Next() {
		var claimID int64
		var text string
		var confidence int
		var url, summary, verdict *string
		if err := rows.Scan(&claimID, &text, &confidence, &url, &summary, &verdict); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		if claimID != lastID {
			claims = append(claims, types.Claim{Text: text, Confidence: confidence, SpotChecks: []types.SpotCheck{}})
			lastID = claimID
		}
		if url != nil {
			c := &claims[len(claims)-1]
			c.SpotChecks = append(c.SpotChecks, types.SpotCheck{URL: *url, Summary: deref(summary), Verdict: deref(verdict)})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claims: %w", err)
	}
	return claims, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// CompleteJob persists a finished run in a single transaction: the video is
// upserted, the analysis is created or replaced in place, its claims and
// spot checks are deleted and recreated, and the job moves RUNNING -> COMPLETED.
func (db *DB) CompleteJob(ctx context.Context, jobID string, v *types.Video, a *types.Analysis) error {
	bullets, err := marshalList(a.BulletPoints)
	if err != nil {
		return fmt.Errorf("failed to marshal bullet points: %w", err)
	}
	outline, err := marshalList(a.Outline)
	if err != nil {
		return fmt.Errorf("failed to marshal outline: %w", err)
	}
	signals, err := marshalList(a.TrustSignals)
	if err != nil {
		return fmt.Errorf("failed to marshal trust signals: %w", err)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET status = 'COMPLETED', error_kind = '', error_message = '', updated_at = NOW()
		 WHERE id = $1 AND status = 'RUNNING'`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.missingOrConflict(ctx, tx, jobID)
	}

	if err := upsertVideo(ctx, tx, v); err != nil {
		return err
	}

	var analysisID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO analyses (job_id, source_url, one_liner, bullet_points, outline, trust_score,
		                       trust_signals, language, language_code, model)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (job_id) DO UPDATE SET
		   source_url = EXCLUDED.source_url,
		   one_liner = EXCLUDED.one_liner,
		   bullet_points = EXCLUDED.bullet_points,
		   outline = EXCLUDED.outline,
		   trust_score = EXCLUDED.trust_score,
		   trust_signals = EXCLUDED.trust_signals,
		   language = EXCLUDED.language,
		   language_code = EXCLUDED.language_code,
		   model = EXCLUDED.model,
		   updated_at = NOW()
		 RETURNING id`,
		jobID, v.SourceURL, a.OneLiner, bullets, outline, a.TrustScore,
		signals, a.Language, a.LanguageCode, a.Model,
	).Scan(&analysisID)
	if err != nil {
		return fmt.Errorf("failed to upsert analysis: %w", err)
	}

	// Spot checks cascade with their claims.
	if _, err := tx.Exec(ctx, `DELETE FROM claims WHERE analysis_id = $1`, analysisID); err != nil {
		return fmt.Errorf("failed to delete claims: %w", err)
	}

	for i, c := range a.Claims {
		var claimID int64
		err := tx.QueryRow(ctx,
			`INSERT INTO claims (analysis_id, position, text, confidence)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			analysisID, i, c.Text, c.Confidence,
		).Scan(&claimID)
		if err != nil {
			return fmt.Errorf("failed to insert claim: %w", err)
		}

		for j, sc := range c.SpotChecks {
			_, err := tx.Exec(ctx,
				`INSERT INTO spot_checks (claim_id, position, url, summary, verdict)
				 VALUES ($1, $2, $3, $4, $5)`,
				claimID, j, sc.URL, sc.Summary, sc.Verdict,
			)
			if err != nil {
				return fmt.Errorf("failed to insert spot check: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func marshalList(list []string) ([]byte, error) {
	if list == nil {
		list = []string{}
	}
	return json.Marshal(list)
}

var _ store.Store = (*DB)(nil)
