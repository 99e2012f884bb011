package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"property-analysis/internal/domain"
)

// Sink mirrors job state transitions into a secondary backend for
// analytics. It is strictly best-effort: the store logs and swallows
// every sink error.
type Sink interface {
	RecordStart(ctx context.Context, job *domain.Job) error
	RecordProgress(ctx context.Context, jobID string, percent int) error
	RecordComplete(ctx context.Context, jobID string, outputs map[string]string) error
	RecordFailed(ctx context.Context, jobID, message string) error
}

// NopSink is used when no analytics backend is configured.
type NopSink struct{}

func (NopSink) RecordStart(context.Context, *domain.Job) error               { return nil }
func (NopSink) RecordProgress(context.Context, string, int) error            { return nil }
func (NopSink) RecordComplete(context.Context, string, map[string]string) error { return nil }
func (NopSink) RecordFailed(context.Context, string, string) error           { return nil }

// PostgresSink mirrors transitions into an analysis_jobs table.
type PostgresSink struct {
	db *sqlx.DB
}

// NewPostgresSink creates a sink over an open sqlx handle.
func NewPostgresSink(db *sqlx.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (p *PostgresSink) RecordStart(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO analysis_jobs (
			job_id, user_id, property_id, status, progress, file_count, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (job_id) DO NOTHING
	`

	_, err := p.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.UserID,
		job.PropertyID,
		job.Status,
		job.Progress,
		len(job.Files),
		job.CreatedAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record job start: %w", err)
	}

	return nil
}

func (p *PostgresSink) RecordProgress(ctx context.Context, jobID string, percent int) error {
	query := `
		UPDATE analysis_jobs
		SET progress = $1, updated_at = $2
		WHERE job_id = $3
	`

	_, err := p.db.ExecContext(ctx, query, percent, time.Now(), jobID)
	if err != nil {
		return fmt.Errorf("failed to record job progress: %w", err)
	}

	return nil
}

func (p *PostgresSink) RecordComplete(ctx context.Context, jobID string, outputs map[string]string) error {
	manifest, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("failed to marshal output manifest: %w", err)
	}

	query := `
		UPDATE analysis_jobs
		SET status = $1, progress = 100, outputs = $2, updated_at = $3
		WHERE job_id = $4
	`

	_, err = p.db.ExecContext(ctx, query, domain.JobStatusCompleted, manifest, time.Now(), jobID)
	if err != nil {
		return fmt.Errorf("failed to record job completion: %w", err)
	}

	return nil
}

func (p *PostgresSink) RecordFailed(ctx context.Context, jobID, message string) error {
	query := `
		UPDATE analysis_jobs
		SET status = $1, error = $2, updated_at = $3
		WHERE job_id = $4
	`

	_, err := p.db.ExecContext(ctx, query, domain.JobStatusFailed, message, time.Now(), jobID)
	if err != nil {
		return fmt.Errorf("failed to record job failure: %w", err)
	}

	return nil
}
