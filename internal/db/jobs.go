package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/carousel-generator/internal/jobs"
	"github.com/jonathan/carousel-generator/internal/pipeline"
)

const jobColumns = `job_id, status, input_mode, text_preview, post_id, error, summary, started_at, completed_at`

// CreateJob inserts a new job record
func (db *DB) CreateJob(ctx context.Context, rec jobs.Record) error {
	summary, err := marshalSummary(rec.Summary)
	if err != nil {
		return err
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO carousel_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.JobID, rec.Status, rec.InputMode, rec.TextPreview, rec.PostID, rec.Error,
		summary, rec.StartedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// UpdateJob stores the job's status, result and summary
func (db *DB) UpdateJob(ctx context.Context, rec jobs.Record) error {
	summary, err := marshalSummary(rec.Summary)
	if err != nil {
		return err
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE carousel_jobs
		 SET status = $2, post_id = $3, error = $4, summary = $5, completed_at = $6
		 WHERE job_id = $1`,
		rec.JobID, rec.Status, rec.PostID, rec.Error, summary, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrNotFound
	}
	return nil
}

// GetJob retrieves a job by id
func (db *DB) GetJob(ctx context.Context, jobID string) (*jobs.Record, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM carousel_jobs WHERE job_id = $1`, jobID)
	rec, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, jobs.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return rec, nil
}

// ListJobs returns the latest jobs, newest first
func (db *DB) ListJobs(ctx context.Context, limit int) ([]jobs.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM carousel_jobs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []jobs.Record
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// MarkStaleJobs fails every job still marked running
func (db *DB) MarkStaleJobs(ctx context.Context, message string) (int, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE carousel_jobs
		 SET status = $1, error = $2, completed_at = NOW()
		 WHERE status = $3`,
		jobs.StatusError, message, jobs.StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (*jobs.Record, error) {
	var rec jobs.Record
	var summary []byte
	var completedAt *time.Time
	if err := row.Scan(&rec.JobID, &rec.Status, &rec.InputMode, &rec.TextPreview,
		&rec.PostID, &rec.Error, &summary, &rec.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	rec.CompletedAt = completedAt
	if len(summary) > 0 {
		var s pipeline.BatchSummary
		if err := json.Unmarshal(summary, &s); err == nil {
			rec.Summary = &s
		}
	}
	return &rec, nil
}

func marshalSummary(s *pipeline.BatchSummary) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal summary: %w", err)
	}
	return data, nil
}
