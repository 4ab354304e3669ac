package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/carousel-generator/internal/pipeline/steps"
)

// SaveArtifacts upserts step outputs in one batch. A later save for the same
// post and key replaces the earlier one.
func (db *DB) SaveArtifacts(ctx context.Context, artifacts []steps.Artifact) error {
	if len(artifacts) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, a := range artifacts {
		batch.Queue(
			`INSERT INTO carousel_artifacts (id, job_id, post_id, step, key, content)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (post_id, key) DO UPDATE
			 SET job_id = $2, step = $4, content = $6, created_at = NOW()`,
			uuid.New(), a.JobID, a.PostID, a.Step, a.Key, []byte(a.Content),
		)
	}

	br := db.pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, a := range artifacts {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to save artifact %s/%s: %w", a.PostID, a.Key, err)
		}
	}
	return nil
}

// ListArtifacts returns the stored outputs of one post, oldest first
func (db *DB) ListArtifacts(ctx context.Context, postID string) ([]ArtifactRow, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, job_id, post_id, step, key, content, created_at
		 FROM carousel_artifacts WHERE post_id = $1 ORDER BY created_at, key`,
		postID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var out []ArtifactRow
	for rows.Next() {
		var a ArtifactRow
		var content []byte
		if err := rows.Scan(&a.ID, &a.JobID, &a.PostID, &a.Step, &a.Key, &content, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		a.Content = content
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetArtifact retrieves one post output by key
func (db *DB) GetArtifact(ctx context.Context, postID, key string) ([]byte, error) {
	var content []byte
	err := db.pool.QueryRow(ctx,
		`SELECT content FROM carousel_artifacts WHERE post_id = $1 AND key = $2`,
		postID, key,
	).Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get artifact %s: %w", key, err)
	}
	return content, nil
}
