package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ArtifactRow is a stored step output.
type ArtifactRow struct {
	ID        uuid.UUID       `json:"id"`
	JobID     string          `json:"job_id"`
	PostID    string          `json:"post_id"`
	Step      string          `json:"step"`
	Key       string          `json:"key"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}
