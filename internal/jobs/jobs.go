// Package jobs tracks batch runs: a single in-flight admission slot, job
// records keyed by id, and their persistence.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonathan/carousel-generator/internal/pipeline"
)

// Job statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusError    = "error"
)

// RestartMessage is recorded on jobs found running at startup.
const RestartMessage = "Server restarted during generation"

const (
	maxErrorLen   = 500
	maxPreviewLen = 100
)

// ErrNotFound is returned for unknown job ids.
var ErrNotFound = errors.New("job not found")

// AlreadyRunningError rejects a trigger while another job holds the slot.
type AlreadyRunningError struct {
	JobID string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("job %s is already running", e.JobID)
}

// Record is the externally visible state of one job.
type Record struct {
	JobID       string                 `json:"job_id"`
	Status      string                 `json:"status"`
	InputMode   string                 `json:"input_mode"`
	TextPreview string                 `json:"text_preview,omitempty"`
	PostID      string                 `json:"post_id,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Progress    string                 `json:"progress,omitempty"`
	Summary     *pipeline.BatchSummary `json:"summary,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// Terminal reports whether the job has finished.
func (r Record) Terminal() bool {
	return r.Status == StatusComplete || r.Status == StatusError
}

// Store persists job records.
type Store interface {
	CreateJob(ctx context.Context, rec Record) error
	UpdateJob(ctx context.Context, rec Record) error
	GetJob(ctx context.Context, jobID string) (*Record, error)
	ListJobs(ctx context.Context, limit int) ([]Record, error)
	// MarkStaleJobs fails every running job with message and returns how many
	// were changed.
	MarkStaleJobs(ctx context.Context, message string) (int, error)
}

// Finish applies the outcome of a batch to rec. A batch completes when at
// least one iteration succeeded; it errors when it could not start, ran no
// iterations, or every iteration failed.
func Finish(rec *Record, summary *pipeline.BatchSummary, err error, now time.Time) {
	rec.CompletedAt = &now
	rec.Summary = summary

	switch {
	case err != nil:
		rec.Status = StatusError
		rec.Error = Tail(err.Error(), maxErrorLen)
	case summary == nil || summary.Total == 0:
		rec.Status = StatusError
		rec.Error = "no posts were processed"
	case summary.Succeeded > 0:
		rec.Status = StatusComplete
		rec.PostID = summary.LastPostID()
	default:
		rec.Status = StatusError
		msg := "every post failed"
		if first := summary.FirstError(); first != nil {
			msg = first.Error()
		}
		rec.Error = Tail(msg, maxErrorLen)
	}
}

// Preview shortens submitted text for listings.
func Preview(text string) string {
	return Truncate(text, maxPreviewLen)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Tail keeps the last n runes of s. Wrapped errors put the root cause last.
func Tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
