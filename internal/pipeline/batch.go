package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonathan/carousel-generator/internal/types"
)

// Iteration statuses.
const (
	IterationSucceeded = "succeeded"
	IterationFailed    = "failed"
)

// IterationOutcome records what happened to one candidate.
type IterationOutcome struct {
	Index       int           `json:"index"`
	CandidateID string        `json:"candidate_id"`
	PostID      string        `json:"post_id,omitempty"`
	Status      string        `json:"status"`
	Step        string        `json:"step,omitempty"`
	Error       string        `json:"error,omitempty"`
	UploadURLs  []string      `json:"upload_urls,omitempty"`
	OutputDir   string        `json:"output_dir,omitempty"`
	Warnings    []ErrorEntry  `json:"warnings,omitempty"`
	Duration    time.Duration `json:"duration"`

	Err error `json:"-"`
}

// BatchSummary aggregates the outcomes of one batch run.
type BatchSummary struct {
	Total       int                `json:"total"`
	Succeeded   int                `json:"succeeded"`
	Failed      int                `json:"failed"`
	Outcomes    []IterationOutcome `json:"outcomes"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
}

// LastPostID returns the post id of the last successful iteration.
func (s *BatchSummary) LastPostID() string {
	for i := len(s.Outcomes) - 1; i >= 0; i-- {
		if s.Outcomes[i].Status == IterationSucceeded {
			return s.Outcomes[i].PostID
		}
	}
	return ""
}

// FirstError returns the first iteration failure, or nil.
func (s *BatchSummary) FirstError() error {
	for _, o := range s.Outcomes {
		if o.Err != nil {
			return o.Err
		}
	}
	return nil
}

// BatchLoop runs the per-post stage over candidates, one at a time, in order.
type BatchLoop struct {
	// MaxIterations caps the number of iterations; zero or less means no cap.
	MaxIterations int
	// Seed builds the fresh State for one candidate.
	Seed func(index int, post types.CandidatePost) *State
	// Stage is the per-post pipeline.
	Stage Step
	// Collect copies accumulated results out of the State after every
	// iteration, including failed ones.
	Collect func(state *State, outcome *IterationOutcome)
	// OnOutcome is called after each iteration is recorded.
	OnOutcome func(outcome IterationOutcome)
	Logger    zerolog.Logger
}

// Execute runs min(len(candidates), MaxIterations) iterations. A failed
// iteration is recorded and the loop moves on to the next candidate.
func (b *BatchLoop) Execute(ctx context.Context, candidates []types.CandidatePost) *BatchSummary {
	n := len(candidates)
	if b.MaxIterations > 0 && b.MaxIterations < n {
		n = b.MaxIterations
	}

	summary := &BatchSummary{
		Total:     n,
		Outcomes:  make([]IterationOutcome, 0, n),
		StartedAt: time.Now().UTC(),
	}

	for i := 0; i < n; i++ {
		outcome := b.runIteration(ctx, i, candidates[i])
		if outcome.Status == IterationSucceeded {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
		if b.OnOutcome != nil {
			b.OnOutcome(outcome)
		}
	}

	summary.CompletedAt = time.Now().UTC()
	return summary
}

func (b *BatchLoop) runIteration(ctx context.Context, index int, post types.CandidatePost) IterationOutcome {
	start := time.Now()
	outcome := IterationOutcome{Index: index, CandidateID: post.ID}
	logger := b.Logger.With().Int("iteration", index).Str("candidate_id", post.ID).Logger()

	var state *State
	if b.Seed != nil {
		state = b.Seed(index, post)
	} else {
		state = NewState()
	}

	var err error
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else {
		res := b.Stage.Execute(ctx, state)
		err = res.Err
	}

	if b.Collect != nil {
		b.Collect(state, &outcome)
	}
	outcome.Warnings = state.Errors()
	outcome.Duration = time.Since(start)

	if err != nil {
		failure := &IterationFailure{
			Index:  index,
			PostID: outcome.PostID,
			Step:   FailedStep(err),
			Err:    err,
		}
		if failure.PostID == "" {
			failure.PostID = post.ID
		}
		outcome.Status = IterationFailed
		outcome.Step = failure.Step
		outcome.Error = rootMessage(err)
		outcome.Err = failure
		logger.Error().Err(err).Str("step", failure.Step).Msg("iteration failed")
		return outcome
	}

	outcome.Status = IterationSucceeded
	logger.Info().
		Str("post_id", outcome.PostID).
		Int("uploads", len(outcome.UploadURLs)).
		Dur("duration", outcome.Duration).
		Msg("iteration completed")
	return outcome
}

// rootMessage strips stage prefixes so the recorded error reads as the
// failing step reported it.
func rootMessage(err error) string {
	for {
		var stageErr *StageError
		if !errors.As(err, &stageErr) {
			return err.Error()
		}
		err = stageErr.Err
	}
}
