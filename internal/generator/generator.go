// Package generator runs one carousel batch: fetch candidates, filter them,
// and drive the per-post pipeline over them one at a time.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonathan/carousel-generator/internal/pipeline"
	"github.com/jonathan/carousel-generator/internal/pipeline/steps"
	"github.com/jonathan/carousel-generator/internal/sheets"
	"github.com/jonathan/carousel-generator/internal/storage"
	"github.com/jonathan/carousel-generator/internal/types"
)

// MaxBatchSize caps how many posts one batch may generate.
const MaxBatchSize = 100

// DefaultStyle is the suffix appended to every image prompt until replaced.
const DefaultStyle = "pastel colors, soft lighting, elegant, clean style, 3d render, high detail, 3d plasticine"

var (
	// ErrNoCandidates is returned when no fetched post passes the filter.
	ErrNoCandidates = errors.New("no posts matched the virality and engagement filters")
	// ErrEmptyText is returned for a text-mode run without text.
	ErrEmptyText = errors.New("text is required")
	// ErrNoSource is returned for a sheet-mode run without a configured sheet.
	ErrNoSource = errors.New("no sheet source configured")
)

// Style holds the image prompt suffix. It is safe for concurrent use.
type Style struct {
	mu    sync.RWMutex
	value string
}

// NewStyle returns a Style holding initial.
func NewStyle(initial string) *Style {
	return &Style{value: initial}
}

// Get returns the current suffix.
func (s *Style) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set replaces the suffix used by subsequent posts.
func (s *Style) Set(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = strings.TrimSpace(v)
}

// Config wires a Generator.
type Config struct {
	Source        sheets.Source
	Filter        sheets.Filter
	Collaborators steps.Collaborators
	Options       steps.Options
	// Recorder stores per-step artifacts after every iteration; optional.
	Recorder steps.ArtifactRecorder
	Style    *Style
	// BatchSize is the default iteration cap; zero means every candidate.
	BatchSize int
	Logger    zerolog.Logger
}

// Generator runs batches.
type Generator struct {
	source    sheets.Source
	filter    sheets.Filter
	collab    steps.Collaborators
	opts      steps.Options
	recorder  steps.ArtifactRecorder
	style     *Style
	batchSize int
	logger    zerolog.Logger
	now       func() time.Time
}

// New validates cfg and returns a Generator.
func New(cfg Config) (*Generator, error) {
	if cfg.Collaborators.Model == nil || cfg.Collaborators.Uploader == nil || cfg.Collaborators.Sink == nil {
		return nil, errors.New("generator: model, uploader and sheet sink are required")
	}
	if cfg.Options.ImageCount == 0 {
		cfg.Options = steps.DefaultOptions()
	}
	if cfg.Style == nil {
		cfg.Style = NewStyle(DefaultStyle)
	}
	if len(cfg.Filter.Virality) == 0 && len(cfg.Filter.Engagement) == 0 {
		cfg.Filter = sheets.DefaultFilter()
	}
	return &Generator{
		source:    cfg.Source,
		filter:    cfg.Filter,
		collab:    cfg.Collaborators,
		opts:      cfg.Options,
		recorder:  cfg.Recorder,
		style:     cfg.Style,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger.With().Str("component", "generator").Logger(),
		now:       time.Now,
	}, nil
}

// Style returns the shared prompt suffix setting.
func (g *Generator) Style() *Style { return g.style }

// Request describes one batch.
type Request struct {
	JobID     string
	InputMode string // types.InputModeSheet or types.InputModeText
	Text      string
	// MaxPosts overrides the configured batch size when positive.
	MaxPosts         int
	StyleReference   *types.Reference
	PersonaReference *types.Reference
	Progress         pipeline.ProgressCallback
}

// Candidates fetches the sheet and returns the posts passing the filter.
func (g *Generator) Candidates(ctx context.Context) ([]types.CandidatePost, error) {
	if g.source == nil {
		return nil, ErrNoSource
	}
	posts, err := g.source.FetchPosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch posts: %w", err)
	}
	filtered := g.filter.Apply(posts)
	g.logger.Info().Int("fetched", len(posts)).Int("matched", len(filtered)).Msg("filtered candidates")
	return filtered, nil
}

// Run executes one batch and returns its summary. Errors are returned only
// for failures before the first iteration; iteration failures are recorded
// in the summary.
func (g *Generator) Run(ctx context.Context, req Request) (*pipeline.BatchSummary, error) {
	mode := req.InputMode
	if mode == "" {
		mode = types.InputModeSheet
	}

	var candidates []types.CandidatePost
	switch mode {
	case types.InputModeText:
		if strings.TrimSpace(req.Text) == "" {
			return nil, ErrEmptyText
		}
		candidates = []types.CandidatePost{TextCandidate(req.Text)}
	case types.InputModeSheet:
		var err error
		candidates, err = g.Candidates(ctx)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, ErrNoCandidates
		}
	default:
		return nil, fmt.Errorf("unknown input mode %q", mode)
	}

	opts := g.opts
	opts.Style = g.style.Get
	opts.Logger = g.logger
	opts.Hooks = append([]pipeline.Hook{pipeline.LogHook(g.logger)}, opts.Hooks...)
	if req.Progress != nil {
		opts.Hooks = append(opts.Hooks, pipeline.ProgressHook(req.Progress))
	}
	post, err := steps.BuildPostPipeline(g.collab, opts)
	if err != nil {
		return nil, err
	}

	logger := g.logger.With().Str("job_id", req.JobID).Str("input_mode", mode).Logger()
	loop := &pipeline.BatchLoop{
		MaxIterations: BatchLimit(req.MaxPosts, g.batchSize),
		Stage:         post,
		Logger:        logger,
		Seed: func(_ int, c types.CandidatePost) *pipeline.State {
			return g.seed(mode, c, req)
		},
		Collect: func(state *pipeline.State, outcome *pipeline.IterationOutcome) {
			g.collect(ctx, req.JobID, state, outcome)
		},
		OnOutcome: func(outcome pipeline.IterationOutcome) {
			if req.Progress == nil {
				return
			}
			event := pipeline.ProgressEvent{Step: "iteration", Status: outcome.Status, PostID: outcome.PostID}
			if outcome.Error != "" {
				event.Message = outcome.Error
			}
			req.Progress(event)
		},
	}

	logger.Info().Int("candidates", len(candidates)).Int("max", loop.MaxIterations).Msg("batch started")
	summary := loop.Execute(ctx, candidates)
	logger.Info().
		Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Msg("batch finished")
	return summary, nil
}

// BatchLimit resolves the iteration cap: the request override when positive,
// then the configured size, with zero meaning all, capped at MaxBatchSize.
func BatchLimit(requested, configured int) int {
	n := configured
	if requested > 0 {
		n = requested
	}
	if n <= 0 || n > MaxBatchSize {
		return MaxBatchSize
	}
	return n
}

// TextCandidate builds the synthetic candidate for a text-mode run.
func TextCandidate(text string) types.CandidatePost {
	return types.CandidatePost{
		ID:         "text",
		ScriptText: strings.TrimSpace(text),
	}
}

// PostID returns post_<row>_<timestamp>, or text_<timestamp> in text mode.
func PostID(mode string, c types.CandidatePost, now time.Time) string {
	ts := now.Format(storage.TimestampLayout)
	if mode == types.InputModeText {
		return "text_" + ts
	}
	return fmt.Sprintf("post_%d_%s", c.RowIndex, ts)
}

func (g *Generator) seed(mode string, c types.CandidatePost, req Request) *pipeline.State {
	state := pipeline.NewState()
	state.Set(steps.KeyCandidate, pipeline.Object(c))
	state.Set(steps.KeyPostID, pipeline.Text(PostID(mode, c, g.now())))
	state.Set(steps.KeyInputMode, pipeline.Text(mode))
	if req.JobID != "" {
		state.Set(steps.KeyJobID, pipeline.Text(req.JobID))
	}
	if ref := req.StyleReference; ref != nil && len(ref.Data) > 0 {
		state.Set(steps.KeyStyleReference, pipeline.Object(*ref))
	}
	if ref := req.PersonaReference; ref != nil && len(ref.Data) > 0 {
		state.Set(steps.KeyPersonaReference, pipeline.Object(*ref))
	}
	return state
}

func (g *Generator) collect(ctx context.Context, jobID string, state *pipeline.State, outcome *pipeline.IterationOutcome) {
	outcome.PostID = state.TextOf(steps.KeyPostID)
	outcome.OutputDir = state.TextOf(steps.KeyOutputDir)
	if urls, err := pipeline.Decode[[]string](state, steps.KeyUploadURLs); err == nil {
		outcome.UploadURLs = urls
	}

	if g.recorder == nil {
		return
	}
	artifacts := steps.CollectArtifacts(state, jobID)
	if len(artifacts) == 0 {
		return
	}
	if err := g.recorder.SaveArtifacts(ctx, artifacts); err != nil {
		g.logger.Warn().Err(err).Str("post_id", outcome.PostID).Msg("failed to save artifacts")
	}
}
