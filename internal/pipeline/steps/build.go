package steps

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jonathan/carousel-generator/internal/pipeline"
	"github.com/jonathan/carousel-generator/internal/sheets"
	"github.com/jonathan/carousel-generator/internal/storage"
)

// Collaborators are the external services the per-post pipeline calls.
type Collaborators struct {
	Model    pipeline.Model
	Files    *storage.FileStore // optional; save_local is skipped without it
	Uploader storage.Uploader
	Sink     sheets.Sink
}

// Options tune the per-post pipeline.
type Options struct {
	ImageCount        int
	MaxParallelImages int
	OverlayFallback   bool
	// Style returns the suffix appended to every image prompt. It is read
	// once per post so updates apply to the next post.
	Style      func() string
	ToolRetry  pipeline.RetryPolicy
	ModelRetry pipeline.RetryPolicy
	Hooks      []pipeline.Hook
	Logger     zerolog.Logger
}

// DefaultOptions returns ten slides, ten concurrent image calls, overlay
// fallback on, and three tool attempts.
func DefaultOptions() Options {
	return Options{
		ImageCount:        10,
		MaxParallelImages: 10,
		OverlayFallback:   true,
		ToolRetry:         pipeline.DefaultToolRetry(),
		ModelRetry:        pipeline.NoRetry(),
		Logger:            zerolog.Nop(),
	}
}

// BuildPostPipeline assembles the abort-on-failure per-post stage:
//
//	select_post
//	creative:  content_analysis, creative_direction, apply_brief,
//	           copywriting, prompt_engineering, format_prompts
//	generate_images
//	finalize:  save_local, upload_images, write_sheet
//
// Every leaf step is instrumented with opts.Hooks.
func BuildPostPipeline(c Collaborators, opts Options) (*pipeline.Sequential, error) {
	if c.Model == nil {
		return nil, errors.New("steps: model is required")
	}
	if c.Uploader == nil {
		return nil, errors.New("steps: uploader is required")
	}
	if c.Sink == nil {
		return nil, errors.New("steps: sheet sink is required")
	}
	if opts.ImageCount < 1 || opts.ImageCount > 10 {
		return nil, fmt.Errorf("steps: image count must be between 1 and 10, got %d", opts.ImageCount)
	}

	instrument := func(s pipeline.Step) pipeline.Step {
		return pipeline.Instrument(s, opts.Hooks...)
	}

	analysis, err := NewContentAnalysisStep(c.Model, opts)
	if err != nil {
		return nil, err
	}
	direction, err := NewCreativeDirectionStep(c.Model, opts)
	if err != nil {
		return nil, err
	}
	copywriting, err := NewCopywritingStep(c.Model, opts)
	if err != nil {
		return nil, err
	}
	engineering, err := NewPromptEngineeringStep(c.Model, opts)
	if err != nil {
		return nil, err
	}

	creative := pipeline.NewSequential(StageCreative, pipeline.AbortOnFailure,
		instrument(analysis),
		instrument(direction),
		instrument(NewApplyBriefStep()),
		instrument(copywriting),
		instrument(engineering),
		instrument(NewFormatPromptsStep()),
	)

	var finalizeSteps []pipeline.Step
	if c.Files != nil {
		finalizeSteps = append(finalizeSteps, instrument(NewSaveLocalStep(c.Files)))
	}
	finalizeSteps = append(finalizeSteps,
		instrument(NewUploadImagesStep(c.Uploader)),
		instrument(NewWriteSheetStep(c.Sink, opts.ToolRetry)),
	)
	finalize := pipeline.NewSequential(StageFinalize, pipeline.AbortOnFailure, finalizeSteps...)

	post := pipeline.NewSequential(StagePost, pipeline.AbortOnFailure,
		instrument(NewSelectPostStep()),
		creative,
		instrument(NewImageStage(c.Model, opts)),
		finalize,
	)

	if err := pipeline.ValidateWiring(SeedKeys, post); err != nil {
		return nil, err
	}
	return post, nil
}
