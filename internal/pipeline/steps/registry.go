// Package steps provides the carousel step definitions, their declared state
// keys, and the per-post pipeline assembled from them.
package steps

import (
	"fmt"
)

// State keys shared by the carousel steps.
const (
	KeyCandidate        = "candidate"
	KeyPostID           = "post_id"
	KeyInputMode        = "input_mode"
	KeyJobID            = "job_id"
	KeyStyleReference   = "style_reference"
	KeyPersonaReference = "persona_reference"
	KeyCurrentPost      = "current_post"
	KeyHasStyleRef      = "has_style_reference"
	KeyHasPersonaRef    = "has_persona_reference"
	KeyContentAnalysis  = "content_analysis"
	KeyCreativeBrief    = "creative_brief"
	KeyArtStyle         = "art_style"
	KeyTextPlacement    = "text_placement"
	KeyCarouselStyle    = "carousel_style"
	KeyCopyContent      = "copy_content"
	KeyImagePrompts     = "image_prompts"
	KeyFormattedPrompts = "formatted_prompts"
	KeyGeneratedImages  = "generated_images"
	KeyOutputDir        = "output_dir"
	KeyUploadResults    = "upload_results"
	KeyUploadURLs       = "upload_urls"
	KeyFolderURL        = "folder_url"
	KeySheetWritten     = "sheet_written"
	keySlidePrompt      = "temp:slide_prompt"
)

// SeedKeys are the keys every iteration's State starts with.
var SeedKeys = []string{KeyCandidate, KeyPostID, KeyInputMode}

// Step names.
const (
	StepSelectPost        = "select_post"
	StepContentAnalysis   = "content_analysis"
	StepCreativeDirection = "creative_direction"
	StepApplyBrief        = "apply_brief"
	StepCopywriting       = "copywriting"
	StepPromptEngineering = "prompt_engineering"
	StepFormatPrompts     = "format_prompts"
	StepGenerateImages    = "generate_images"
	StepSaveLocal         = "save_local"
	StepUploadImages      = "upload_images"
	StepWriteSheet        = "write_sheet"
)

// Step categories.
const (
	CategorySelection = "selection"
	CategoryCreative  = "creative"
	CategoryImages    = "images"
	CategoryFinalize  = "finalize"
)

// Stage names.
const (
	StagePost     = "carousel_post"
	StageCreative = "creative"
	StageFinalize = "finalize"
)

// StepDefinition defines metadata for a pipeline step
type StepDefinition struct {
	Name     string
	Category string
	Kind     string // "model" or "tool"
	Reads    []string
	Writes   []string
}

// Step kinds.
const (
	KindModel = "model"
	KindTool  = "tool"
)

// Order is the execution order of the per-post pipeline.
var Order = []string{
	StepSelectPost,
	StepContentAnalysis,
	StepCreativeDirection,
	StepApplyBrief,
	StepCopywriting,
	StepPromptEngineering,
	StepFormatPrompts,
	StepGenerateImages,
	StepSaveLocal,
	StepUploadImages,
	StepWriteSheet,
}

// StepRegistry holds all step definitions
var StepRegistry = map[string]StepDefinition{
	StepSelectPost: {
		Name:     StepSelectPost,
		Category: CategorySelection,
		Kind:     KindTool,
		Reads:    []string{KeyCandidate},
		Writes:   []string{KeyCurrentPost, KeyHasStyleRef, KeyHasPersonaRef},
	},
	StepContentAnalysis: {
		Name:     StepContentAnalysis,
		Category: CategoryCreative,
		Kind:     KindModel,
		Reads:    []string{KeyCurrentPost},
		Writes:   []string{KeyContentAnalysis},
	},
	StepCreativeDirection: {
		Name:     StepCreativeDirection,
		Category: CategoryCreative,
		Kind:     KindModel,
		Reads:    []string{KeyCurrentPost, KeyContentAnalysis},
		Writes:   []string{KeyCreativeBrief},
	},
	StepApplyBrief: {
		Name:     StepApplyBrief,
		Category: CategoryCreative,
		Kind:     KindTool,
		Reads:    []string{KeyContentAnalysis, KeyCreativeBrief},
		Writes:   []string{KeyCreativeBrief, KeyArtStyle, KeyTextPlacement, KeyCarouselStyle},
	},
	StepCopywriting: {
		Name:     StepCopywriting,
		Category: CategoryCreative,
		Kind:     KindModel,
		Reads:    []string{KeyCurrentPost, KeyContentAnalysis, KeyCreativeBrief},
		Writes:   []string{KeyCopyContent},
	},
	StepPromptEngineering: {
		Name:     StepPromptEngineering,
		Category: CategoryCreative,
		Kind:     KindModel,
		Reads:    []string{KeyCreativeBrief, KeyCopyContent, KeyArtStyle, KeyTextPlacement},
		Writes:   []string{KeyImagePrompts},
	},
	StepFormatPrompts: {
		Name:     StepFormatPrompts,
		Category: CategoryCreative,
		Kind:     KindTool,
		Reads:    []string{KeyImagePrompts, KeyCreativeBrief, KeyHasStyleRef},
		Writes:   []string{KeyFormattedPrompts},
	},
	StepGenerateImages: {
		Name:     StepGenerateImages,
		Category: CategoryImages,
		Kind:     KindModel,
		Reads:    []string{KeyFormattedPrompts, KeyCreativeBrief, KeyCopyContent, KeyPostID},
		Writes:   []string{KeyGeneratedImages},
	},
	StepSaveLocal: {
		Name:     StepSaveLocal,
		Category: CategoryFinalize,
		Kind:     KindTool,
		Reads:    []string{KeyPostID, KeyCandidate, KeyCreativeBrief, KeyCopyContent, KeyFormattedPrompts, KeyGeneratedImages},
		Writes:   []string{KeyOutputDir},
	},
	StepUploadImages: {
		Name:     StepUploadImages,
		Category: CategoryFinalize,
		Kind:     KindTool,
		Reads:    []string{KeyPostID, KeyGeneratedImages},
		Writes:   []string{KeyUploadResults, KeyUploadURLs, KeyFolderURL},
	},
	StepWriteSheet: {
		Name:     StepWriteSheet,
		Category: CategoryFinalize,
		Kind:     KindTool,
		Reads:    []string{KeyPostID, KeyCandidate, KeyCopyContent, KeyCarouselStyle, KeyUploadURLs, KeyFolderURL},
		Writes:   []string{KeySheetWritten},
	},
}

// Definition returns the registered definition for name.
func Definition(name string) (StepDefinition, error) {
	def, ok := StepRegistry[name]
	if !ok {
		return StepDefinition{}, fmt.Errorf("unknown step: %s", name)
	}
	return def, nil
}

func mustDefinition(name string) StepDefinition {
	def, err := Definition(name)
	if err != nil {
		panic(err)
	}
	return def
}

// Position returns the 1-based position of name in Order, or 0 when the
// step is not part of the per-post pipeline.
func Position(name string) int {
	for i, n := range Order {
		if n == name {
			return i + 1
		}
	}
	return 0
}
