package steps

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jonathan/carousel-generator/internal/imaging"
	"github.com/jonathan/carousel-generator/internal/pipeline"
	"github.com/jonathan/carousel-generator/internal/types"
)

func newTool(name string, fn pipeline.ToolFunc, opts ...pipeline.ToolOption) *pipeline.ToolStep {
	def := mustDefinition(name)
	return pipeline.NewToolStep(def.Name, def.Reads, def.Writes, fn, opts...)
}

// NewSelectPostStep renders the seeded candidate into the text block the
// model steps read, and flags which reference images are available.
func NewSelectPostStep() pipeline.Step {
	return newTool(StepSelectPost, func(_ context.Context, state *pipeline.State) (map[string]pipeline.Value, error) {
		post, err := pipeline.Decode[types.CandidatePost](state, KeyCandidate)
		if err != nil {
			return nil, err
		}
		if post.Script() == "" {
			return nil, fmt.Errorf("candidate %s has no script text", post.ID)
		}
		return map[string]pipeline.Value{
			KeyCurrentPost:   pipeline.Text(post.Render()),
			KeyHasStyleRef:   pipeline.Text(strconv.FormatBool(state.Has(KeyStyleReference))),
			KeyHasPersonaRef: pipeline.Text(strconv.FormatBool(state.Has(KeyPersonaReference))),
		}, nil
	})
}

// NewApplyBriefStep pins the carousel style to the enum and exposes the
// brief's scalar fields as text keys for later templates.
func NewApplyBriefStep() pipeline.Step {
	return newTool(StepApplyBrief, func(_ context.Context, state *pipeline.State) (map[string]pipeline.Value, error) {
		analysis, err := pipeline.Decode[types.ContentAnalysis](state, KeyContentAnalysis)
		if err != nil {
			return nil, err
		}
		brief, err := pipeline.Decode[types.CreativeBrief](state, KeyCreativeBrief)
		if err != nil {
			return nil, err
		}

		brief.CarouselStyle = types.ParseCarouselStyle(string(brief.CarouselStyle), analysis.IsStory)
		brief.TextPlacement = brief.Placement()
		brief.ArtStyle = strings.TrimSpace(brief.ArtStyle)
		if brief.ArtStyle == "" {
			brief.ArtStyle = "a clean flat illustration"
		}

		return map[string]pipeline.Value{
			KeyCreativeBrief: pipeline.Object(brief),
			KeyArtStyle:      pipeline.Text(brief.ArtStyle),
			KeyTextPlacement: pipeline.Text(brief.TextPlacement),
			KeyCarouselStyle: pipeline.Text(string(brief.CarouselStyle)),
		}, nil
	})
}

var createPrefix = regexp.MustCompile(`(?i)^create\s+[^,]+,\s*`)

// FormatPrompt forces a prompt to open with the brief's art style and spells
// hex colours out as names.
func FormatPrompt(prompt, artStyle string) string {
	p := imaging.ReplaceHexCodes(strings.TrimSpace(prompt))
	if artStyle == "" {
		return p
	}
	if loc := createPrefix.FindStringIndex(p); loc != nil {
		p = p[loc[1]:]
	}
	return fmt.Sprintf("Create %s, %s", artStyle, p)
}

// NewFormatPromptsStep normalizes the engineered prompts. With a style
// reference image the prompts pass through unchanged, since the reference
// carries the style.
func NewFormatPromptsStep() pipeline.Step {
	return newTool(StepFormatPrompts, func(_ context.Context, state *pipeline.State) (map[string]pipeline.Value, error) {
		prompts, err := pipeline.Decode[[]types.ImagePrompt](state, KeyImagePrompts)
		if err != nil {
			return nil, err
		}
		brief, err := pipeline.Decode[types.CreativeBrief](state, KeyCreativeBrief)
		if err != nil {
			return nil, err
		}

		out := make([]types.ImagePrompt, len(prompts))
		copy(out, prompts)
		if state.TextOf(KeyHasStyleRef) != "true" {
			for i := range out {
				out[i].Prompt = FormatPrompt(out[i].Prompt, brief.ArtStyle)
			}
		}
		return map[string]pipeline.Value{KeyFormattedPrompts: pipeline.Object(out)}, nil
	})
}
