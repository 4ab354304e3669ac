package steps

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/jonathan/carousel-generator/internal/llm"
	"github.com/jonathan/carousel-generator/internal/pipeline"
	"github.com/jonathan/carousel-generator/internal/prompts"
	"github.com/jonathan/carousel-generator/internal/schemas"
	"github.com/jonathan/carousel-generator/internal/types"
)

func newModelStep(name, promptKey string, schema llm.ExtractionSchema, parse pipeline.ParseFunc, model pipeline.Model, opts Options) (pipeline.Step, error) {
	template, err := prompts.Carousel(promptKey, opts.ImageCount)
	if err != nil {
		return nil, fmt.Errorf("load %s prompt: %w", name, err)
	}
	def := mustDefinition(name)
	for _, key := range prompts.Placeholders(template) {
		if !slices.Contains(def.Reads, key) {
			return nil, fmt.Errorf("%s prompt refers to %q, which the step does not read", name, key)
		}
	}
	return pipeline.NewModelStep(pipeline.ModelStepConfig{
		Name:        def.Name,
		Instruction: llm.BuildStructuredPrompt(schema, template),
		Reads:       def.Reads,
		Output:      def.Writes[0],
		Shape:       llm.ShapeJSON,
		Tier:        llm.TierStandard,
		Model:       model,
		Parse:       parse,
		Transport:   opts.ModelRetry,
	}), nil
}

// NewContentAnalysisStep asks the model what the post is about and whether
// it tells a story.
func NewContentAnalysisStep(model pipeline.Model, opts Options) (pipeline.Step, error) {
	parse := pipeline.ParseJSON(schemas.Validator(schemas.ContentAnalysis), func(a *types.ContentAnalysis) error {
		a.Topic = strings.TrimSpace(a.Topic)
		a.Tone = strings.TrimSpace(a.Tone)
		return nil
	})
	return newModelStep(StepContentAnalysis, prompts.KeyContentAnalysis, llm.ContentAnalysisSchema(), parse, model, opts)
}

// NewCreativeDirectionStep produces the creative brief.
func NewCreativeDirectionStep(model pipeline.Model, opts Options) (pipeline.Step, error) {
	parse := pipeline.ParseJSON[types.CreativeBrief](schemas.Validator(schemas.CreativeBrief), nil)
	return newModelStep(StepCreativeDirection, prompts.KeyCreativeDirection, llm.CreativeBriefSchema(), parse, model, opts)
}

// NewCopywritingStep writes the title, caption, hashtags and one text per slide.
func NewCopywritingStep(model pipeline.Model, opts Options) (pipeline.Step, error) {
	n := opts.ImageCount
	parse := pipeline.ParseJSON(schemas.Validator(schemas.CopyContent), func(c *types.CopyContent) error {
		return normalizeCopy(c, n)
	})
	return newModelStep(StepCopywriting, prompts.KeyCopywriting, llm.CopySchema(n), parse, model, opts)
}

// NewPromptEngineeringStep writes one image prompt per slide.
func NewPromptEngineeringStep(model pipeline.Model, opts Options) (pipeline.Step, error) {
	n := opts.ImageCount
	parse := pipeline.ParseJSON(schemas.Validator(schemas.ImagePrompts), func(p *[]types.ImagePrompt) error {
		return normalizePrompts(p, n)
	})
	return newModelStep(StepPromptEngineering, prompts.KeyPromptEngineering, llm.ImagePromptsSchema(n), parse, model, opts)
}

func normalizeCopy(c *types.CopyContent, n int) error {
	if len(c.ImageTexts) < n {
		return fmt.Errorf("expected %d slide texts, got %d", n, len(c.ImageTexts))
	}
	c.ImageTexts = c.ImageTexts[:n]
	for i, t := range c.ImageTexts {
		c.ImageTexts[i] = strings.TrimSpace(t)
	}

	tags := c.Hashtags[:0]
	for _, h := range c.Hashtags {
		h = strings.TrimPrefix(strings.TrimSpace(h), "#")
		if h != "" {
			tags = append(tags, h)
		}
	}
	c.Hashtags = tags
	return nil
}

// normalizePrompts orders prompts by slide index. When the indexes are not
// exactly 0..n-1 the model's list order is used instead.
func normalizePrompts(p *[]types.ImagePrompt, n int) error {
	list := *p
	if len(list) < n {
		return fmt.Errorf("expected %d image prompts, got %d", n, len(list))
	}

	seen := make(map[int]bool, len(list))
	valid := true
	for _, ip := range list {
		if ip.Index < 0 || ip.Index >= len(list) || seen[ip.Index] {
			valid = false
			break
		}
		seen[ip.Index] = true
	}
	if valid {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Index < list[j].Index })
	}
	list = list[:n]
	for i := range list {
		list[i].Index = i
	}
	*p = list
	return nil
}
