package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonathan/carousel-generator/internal/imaging"
	"github.com/jonathan/carousel-generator/internal/llm"
	"github.com/jonathan/carousel-generator/internal/pipeline"
	"github.com/jonathan/carousel-generator/internal/types"
)

const maxSlideReferences = 2

// ImageStage generates one image per formatted prompt concurrently. A slide
// whose model call fails gets one overlay attempt; slides that still fail are
// kept as Failed entries at their index and reported as a
// PartialFanOutFailure in the state's error log. The stage itself only fails
// on missing inputs.
type ImageStage struct {
	def     StepDefinition
	model   pipeline.Model
	limit   int
	overlay bool
	style   func() string
	retry   pipeline.RetryPolicy
	logger  zerolog.Logger
}

// NewImageStage creates the image fan-out stage.
func NewImageStage(model pipeline.Model, opts Options) *ImageStage {
	style := opts.Style
	if style == nil {
		style = func() string { return "" }
	}
	return &ImageStage{
		def:     mustDefinition(StepGenerateImages),
		model:   model,
		limit:   opts.MaxParallelImages,
		overlay: opts.OverlayFallback,
		style:   style,
		retry:   opts.ModelRetry,
		logger:  opts.Logger,
	}
}

// Name returns the stage name.
func (s *ImageStage) Name() string { return s.def.Name }

// Reads returns the declared input keys.
func (s *ImageStage) Reads() []string { return s.def.Reads }

// Writes returns the declared output keys.
func (s *ImageStage) Writes() []string { return s.def.Writes }

// Execute runs the fan-out and writes the index-aligned images.
func (s *ImageStage) Execute(ctx context.Context, state *pipeline.State) pipeline.StepResult {
	start := time.Now()
	if err := pipeline.CheckInputs(s, state); err != nil {
		return pipeline.Failure(s.def.Name, err)
	}

	prompts, err := pipeline.Decode[[]types.ImagePrompt](state, KeyFormattedPrompts)
	if err != nil {
		return pipeline.Failure(s.def.Name, err)
	}
	brief, err := pipeline.Decode[types.CreativeBrief](state, KeyCreativeBrief)
	if err != nil {
		return pipeline.Failure(s.def.Name, err)
	}
	copyContent, err := pipeline.Decode[types.CopyContent](state, KeyCopyContent)
	if err != nil {
		return pipeline.Failure(s.def.Name, err)
	}
	postID := state.TextOf(KeyPostID)
	suffix := s.style()
	refs := references(state)

	fan := pipeline.FanOut[types.ImagePrompt, types.GeneratedImage]{
		Name:  s.def.Name,
		Limit: s.limit,
		Run: func(ctx context.Context, snapshot *pipeline.State, index int, p types.ImagePrompt) (types.GeneratedImage, error) {
			return s.generate(ctx, snapshot, index, withSuffix(p.Prompt, suffix), selectReferences(p.StyleRefs, refs))
		},
	}
	if s.overlay {
		fan.Fallback = func(_ context.Context, _ *pipeline.State, index int, p types.ImagePrompt, cause error) (types.GeneratedImage, error) {
			text := copyContent.SlideText(index)
			if text == "" {
				text = p.Text
			}
			s.logger.Warn().Err(cause).Str("post_id", postID).Int("slide", index+1).Msg("image generation failed, composing text overlay")
			return ComposeOverlay(index, text, brief, postID)
		}
	}

	slots := fan.Execute(ctx, state, prompts)
	images := make([]types.GeneratedImage, len(slots))
	fellBack := 0
	for i, slot := range slots {
		if slot.Err != nil {
			images[i] = types.FailedImage(i, slot.Err.Error())
			continue
		}
		if slot.FellBack {
			fellBack++
		}
		images[i] = slot.Value
		images[i].Index = i
	}

	event := s.logger.Info()
	if failure := pipeline.SlotFailures(s.def.Name, slots); failure != nil {
		state.RecordError(s.def.Name, failure)
		event = s.logger.Warn().Ints("failed_slides", failure.Indexes())
	}
	event.Str("post_id", postID).Int("images", len(images)).Int("overlays", fellBack).Msg("image fan-out finished")

	value := pipeline.Object(images)
	res := pipeline.Success(s.def.Name, value, map[string]pipeline.Value{KeyGeneratedImages: value})
	res.Duration = time.Since(start)
	return res
}

// generate runs an isolated model step on the slide's snapshot.
func (s *ImageStage) generate(ctx context.Context, snapshot *pipeline.State, index int, prompt string, refs []types.Reference) (types.GeneratedImage, error) {
	snapshot.Set(keySlidePrompt, pipeline.Text(prompt))
	step := pipeline.NewModelStep(pipeline.ModelStepConfig{
		Name:        fmt.Sprintf("%s[%d]", s.def.Name, index),
		Instruction: "{" + keySlidePrompt + "}",
		Reads:       []string{keySlidePrompt},
		Output:      pipeline.TempPrefix + "slide_image",
		Shape:       llm.ShapeImage,
		Tier:        llm.TierImage,
		Model:       s.model,
		Parse:       parseSlide,
		Transport:   s.retry,
		Attachments: func(*pipeline.State) []llm.Attachment {
			out := make([]llm.Attachment, len(refs))
			for i, r := range refs {
				out[i] = llm.Attachment{MIMEType: r.MIMEType, Data: r.Data}
			}
			return out
		},
	})

	res := step.Execute(ctx, snapshot)
	if !res.OK() {
		return types.GeneratedImage{}, res.Err
	}
	obj, _ := res.Output.AsObject()
	img, ok := obj.(types.GeneratedImage)
	if !ok {
		return types.GeneratedImage{}, errors.New("image step produced no image")
	}
	img.Index = index
	return img, nil
}

func parseSlide(resp *llm.Response) (pipeline.Value, error) {
	v, err := pipeline.ParseImage(resp)
	if err != nil {
		return pipeline.Value{}, err
	}
	data, _ := v.AsBlob()
	mime := resp.Image.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return pipeline.Object(types.GeneratedImage{
		Bytes:    data,
		MIMEType: mime,
		Source:   types.SourceModel,
	}), nil
}

// ComposeOverlay renders the slide text on a plain background taken from the
// brief's palette, or derived from the post id when the palette is unusable.
func ComposeOverlay(index int, text string, brief types.CreativeBrief, postID string) (types.GeneratedImage, error) {
	if text == "" {
		return types.GeneratedImage{}, errors.New("no slide text to compose")
	}
	data, err := imaging.Compose(text, imaging.OverlayOptions{
		Background: imaging.Background(brief.Colors, postID),
		Placement:  brief.Placement(),
	})
	if err != nil {
		return types.GeneratedImage{}, err
	}
	return types.GeneratedImage{
		Index:    index,
		Bytes:    data,
		MIMEType: "image/png",
		Source:   types.SourceOverlay,
	}, nil
}

func withSuffix(prompt, suffix string) string {
	if suffix == "" {
		return prompt
	}
	return prompt + ", " + suffix
}

func references(state *pipeline.State) map[string]types.Reference {
	refs := map[string]types.Reference{}
	for kind, key := range map[string]string{
		types.ReferenceStyle:   KeyStyleReference,
		types.ReferencePersona: KeyPersonaReference,
	} {
		if ref, err := pipeline.Decode[types.Reference](state, key); err == nil && len(ref.Data) > 0 {
			ref.Kind = kind
			refs[kind] = ref
		}
	}
	return refs
}

// selectReferences returns the references a prompt names, or every
// available reference when it names none, capped at two.
func selectReferences(names []string, available map[string]types.Reference) []types.Reference {
	if len(available) == 0 {
		return nil
	}
	if len(names) == 0 {
		names = []string{types.ReferenceStyle, types.ReferencePersona}
	}
	var out []types.Reference
	seen := map[string]bool{}
	for _, name := range names {
		ref, ok := available[name]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, ref)
		if len(out) == maxSlideReferences {
			break
		}
	}
	return out
}
