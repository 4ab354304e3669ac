package steps

import (
	"context"
	"encoding/json"

	"github.com/jonathan/carousel-generator/internal/pipeline"
)

// Artifact is one step output persisted for later inspection.
type Artifact struct {
	JobID   string          `json:"job_id"`
	PostID  string          `json:"post_id"`
	Step    string          `json:"step"`
	Key     string          `json:"key"`
	Content json.RawMessage `json:"content"`
}

// ArtifactRecorder persists step outputs.
type ArtifactRecorder interface {
	SaveArtifacts(ctx context.Context, artifacts []Artifact) error
}

// artifactKeys are the outputs worth keeping, with the step producing each.
var artifactKeys = []struct {
	step string
	key  string
}{
	{StepContentAnalysis, KeyContentAnalysis},
	{StepApplyBrief, KeyCreativeBrief},
	{StepCopywriting, KeyCopyContent},
	{StepFormatPrompts, KeyFormattedPrompts},
	{StepGenerateImages, KeyGeneratedImages},
	{StepUploadImages, KeyUploadResults},
}

// CollectArtifacts converts the outputs present in state into artifacts.
// Blobs are skipped; generated images are stored without their bytes.
func CollectArtifacts(state *pipeline.State, jobID string) []Artifact {
	postID := state.TextOf(KeyPostID)
	var out []Artifact
	for _, ak := range artifactKeys {
		v, ok := state.Get(ak.key)
		if !ok {
			continue
		}

		var content []byte
		var err error
		switch v.Kind() {
		case pipeline.KindObject:
			obj, _ := v.AsObject()
			content, err = json.Marshal(obj)
		case pipeline.KindText:
			text, _ := v.AsText()
			content, err = json.Marshal(text)
		default:
			continue
		}
		if err != nil {
			continue
		}
		out = append(out, Artifact{
			JobID:   jobID,
			PostID:  postID,
			Step:    ak.step,
			Key:     ak.key,
			Content: content,
		})
	}
	return out
}
