package steps

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonathan/carousel-generator/internal/pipeline"
	"github.com/jonathan/carousel-generator/internal/sheets"
	"github.com/jonathan/carousel-generator/internal/storage"
	"github.com/jonathan/carousel-generator/internal/types"
)

// NewSaveLocalStep writes the post's slides and metadata document under the
// file store root.
func NewSaveLocalStep(files *storage.FileStore) pipeline.Step {
	return newTool(StepSaveLocal, func(ctx context.Context, state *pipeline.State) (map[string]pipeline.Value, error) {
		post, err := pipeline.Decode[types.CandidatePost](state, KeyCandidate)
		if err != nil {
			return nil, err
		}
		brief, err := pipeline.Decode[types.CreativeBrief](state, KeyCreativeBrief)
		if err != nil {
			return nil, err
		}
		copyContent, err := pipeline.Decode[types.CopyContent](state, KeyCopyContent)
		if err != nil {
			return nil, err
		}
		prompts, err := pipeline.Decode[[]types.ImagePrompt](state, KeyFormattedPrompts)
		if err != nil {
			return nil, err
		}
		images, err := pipeline.Decode[[]types.GeneratedImage](state, KeyGeneratedImages)
		if err != nil {
			return nil, err
		}

		saved, err := files.SavePost(ctx, storage.PostArtifact{
			PostID:    state.TextOf(KeyPostID),
			InputMode: state.TextOf(KeyInputMode),
			Source:    post,
			Brief:     brief,
			Copy:      copyContent,
			Prompts:   prompts,
			Images:    images,
		})
		if err != nil {
			return nil, err
		}
		return map[string]pipeline.Value{
			KeyOutputDir: pipeline.Text(filepath.Join(files.BasePath(), saved.Dir)),
		}, nil
	})
}

// NewUploadImagesStep publishes every generated slide. Individual upload
// failures are kept per index in upload_results; the step only fails when
// no slide could be published.
func NewUploadImagesStep(uploader storage.Uploader) pipeline.Step {
	return newTool(StepUploadImages, func(ctx context.Context, state *pipeline.State) (map[string]pipeline.Value, error) {
		generated, err := pipeline.Decode[[]types.GeneratedImage](state, KeyGeneratedImages)
		if err != nil {
			return nil, err
		}
		postID := state.TextOf(KeyPostID)

		images := storage.ImagesFromGenerated(generated)
		if len(images) == 0 {
			return nil, errors.New("no generated images to upload")
		}

		results, err := uploader.Upload(ctx, postID, images)
		if err != nil {
			return nil, err
		}

		urls := storage.SucceededURLs(results)
		var failed []string
		for _, r := range results {
			if !r.OK() {
				failed = append(failed, fmt.Sprintf("slide %d: %s", r.Index+1, r.Error))
			}
		}
		if len(urls) == 0 {
			return nil, fmt.Errorf("all %d uploads failed: %s", len(results), strings.Join(failed, "; "))
		}
		if len(failed) > 0 {
			state.RecordError(StepUploadImages, fmt.Errorf("%d of %d uploads failed: %s", len(failed), len(results), strings.Join(failed, "; ")))
		}

		return map[string]pipeline.Value{
			KeyUploadResults: pipeline.Object(results),
			KeyUploadURLs:    pipeline.Object(urls),
			KeyFolderURL:     pipeline.Text(uploader.FolderURL(postID)),
		}, nil
	})
}

// NewWriteSheetStep appends the post's result row. Uploaded images are not
// rolled back when the write fails.
func NewWriteSheetStep(sink sheets.Sink, retry pipeline.RetryPolicy) pipeline.Step {
	return newTool(StepWriteSheet, func(ctx context.Context, state *pipeline.State) (map[string]pipeline.Value, error) {
		post, err := pipeline.Decode[types.CandidatePost](state, KeyCandidate)
		if err != nil {
			return nil, err
		}
		copyContent, err := pipeline.Decode[types.CopyContent](state, KeyCopyContent)
		if err != nil {
			return nil, err
		}
		urls, err := pipeline.Decode[[]string](state, KeyUploadURLs)
		if err != nil {
			return nil, err
		}

		result := sheets.Result{
			PostID:        state.TextOf(KeyPostID),
			RowIndex:      post.RowIndex,
			Header:        copyContent.PostTitle,
			Caption:       captionWithHashtags(copyContent),
			CarouselStyle: state.TextOf(KeyCarouselStyle),
			FolderURL:     state.TextOf(KeyFolderURL),
			URLs:          urls,
			GeneratedAt:   time.Now().UTC(),
		}
		if err := sink.WriteResult(ctx, result); err != nil {
			return nil, err
		}
		return map[string]pipeline.Value{KeySheetWritten: pipeline.Text(result.GeneratedAt.Format(time.RFC3339))}, nil
	}, pipeline.WithRetry(retry))
}

func captionWithHashtags(c types.CopyContent) string {
	caption := strings.TrimSpace(c.PostCaption)
	if len(c.Hashtags) == 0 {
		return caption
	}
	tags := make([]string, len(c.Hashtags))
	for i, h := range c.Hashtags {
		tags[i] = "#" + strings.TrimPrefix(h, "#")
	}
	return caption + "\n\n" + strings.Join(tags, " ")
}
