package storage

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/jonathan/carousel-generator/internal/pipeline"
	"github.com/jonathan/carousel-generator/internal/types"
)

var fixedTime = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func TestObjectName(t *testing.T) {
	assert.Equal(t, "posts/post_7_20250314_092653/image_1_20250314_092653.png",
		ObjectName("post_7_20250314_092653", 0, fixedTime, "png"))
	assert.Equal(t, "posts/p/image_10_20250314_092653.png", ObjectName("p", 9, fixedTime, ""))
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		want    string
		wantErr bool
	}{
		{name: "plain", key: "a/b.png", want: "a/b.png"},
		{name: "leading slash", key: "/a/b.png", want: "a/b.png"},
		{name: "backslashes", key: `a\b.png`, want: "a/b.png"},
		{name: "dot prefix", key: "./a.png", want: "a.png"},
		{name: "inner dots cleaned", key: "a/../b.png", want: "b.png"},
		{name: "escape", key: "../etc/passwd", wantErr: true},
		{name: "parent only", key: "..", wantErr: true},
		{name: "empty", key: "  ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sanitizeKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileStore_Upload(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "http://localhost:8080/files/")
	require.NoError(t, err)
	store.now = func() time.Time { return fixedTime }

	results, err := store.Upload(context.Background(), "post_1", []Image{
		{Index: 0, Data: []byte("zero")},
		{Index: 2, Data: []byte("two"), MIMEType: "image/jpeg"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, 0, results[0].Index)
	assert.Equal(t, "http://localhost:8080/files/posts/post_1/image_1_20250314_092653.png", results[0].URL)
	assert.Equal(t, 2, results[1].Index)
	assert.True(t, strings.HasSuffix(results[1].URL, "image_3_20250314_092653.jpg"))

	data, err := store.Read("posts/post_1/image_3_20250314_092653.jpg")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
	assert.Equal(t, "http://localhost:8080/files/posts/post_1", store.FolderURL("post_1"))
}

func TestNewFileStore_RequiresPath(t *testing.T) {
	_, err := NewFileStore(" ", "")
	assert.Error(t, err)
}

func TestImagesFromGenerated_SkipsFailed(t *testing.T) {
	images := ImagesFromGenerated([]types.GeneratedImage{
		{Index: 0, Bytes: []byte("a"), MIMEType: "image/png"},
		types.FailedImage(1, "boom"),
		{Index: 2, Bytes: []byte("c")},
	})
	require.Len(t, images, 2)
	assert.Equal(t, 0, images[0].Index)
	assert.Equal(t, 2, images[1].Index)
}

func TestSucceededURLs(t *testing.T) {
	urls := SucceededURLs([]types.UploadResult{
		{Index: 0, URL: "u0"},
		{Index: 1, Error: "denied"},
		{Index: 2, URL: "u2"},
	})
	assert.Equal(t, []string{"u0", "u2"}, urls)
}

type fakeInserter struct {
	mu    sync.Mutex
	calls map[string]int
	fail  func(name string, call int) error
}

func (f *fakeInserter) Insert(_ context.Context, _, name, _ string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[name]++
	if f.fail != nil {
		return f.fail(name, f.calls[name])
	}
	return nil
}

func newTestUploader(ins objectInserter) *GCSUploader {
	return &GCSUploader{
		objects: ins,
		bucket:  "carousel-bucket",
		retry:   pipeline.RetryPolicy{MaxAttempts: 3},
		now:     func() time.Time { return fixedTime },
		logger:  zerolog.Nop(),
	}
}

func TestGCSUploader_PerIndexResults(t *testing.T) {
	ins := &fakeInserter{fail: func(name string, call int) error {
		switch {
		case strings.Contains(name, "image_2_"):
			// retried then succeeds
			if call < 2 {
				return &googleapi.Error{Code: http.StatusServiceUnavailable}
			}
		case strings.Contains(name, "image_4_"):
			return &googleapi.Error{Code: http.StatusForbidden, Message: "denied"}
		}
		return nil
	}}
	u := newTestUploader(ins)

	images := make([]Image, 5)
	for i := range images {
		images[i] = Image{Index: i, Data: []byte{byte(i)}, MIMEType: "image/png"}
	}
	results, err := u.Upload(context.Background(), "post_3_20250314_092653", images)
	require.NoError(t, err)
	require.Len(t, results, 5)

	for i, r := range results {
		assert.Equal(t, i, r.Index)
		if i == 3 {
			assert.False(t, r.OK())
			assert.Contains(t, r.Error, "denied")
			continue
		}
		assert.True(t, r.OK(), "index %d", i)
		assert.True(t, strings.HasPrefix(r.URL, "https://storage.googleapis.com/carousel-bucket/posts/post_3_20250314_092653/"))
	}

	assert.Equal(t, 2, ins.calls["posts/post_3_20250314_092653/image_2_20250314_092653.png"])
	// client errors are not retried
	assert.Equal(t, 1, ins.calls["posts/post_3_20250314_092653/image_4_20250314_092653.png"])
}

func TestGCSUploader_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestUploader(&fakeInserter{}).Upload(ctx, "p", []Image{{Index: 0}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGCSUploader_FolderURL(t *testing.T) {
	u := newTestUploader(&fakeInserter{})
	assert.Equal(t, "https://console.cloud.google.com/storage/browser/carousel-bucket/posts/p1", u.FolderURL("p1"))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.True(t, pipeline.IsRetriable(classify(&googleapi.Error{Code: 500})))
	assert.True(t, pipeline.IsRetriable(classify(&googleapi.Error{Code: 429})))
	assert.False(t, pipeline.IsRetriable(classify(&googleapi.Error{Code: 404})))
	assert.True(t, pipeline.IsRetriable(classify(errors.New("connection reset"))))
	assert.False(t, pipeline.IsRetriable(classify(context.Canceled)))
}

func samplePost() PostArtifact {
	images := make([]types.GeneratedImage, 10)
	texts := make([]string, 10)
	for i := range images {
		texts[i] = "Tip number " + string(rune('A'+i))
		images[i] = types.GeneratedImage{Index: i, Bytes: []byte{0x89, byte(i)}, MIMEType: "image/png", Source: types.SourceModel}
	}
	images[3] = types.FailedImage(3, "model and overlay failed")
	return PostArtifact{
		PostID:      "post_5_20250314_092653",
		InputMode:   types.InputModeSheet,
		GeneratedAt: fixedTime,
		Source:      types.CandidatePost{ID: "row-5", RowIndex: 5, OriginalScript: "Save first, spend later.", ViralityTag: "VIRUS", EngagementTag: "BEST ER"},
		Brief:       types.CreativeBrief{CarouselStyle: types.CarouselNarrative, ArtStyle: "flat vector", Colors: []string{"#FF5733", "#1A1A1A"}, TextPlacement: "top"},
		Copy:        types.CopyContent{PostTitle: "Money habits", ImageTexts: texts, PostCaption: "Ten habits.", Hashtags: []string{"money", "#habits"}},
		Prompts:     []types.ImagePrompt{{Index: 0, Text: texts[0], Prompt: "a jar of coins"}},
		Images:      images,
	}
}

func TestFileStore_SaveAndLoadPost(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "")
	require.NoError(t, err)

	saved, err := store.SavePost(context.Background(), samplePost())
	require.NoError(t, err)
	assert.Equal(t, "post_5_20250314_092653/post_5_20250314_092653_content.md", saved.Document)
	assert.Len(t, saved.ImageFiles, 9)
	assert.Equal(t, "post_5_20250314_092653/images/slide_01_Tip_number_A.png", saved.ImageFiles[0])

	_, err = os.Stat(filepath.Join(dir, "post_5_20250314_092653", "images", "slide_10_Tip_number_J.png"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "post_5_20250314_092653", "images", "slide_04_Tip_number_D.png"))
	assert.True(t, os.IsNotExist(err))

	detail, err := store.LoadPost("post_5_20250314_092653")
	require.NoError(t, err)
	assert.Equal(t, "Money habits", detail.Meta.Title)
	assert.Equal(t, "narrative", detail.Meta.CarouselStyle)
	assert.Equal(t, "top", detail.Meta.TextPlacement)
	assert.True(t, detail.Meta.GeneratedAt.Equal(fixedTime))
	require.Len(t, detail.Meta.Slides, 10)
	assert.True(t, detail.Meta.Slides[3].Failed)
	assert.Empty(t, detail.Meta.Slides[3].File)
	assert.Contains(t, detail.Body, "# Money habits")
	assert.Contains(t, detail.Body, "#money #habits")
	assert.Contains(t, detail.Body, "### Slide 1: Tip number A")
}

func TestFileStore_ListPosts(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	require.NoError(t, err)

	older := samplePost()
	older.PostID = "post_1_20250101_000000"
	older.GeneratedAt = fixedTime.Add(-24 * time.Hour)
	newer := samplePost()

	for _, p := range []PostArtifact{older, newer} {
		_, err := store.SavePost(context.Background(), p)
		require.NoError(t, err)
	}
	// a stray directory without metadata is ignored
	require.NoError(t, os.MkdirAll(filepath.Join(store.BasePath(), "scratch"), 0o755))

	posts, err := store.ListPosts()
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, newer.PostID, posts[0].PostID)
	assert.Equal(t, 9, posts[0].ImageCount)
	assert.Equal(t, "post_5_20250314_092653/images/slide_01_Tip_number_A.png", posts[0].Thumbnail)
	assert.Equal(t, older.PostID, posts[1].PostID)
}

func TestLoadPost_NotFound(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	require.NoError(t, err)
	_, err = store.LoadPost("missing")
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestSlideFileName(t *testing.T) {
	assert.Equal(t, "slide_01_Stop_wasting_time.png", SlideFileName(0, "Stop wasting time!", "png"))
	assert.Equal(t, "slide_10_a_b.png", SlideFileName(9, "a/b", ""))
	assert.Equal(t, "slide_02_slide.png", SlideFileName(1, "¿?", "png"))
	assert.LessOrEqual(t, len(SlideFileName(0, strings.Repeat("x", 100), "png")), len("slide_01_.png")+40)
}

func TestParseFrontMatter_Missing(t *testing.T) {
	_, _, err := ParseFrontMatter([]byte("# no front matter"))
	assert.ErrorIs(t, err, ErrMissingFrontMatter)
}
