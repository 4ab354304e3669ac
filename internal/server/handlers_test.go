package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/carousel-generator/internal/db"
	"github.com/jonathan/carousel-generator/internal/generator"
	"github.com/jonathan/carousel-generator/internal/jobs"
	"github.com/jonathan/carousel-generator/internal/pipeline"
	"github.com/jonathan/carousel-generator/internal/server/ratelimit"
	"github.com/jonathan/carousel-generator/internal/storage"
	"github.com/jonathan/carousel-generator/internal/types"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

type fakeRunner struct {
	mu       sync.Mutex
	requests []generator.Request
	release  chan struct{}
	err      error
	style    *generator.Style
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{style: generator.NewStyle(generator.DefaultStyle)}
}

func (f *fakeRunner) Run(_ context.Context, req generator.Request) (*pipeline.BatchSummary, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	release := f.release
	f.mu.Unlock()

	if req.Progress != nil {
		req.Progress(pipeline.ProgressEvent{Step: "content_analysis", Status: "started"})
	}
	if release != nil {
		<-release
	}
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.BatchSummary{Total: 1, Succeeded: 1, Outcomes: []pipeline.IterationOutcome{
		{PostID: "post_2_20250314_092653", Status: pipeline.IterationSucceeded},
	}}, nil
}

func (f *fakeRunner) Style() *generator.Style { return f.style }

func (f *fakeRunner) lastRequest() generator.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeArtifacts struct {
	rows []db.ArtifactRow
}

func (f *fakeArtifacts) ListArtifacts(context.Context, string) ([]db.ArtifactRow, error) {
	return f.rows, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type testServer struct {
	*Server
	runner  *fakeRunner
	tracker *jobs.Tracker
	files   *storage.FileStore
}

func newTestServer(t *testing.T, mutate ...func(*Config)) *testServer {
	t.Helper()
	runner := newFakeRunner()
	tracker := jobs.NewTracker(context.Background(), nil, zerolog.Nop())
	files, err := storage.NewFileStore(t.TempDir(), "")
	require.NoError(t, err)

	cfg := Config{
		Runner:         runner,
		Tracker:        tracker,
		Posts:          files,
		RateLimit:      &ratelimit.Config{Enabled: false},
		Logger:         zerolog.Nop(),
		StreamInterval: 5 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		tracker.Wait()
		s.Close()
	})
	return &testServer{Server: s, runner: runner, tracker: tracker, files: files}
}

func (ts *testServer) do(method, target string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestGenerate_AcceptsThenConflicts(t *testing.T) {
	ts := newTestServer(t)
	ts.runner.release = make(chan struct{})

	rec := ts.do(http.MethodPost, "/generate", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	started := decodeBody[StartResponse](t, rec)
	require.NotEmpty(t, started.JobID)
	assert.Equal(t, jobs.StatusRunning, started.Status)

	rec = ts.do(http.MethodPost, "/generate_from_text", TextRequest{Text: "another"})
	require.Equal(t, http.StatusConflict, rec.Code)
	conflict := decodeBody[ConflictResponse](t, rec)
	assert.Equal(t, started.JobID, conflict.JobID)
	assert.Equal(t, "Generation already in progress", conflict.Error)

	rec = ts.do(http.MethodGet, "/status/"+started.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, jobs.StatusRunning, decodeBody[StatusResponse](t, rec).Status)

	close(ts.runner.release)
	ts.tracker.Wait()

	rec = ts.do(http.MethodGet, "/status/"+started.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[StatusResponse](t, rec)
	assert.Equal(t, jobs.StatusComplete, status.Status)
	assert.Equal(t, "post_2_20250314_092653", status.PostID)
	assert.Empty(t, status.Error)

	req := ts.runner.lastRequest()
	assert.Equal(t, types.InputModeSheet, req.InputMode)
	assert.Equal(t, started.JobID, req.JobID)
}

func TestGenerate_MaxPosts(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/generate", GenerateRequest{MaxPosts: 3})
	require.Equal(t, http.StatusAccepted, rec.Code)
	ts.tracker.Wait()
	assert.Equal(t, 3, ts.runner.lastRequest().MaxPosts)

	rec = ts.do(http.MethodPost, "/generate", `{"max_posts": 500}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/generate", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerate_FailedJobReportsError(t *testing.T) {
	ts := newTestServer(t)
	ts.runner.err = errors.New("fetch posts: permission denied")

	rec := ts.do(http.MethodPost, "/generate", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decodeBody[StartResponse](t, rec).JobID
	ts.tracker.Wait()

	status := decodeBody[StatusResponse](t, ts.do(http.MethodGet, "/status/"+id, nil))
	assert.Equal(t, jobs.StatusError, status.Status)
	assert.Equal(t, "fetch posts: permission denied", status.Error)
}

func TestGenerateFromText(t *testing.T) {
	ts := newTestServer(t)
	ref := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader)
	persona := base64.StdEncoding.EncodeToString(pngHeader)

	rec := ts.do(http.MethodPost, "/generate_from_text", TextRequest{
		Text:             "A story about a jar of coins.",
		StyleReference:   ref,
		PersonaReference: persona,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	ts.tracker.Wait()

	req := ts.runner.lastRequest()
	assert.Equal(t, types.InputModeText, req.InputMode)
	assert.Equal(t, "A story about a jar of coins.", req.Text)
	require.NotNil(t, req.StyleReference)
	assert.Equal(t, types.ReferenceStyle, req.StyleReference.Kind)
	assert.Equal(t, "image/png", req.StyleReference.MIMEType)
	require.NotNil(t, req.PersonaReference)
	assert.Equal(t, "image/png", req.PersonaReference.MIMEType)

	records, err := ts.tracker.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "A story about a jar of coins.", records[0].TextPreview)
}

func TestGenerateFromText_Validation(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{name: "missing text", body: TextRequest{}},
		{name: "blank text", body: TextRequest{Text: "   "}},
		{name: "bad base64", body: TextRequest{Text: "x", StyleReference: "%%%"}},
		{name: "not an image", body: TextRequest{Text: "x", PersonaReference: base64.StdEncoding.EncodeToString([]byte("hello world"))}},
		{name: "data uri without base64", body: TextRequest{Text: "x", StyleReference: "data:image/png,abc"}},
		{name: "invalid json", body: `{"text":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			rec := ts.do(http.MethodPost, "/generate_from_text", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			_, running := ts.tracker.Active()
			assert.False(t, running)
		})
	}
}

func TestStatus_UnknownJob(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/status/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "job not found")

	rec = ts.do(http.MethodGet, "/status/does-not-exist/stream", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusStream(t *testing.T) {
	ts := newTestServer(t)
	ts.runner.release = make(chan struct{})

	id := decodeBody[StartResponse](t, ts.do(http.MethodPost, "/generate", nil)).JobID
	go func() {
		time.Sleep(30 * time.Millisecond)
		close(ts.runner.release)
	}()

	rec := ts.do(http.MethodGet, "/status/"+id+"/stream", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "retry: 5\n\n"))
	assert.Contains(t, body, "id: 1\nevent: status")
	assert.Contains(t, body, `"status":"running"`)
	assert.Contains(t, body, "event: complete")
	assert.Contains(t, body, `"post_id":"post_2_20250314_092653"`)
	assert.Less(t, strings.Index(body, "event: status"), strings.Index(body, "event: complete"))
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/generate", nil).Code)
		ts.tracker.Wait()
	}

	rec := ts.do(http.MethodGet, "/jobs?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		Jobs []jobs.Record `json:"jobs"`
	}](t, rec)
	assert.Len(t, body.Jobs, 1)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/jobs?limit=zero", nil).Code)
}

func TestUpdateStyle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/update-style", StyleRequest{Style: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Style cannot be empty")

	rec = ts.do(http.MethodPost, "/update-style", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/update-style", StyleRequest{Style: " neon noir, film grain "})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "neon noir, film grain", ts.runner.Style().Get())

	rec = ts.do(http.MethodGet, "/style", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "neon noir, film grain", decodeBody[map[string]string](t, rec)["style"])
}

func savePost(t *testing.T, files *storage.FileStore) {
	t.Helper()
	images := make([]types.GeneratedImage, 3)
	texts := []string{"Save first", "Spend later", "Repeat"}
	for i := range images {
		images[i] = types.GeneratedImage{Index: i, Bytes: append([]byte{}, pngHeader...), MIMEType: "image/png", Source: types.SourceModel}
	}
	_, err := files.SavePost(context.Background(), storage.PostArtifact{
		PostID:      "post_2_20250314_092653",
		InputMode:   types.InputModeSheet,
		GeneratedAt: time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
		Copy:        types.CopyContent{PostTitle: "Money habits", ImageTexts: texts, PostCaption: "c"},
		Images:      images,
	})
	require.NoError(t, err)
}

func TestPosts(t *testing.T) {
	ts := newTestServer(t)
	savePost(t, ts.files)

	rec := ts.do(http.MethodGet, "/posts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Posts []storage.PostSummary `json:"posts"`
		Count int                   `json:"count"`
	}](t, rec)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "Money habits", list.Posts[0].Title)
	assert.Equal(t, 3, list.Posts[0].ImageCount)
	assert.True(t, strings.HasPrefix(list.Posts[0].Thumbnail, "/files/post_2_20250314_092653/images/slide_01"))

	rec = ts.do(http.MethodGet, "/posts/post_2_20250314_092653", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeBody[PostResponse](t, rec)
	assert.Equal(t, "post_2_20250314_092653", detail.Meta.PostID)
	require.Len(t, detail.Images, 3)

	rec = ts.do(http.MethodGet, detail.Images[0], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pngHeader, rec.Body.Bytes())

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/posts/post_missing", nil).Code)
}

func TestPostArtifacts(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/posts/p/artifacts", nil).Code)

	ts = newTestServer(t, func(c *Config) {
		c.Artifacts = &fakeArtifacts{rows: []db.ArtifactRow{
			{PostID: "p", Step: "copywriting", Key: "copy_content", Content: json.RawMessage(`{"post_title":"T"}`)},
		}}
	})
	rec := ts.do(http.MethodGet, "/posts/p/artifacts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"post_title":"T"`)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[map[string]any](t, rec)["status"])

	ts = newTestServer(t, func(c *Config) { c.Database = fakePinger{err: errors.New("connection refused")} })
	rec = ts.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decodeBody[map[string]any](t, rec)["status"])
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *Config) {
		rl := ratelimit.DefaultConfig()
		rl.Rules = []ratelimit.Rule{{Route: "POST /update-style", Limit: 1, Window: time.Hour, Burst: 1}}
		c.RateLimit = rl
	})

	rec := ts.do(http.MethodPost, "/update-style", StyleRequest{Style: "ink"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = ts.do(http.MethodPost, "/update-style", StyleRequest{Style: "ink"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decodeBody[map[string]any](t, rec)["error"])

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/health", nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodOptions, "/generate", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNew_RequiresRunnerAndTracker(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestDecodeReference(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(pngHeader)
	tests := []struct {
		name     string
		raw      string
		wantNil  bool
		wantMIME string
		wantErr  bool
	}{
		{name: "empty", raw: "", wantNil: true},
		{name: "plain base64 sniffed", raw: encoded, wantMIME: "image/png"},
		{name: "data uri", raw: "data:image/jpeg;base64," + encoded, wantMIME: "image/jpeg"},
		{name: "not base64", raw: "!!", wantErr: true},
		{name: "text payload", raw: base64.StdEncoding.EncodeToString([]byte("plain text")), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := decodeReference(types.ReferenceStyle, tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, ref)
				return
			}
			assert.Equal(t, tt.wantMIME, ref.MIMEType)
			assert.Equal(t, pngHeader, ref.Data)
		})
	}
}
