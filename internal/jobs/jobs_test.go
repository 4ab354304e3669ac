package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/carousel-generator/internal/pipeline"
)

func succeeded(postID string) pipeline.IterationOutcome {
	return pipeline.IterationOutcome{PostID: postID, Status: pipeline.IterationSucceeded}
}

func failed(postID string, err error) pipeline.IterationOutcome {
	return pipeline.IterationOutcome{PostID: postID, Status: pipeline.IterationFailed, Err: err}
}

func TestFinish(t *testing.T) {
	now := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name       string
		summary    *pipeline.BatchSummary
		err        error
		wantStatus string
		wantPostID string
		wantError  string
	}{
		{
			name:       "start failure",
			err:        errors.New("fetch posts: 403"),
			wantStatus: StatusError,
			wantError:  "fetch posts: 403",
		},
		{
			name:       "nothing processed",
			summary:    &pipeline.BatchSummary{},
			wantStatus: StatusError,
			wantError:  "no posts were processed",
		},
		{
			name: "partial success",
			summary: &pipeline.BatchSummary{Total: 3, Succeeded: 2, Failed: 1, Outcomes: []pipeline.IterationOutcome{
				succeeded("post_2"), failed("post_3", errors.New("boom")), succeeded("post_4"),
			}},
			wantStatus: StatusComplete,
			wantPostID: "post_4",
		},
		{
			name: "all failed",
			summary: &pipeline.BatchSummary{Total: 2, Failed: 2, Outcomes: []pipeline.IterationOutcome{
				failed("post_2", errors.New("first")), failed("post_3", errors.New("second")),
			}},
			wantStatus: StatusError,
			wantError:  "first",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Record{JobID: "j", Status: StatusRunning}
			Finish(&rec, tt.summary, tt.err, now)
			assert.Equal(t, tt.wantStatus, rec.Status)
			assert.Equal(t, tt.wantPostID, rec.PostID)
			assert.Equal(t, tt.wantError, rec.Error)
			require.NotNil(t, rec.CompletedAt)
			assert.True(t, rec.Terminal())
		})
	}
}

func TestFinish_TruncatesError(t *testing.T) {
	rec := Record{}
	Finish(&rec, nil, errors.New(strings.Repeat("x", 800)+"root cause"), time.Now())
	assert.Len(t, rec.Error, 500)
	assert.True(t, strings.HasSuffix(rec.Error, "root cause"))
	assert.True(t, strings.HasPrefix(rec.Error, "x"))
}

func TestFinish_TruncatesFirstIterationErrorFromTail(t *testing.T) {
	rec := Record{}
	summary := &pipeline.BatchSummary{Total: 1, Failed: 1, Outcomes: []pipeline.IterationOutcome{
		failed("post_2", errors.New(strings.Repeat("wrap: ", 200)+"quota exceeded")),
	}}
	Finish(&rec, summary, nil, time.Now())
	assert.Equal(t, StatusError, rec.Status)
	assert.Len(t, []rune(rec.Error), 500)
	assert.True(t, strings.HasSuffix(rec.Error, "quota exceeded"))
}

func TestTail(t *testing.T) {
	assert.Equal(t, "short", Tail("short", 10))
	assert.Equal(t, "cd", Tail("abcd", 2))
	assert.Equal(t, "éé", Tail("aéé", 2))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", Preview("short"))
	assert.Len(t, []rune(Preview(strings.Repeat("é", 150))), 100)
}

func TestAlreadyRunningError(t *testing.T) {
	err := &AlreadyRunningError{JobID: "abc"}
	assert.Contains(t, err.Error(), "abc")
}

func newTracker(store Store) *Tracker {
	return NewTracker(context.Background(), store, zerolog.Nop())
}

func TestTracker_RejectsSecondJobWhileRunning(t *testing.T) {
	tracker := newTracker(nil)
	release := make(chan struct{})
	started := make(chan struct{})
	var runs int
	var mu sync.Mutex

	run := func(ctx context.Context, jobID string, progress pipeline.ProgressCallback) (*pipeline.BatchSummary, error) {
		mu.Lock()
		runs++
		mu.Unlock()
		close(started)
		progress(pipeline.ProgressEvent{Step: "content_analysis", Status: "started"})
		<-release
		return &pipeline.BatchSummary{Total: 1, Succeeded: 1, Outcomes: []pipeline.IterationOutcome{succeeded("post_2_x")}}, nil
	}

	id, err := tracker.Start(context.Background(), Trigger{InputMode: "sheet"}, run)
	require.NoError(t, err)
	<-started

	active, ok := tracker.Active()
	require.True(t, ok)
	assert.Equal(t, id, active)

	_, err = tracker.Start(context.Background(), Trigger{InputMode: "text", Text: "x"}, run)
	var already *AlreadyRunningError
	require.True(t, errors.As(err, &already))
	assert.Equal(t, id, already.JobID)

	rec, err := tracker.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Equal(t, "content_analysis started", rec.Progress)

	all, err := tracker.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	close(release)
	tracker.Wait()

	rec, err = tracker.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, rec.Status)
	assert.Equal(t, "post_2_x", rec.PostID)
	assert.Empty(t, rec.Progress)

	stored, err := tracker.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, stored.Status)

	_, ok = tracker.Active()
	assert.False(t, ok)
	assert.Equal(t, 1, runs)
}

func TestTracker_ConcurrentStartsAdmitOne(t *testing.T) {
	tracker := newTracker(nil)
	release := make(chan struct{})
	run := func(ctx context.Context, _ string, _ pipeline.ProgressCallback) (*pipeline.BatchSummary, error) {
		<-release
		return nil, errors.New("stopped")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, rejected := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.Start(context.Background(), Trigger{}, run)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
			} else {
				rejected++
			}
		}()
	}
	wg.Wait()
	close(release)
	tracker.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 19, rejected)
}

func TestTracker_SlotFreedAfterFailureAndPanic(t *testing.T) {
	tracker := newTracker(nil)

	id, err := tracker.Start(context.Background(), Trigger{}, func(context.Context, string, pipeline.ProgressCallback) (*pipeline.BatchSummary, error) {
		panic("nil map")
	})
	require.NoError(t, err)
	tracker.Wait()

	rec, err := tracker.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusError, rec.Status)
	assert.Contains(t, rec.Error, "nil map")

	_, err = tracker.Start(context.Background(), Trigger{}, func(context.Context, string, pipeline.ProgressCallback) (*pipeline.BatchSummary, error) {
		return nil, errors.New("no posts matched")
	})
	require.NoError(t, err)
	tracker.Wait()
}

func TestTracker_GetUnknown(t *testing.T) {
	_, err := newTracker(nil).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

type failingStore struct{ *MemoryStore }

func (failingStore) CreateJob(context.Context, Record) error { return errors.New("db down") }

func TestTracker_CreateFailureReleasesSlot(t *testing.T) {
	tracker := newTracker(failingStore{NewMemoryStore()})
	_, err := tracker.Start(context.Background(), Trigger{}, nil)
	require.Error(t, err)
	_, ok := tracker.Active()
	assert.False(t, ok)
}

func TestTracker_FinishedJobsLeaveMemory(t *testing.T) {
	tracker := newTracker(nil)
	for i := 0; i < 3; i++ {
		_, err := tracker.Start(context.Background(), Trigger{}, func(context.Context, string, pipeline.ProgressCallback) (*pipeline.BatchSummary, error) {
			return &pipeline.BatchSummary{Total: 1, Succeeded: 1, Outcomes: []pipeline.IterationOutcome{succeeded("post_2")}}, nil
		})
		require.NoError(t, err)
		tracker.Wait()
	}

	tracker.mu.RLock()
	assert.Empty(t, tracker.records)
	tracker.mu.RUnlock()

	all, err := tracker.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	rec, err := tracker.Get(context.Background(), all[0].JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, rec.Status)
	assert.Equal(t, "post_2", rec.PostID)
}

type unwritableStore struct{ *MemoryStore }

func (unwritableStore) UpdateJob(context.Context, Record) error { return errors.New("db down") }

func TestTracker_KeepsResultWhenPersistFails(t *testing.T) {
	tracker := newTracker(unwritableStore{NewMemoryStore()})
	id, err := tracker.Start(context.Background(), Trigger{}, func(context.Context, string, pipeline.ProgressCallback) (*pipeline.BatchSummary, error) {
		return nil, errors.New("fetch posts: 403")
	})
	require.NoError(t, err)
	tracker.Wait()

	rec, err := tracker.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusError, rec.Status)
	assert.Equal(t, "fetch posts: 403", rec.Error)
}

func TestTracker_Recover(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, Record{JobID: "old", Status: StatusRunning}))
	require.NoError(t, store.CreateJob(ctx, Record{JobID: "done", Status: StatusComplete}))

	n, err := newTracker(store).Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := store.GetJob(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, StatusError, rec.Status)
	assert.Equal(t, RestartMessage, rec.Error)
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateJob(ctx, Record{JobID: id, StartedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	list, err := store.ListJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].JobID)
	assert.Equal(t, "b", list[1].JobID)

	assert.ErrorIs(t, store.UpdateJob(ctx, Record{JobID: "zzz"}), ErrNotFound)
}
