package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jonathan/carousel-generator/internal/pipeline"
)

// RunFunc executes one batch for jobID, reporting step progress.
type RunFunc func(ctx context.Context, jobID string, progress pipeline.ProgressCallback) (*pipeline.BatchSummary, error)

// Trigger describes what started a job.
type Trigger struct {
	InputMode string
	Text      string
}

// Tracker admits at most one running job per process. Running jobs are
// answered from memory; finished jobs are read back from the store.
type Tracker struct {
	store  Store
	logger zerolog.Logger
	base   context.Context
	now    func() time.Time

	slot atomic.Pointer[string]

	mu      sync.RWMutex
	records map[string]*Record
	wg      sync.WaitGroup
}

// NewTracker creates a tracker. Jobs run under base, so cancelling it stops
// in-flight work at the next step boundary.
func NewTracker(base context.Context, store Store, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{
		store:   store,
		logger:  logger.With().Str("component", "jobs").Logger(),
		base:    base,
		now:     func() time.Time { return time.Now().UTC() },
		records: make(map[string]*Record),
	}
}

// Recover marks jobs left running by a previous process as failed.
func (t *Tracker) Recover(ctx context.Context) (int, error) {
	n, err := t.store.MarkStaleJobs(ctx, RestartMessage)
	if err != nil {
		return 0, fmt.Errorf("mark stale jobs: %w", err)
	}
	if n > 0 {
		t.logger.Warn().Int("jobs", n).Msg("marked stale jobs as failed")
	}
	return n, nil
}

// Start claims the slot, records the job as running and launches run in the
// background. It returns *AlreadyRunningError without side effects when
// another job holds the slot.
func (t *Tracker) Start(ctx context.Context, trigger Trigger, run RunFunc) (string, error) {
	id := uuid.NewString()
	for !t.slot.CompareAndSwap(nil, &id) {
		if current := t.slot.Load(); current != nil {
			return "", &AlreadyRunningError{JobID: *current}
		}
	}

	rec := Record{
		JobID:       id,
		Status:      StatusRunning,
		InputMode:   trigger.InputMode,
		TextPreview: Preview(trigger.Text),
		StartedAt:   t.now(),
	}
	if err := t.store.CreateJob(ctx, rec); err != nil {
		t.slot.Store(nil)
		return "", fmt.Errorf("create job: %w", err)
	}
	t.put(rec)

	t.wg.Add(1)
	go t.execute(rec, run)
	return id, nil
}

func (t *Tracker) execute(rec Record, run RunFunc) {
	defer t.wg.Done()
	defer t.slot.Store(nil)
	logger := t.logger.With().Str("job_id", rec.JobID).Logger()
	logger.Info().Str("input_mode", rec.InputMode).Msg("job started")

	summary, err := t.safeRun(rec.JobID, run)

	final, _ := t.Get(context.Background(), rec.JobID)
	if final == nil {
		final = &rec
	}
	Finish(final, summary, err, t.now())
	final.Progress = ""
	if uerr := t.store.UpdateJob(context.Background(), *final); uerr != nil {
		logger.Error().Err(uerr).Msg("failed to persist job result")
		t.put(*final)
	} else {
		t.drop(final.JobID)
	}

	event := logger.Info()
	if final.Status == StatusError {
		event = logger.Error().Str("error", final.Error)
	}
	event.Str("status", final.Status).Str("post_id", final.PostID).Msg("job finished")
}

func (t *Tracker) safeRun(jobID string, run RunFunc) (summary *pipeline.BatchSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return run(t.base, jobID, func(e pipeline.ProgressEvent) {
		t.progress(jobID, e)
	})
}

func (t *Tracker) progress(jobID string, e pipeline.ProgressEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[jobID]
	if !ok {
		return
	}
	rec.Progress = e.Step + " " + e.Status
	if e.PostID != "" && e.Status == pipeline.IterationSucceeded {
		rec.PostID = e.PostID
	}
}

// Get returns the job record. It never waits on a running job.
func (t *Tracker) Get(ctx context.Context, jobID string) (*Record, error) {
	t.mu.RLock()
	rec, ok := t.records[jobID]
	if ok {
		cp := *rec
		t.mu.RUnlock()
		return &cp, nil
	}
	t.mu.RUnlock()
	return t.store.GetJob(ctx, jobID)
}

// Active returns the id of the running job, if any.
func (t *Tracker) Active() (string, bool) {
	if id := t.slot.Load(); id != nil {
		return *id, true
	}
	return "", false
}

// Recent lists the latest jobs, newest first.
func (t *Tracker) Recent(ctx context.Context, limit int) ([]Record, error) {
	return t.store.ListJobs(ctx, limit)
}

// Wait blocks until every launched job has finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (t *Tracker) put(rec Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[rec.JobID] = &rec
}

func (t *Tracker) drop(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, jobID)
}
