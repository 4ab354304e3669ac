package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps job records for the life of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Record)}
}

// CreateJob stores a new record.
func (s *MemoryStore) CreateJob(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[rec.JobID] = rec
	return nil
}

// UpdateJob replaces an existing record.
func (s *MemoryStore) UpdateJob(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[rec.JobID]; !ok {
		return ErrNotFound
	}
	s.jobs[rec.JobID] = rec
	return nil
}

// GetJob returns a copy of the record.
func (s *MemoryStore) GetJob(_ context.Context, jobID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// ListJobs returns up to limit records, newest first. A limit of zero or
// less returns all of them.
func (s *MemoryStore) ListJobs(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	out := make([]Record, 0, len(s.jobs))
	for _, rec := range s.jobs {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkStaleJobs fails every running record.
func (s *MemoryStore) MarkStaleJobs(_ context.Context, message string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for id, rec := range s.jobs {
		if rec.Status != StatusRunning {
			continue
		}
		rec.Status = StatusError
		rec.Error = message
		rec.CompletedAt = &now
		s.jobs[id] = rec
		n++
	}
	return n, nil
}
