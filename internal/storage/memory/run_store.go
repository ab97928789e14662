package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
)

// RunStore keeps crawl runs in memory for the ops API.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]crawler.Run
	now  func() time.Time
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]crawler.Run),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run crawler.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	if run.Status == "" {
		run.Status = crawler.RunQueued
	}
	if run.Created.IsZero() {
		run.Created = s.now()
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRun moves a run to status and attaches its summary.
func (s *RunStore) UpdateRun(
	_ context.Context,
	id string,
	status crawler.RunStatus,
	summary *crawler.Summary,
	errText string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return crawler.ErrRunNotFound
	}
	run.Status = status
	run.Error = errText
	if summary != nil {
		cp := *summary
		cp.Errors = append([]crawler.ItemError(nil), summary.Errors...)
		run.Summary = &cp
	}
	now := s.now()
	if status == crawler.RunRunning && run.Started == nil {
		run.Started = pointerTime(now)
	}
	if status.Terminal() {
		run.Finished = pointerTime(now)
	}
	s.runs[id] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, id string) (crawler.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return crawler.Run{}, crawler.ErrRunNotFound
	}
	return run, nil
}

// ListRuns returns the newest runs first.
func (s *RunStore) ListRuns(_ context.Context, limit int) ([]crawler.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
