package ratelimit

import (
	"sync"
	"time"
)

// State is the mutable request history for one platform. It lives for the
// process lifetime and is shared by every controller built for the platform.
type State struct {
	mu             sync.Mutex
	windowStart    time.Time
	count          int
	lastRequest    time.Time
	throttledUntil time.Time
}

// NewState returns an idle state.
func NewState() *State {
	return &State{}
}

// Snapshot is a read-only copy of State.
type Snapshot struct {
	WindowStart    time.Time `json:"window_start"`
	Count          int       `json:"count"`
	LastRequest    time.Time `json:"last_request"`
	ThrottledUntil time.Time `json:"throttled_until"`
}

// Snapshot copies the current values.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		WindowStart:    s.windowStart,
		Count:          s.count,
		LastRequest:    s.lastRequest,
		ThrottledUntil: s.throttledUntil,
	}
}

// Reset clears all history.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windowStart = time.Time{}
	s.count = 0
	s.lastRequest = time.Time{}
	s.throttledUntil = time.Time{}
}

// throttleUntil extends the throttle window; it never shortens it.
func (s *State) throttleUntil(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.After(s.throttledUntil) {
		s.throttledUntil = t
	}
	return s.throttledUntil
}

// Registry hands out one State per platform.
type Registry struct {
	mu     sync.Mutex
	states map[string]*State
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*State)}
}

// State returns the platform's state, creating it on first use.
func (r *Registry) State(platform string) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[platform]
	if !ok {
		st = NewState()
		r.states[platform] = st
	}
	return st
}

// Snapshots returns a copy of every platform's state.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Snapshot, len(r.states))
	for name, st := range r.states {
		out[name] = st.Snapshot()
	}
	return out
}
