package crawler

import (
	"context"
	"errors"
	"time"
)

// RunStatus tracks a crawl run through its lifecycle.
type RunStatus string

// Run statuses.
const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCanceled:
		return true
	default:
		return false
	}
}

// Run is one invocation of crawl(platform, seeds).
type Run struct {
	ID        string     `json:"id"`
	Platform  Platform   `json:"platform"`
	Status    RunStatus  `json:"status"`
	SeedCount int        `json:"seed_count"`
	Summary   *Summary   `json:"summary,omitempty"`
	Error     string     `json:"error,omitempty"`
	Created   time.Time  `json:"created_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
}

// ErrRunNotFound is returned for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// RunStore tracks crawl runs for the ops API.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, id string, status RunStatus, summary *Summary, errText string) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}
