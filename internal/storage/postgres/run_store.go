package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
)

// RunSchema creates the crawl_runs table.
const RunSchema = `
CREATE TABLE IF NOT EXISTS crawl_runs (
	id            TEXT PRIMARY KEY,
	platform      TEXT NOT NULL,
	status        TEXT NOT NULL,
	seed_count    INTEGER NOT NULL DEFAULT 0,
	summary       JSONB,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	finished_at   TIMESTAMPTZ
);`

// RunStore implements crawler.RunStore on Postgres.
type RunStore struct {
	pool pool
	now  func() time.Time
}

// NewRunStore returns a RunStore using p.
func NewRunStore(p pool) *RunStore {
	return &RunStore{pool: p, now: func() time.Time { return time.Now().UTC() }}
}

// EnsureSchema creates the crawl_runs table when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, RunSchema); err != nil {
		return fmt.Errorf("create crawl_runs: %w", err)
	}
	return nil
}

// CreateRun inserts a new run.
func (s *RunStore) CreateRun(ctx context.Context, run crawler.Run) error {
	if run.Status == "" {
		run.Status = crawler.RunQueued
	}
	if run.Created.IsZero() {
		run.Created = s.now()
	}
	query := `
		INSERT INTO crawl_runs (id, platform, status, seed_count, created_at)
		VALUES ($1, $2, $3, $4, $5);
	`
	_, err := s.pool.Exec(ctx, query, run.ID, string(run.Platform), string(run.Status), run.SeedCount, run.Created)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// UpdateRun sets status, summary and timestamps.
func (s *RunStore) UpdateRun(
	ctx context.Context,
	id string,
	status crawler.RunStatus,
	summary *crawler.Summary,
	errText string,
) error {
	var summaryJSON []byte
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		summaryJSON = b
	}
	now := s.now()
	var started, finished *time.Time
	if status == crawler.RunRunning {
		started = &now
	}
	if status.Terminal() {
		finished = &now
	}
	query := `
		UPDATE crawl_runs
		SET status = $1,
			summary = COALESCE($2, summary),
			error_message = $3,
			started_at = COALESCE(started_at, $4),
			finished_at = COALESCE($5, finished_at)
		WHERE id = $6;
	`
	res, err := s.pool.Exec(ctx, query, string(status), summaryJSON, errText, started, finished, id)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return crawler.ErrRunNotFound
	}
	return nil
}

const runColumns = `id, platform, status, seed_count, summary, error_message, created_at, started_at, finished_at`

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, id string) (crawler.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM crawl_runs WHERE id = $1;`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Run{}, crawler.ErrRunNotFound
	}
	if err != nil {
		return crawler.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the newest runs first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]crawler.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT `+runColumns+` FROM crawl_runs ORDER BY created_at DESC LIMIT $1;`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []crawler.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (crawler.Run, error) {
	var (
		run              crawler.Run
		platform, status string
		summaryJSON      []byte
	)
	if err := row.Scan(
		&run.ID,
		&platform,
		&status,
		&run.SeedCount,
		&summaryJSON,
		&run.Error,
		&run.Created,
		&run.Started,
		&run.Finished,
	); err != nil {
		return crawler.Run{}, err
	}
	run.Platform = crawler.Platform(platform)
	run.Status = crawler.RunStatus(status)
	if len(summaryJSON) > 0 {
		var summary crawler.Summary
		if err := json.Unmarshal(summaryJSON, &summary); err != nil {
			return crawler.Run{}, fmt.Errorf("decode summary: %w", err)
		}
		run.Summary = &summary
	}
	return run, nil
}
