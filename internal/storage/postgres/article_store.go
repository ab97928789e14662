package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
)

const articleColumns = `id, url, platform, category, question, answer, content_type, source,
	content_hash, is_duplicate, author, votes, published_at, created_at, updated_at`

// ArticleSchema creates the articles table; the verb is the table name.
const ArticleSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id           UUID PRIMARY KEY,
	url          TEXT NOT NULL UNIQUE,
	platform     TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	question     TEXT NOT NULL,
	answer       TEXT NOT NULL,
	content_type TEXT NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	is_duplicate BOOLEAN NOT NULL DEFAULT FALSE,
	author       TEXT NOT NULL DEFAULT '',
	votes        INTEGER,
	published_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_content_hash_idx ON %[1]s (content_hash);`

// ArticleStore implements crawler.ArticleStore on Postgres.
type ArticleStore struct {
	pool  pool
	table string
}

// NewArticleStore returns a store writing to table (default "articles").
func NewArticleStore(p pool, table string) (*ArticleStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "articles")
	if err != nil {
		return nil, err
	}
	return &ArticleStore{pool: p, table: table}, nil
}

// EnsureSchema creates the table and index when missing.
func (s *ArticleStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(ArticleSchema, s.table)); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// FindByURL returns the article stored under url or nil.
func (s *ArticleStore) FindByURL(ctx context.Context, url string) (*crawler.Article, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE url = $1`, articleColumns, s.table)
	return s.one(ctx, query, url)
}

// FindByFingerprint returns the earliest non-duplicate article with hash.
func (s *ArticleStore) FindByFingerprint(ctx context.Context, hash string) (*crawler.Article, error) {
	if hash == "" {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE content_hash = $1
ORDER BY is_duplicate ASC, created_at ASC, url ASC LIMIT 1`, articleColumns, s.table)
	return s.one(ctx, query, hash)
}

func (s *ArticleStore) one(ctx context.Context, query string, arg any) (*crawler.Article, error) {
	var a crawler.Article
	var platform, contentType string
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&a.ID,
		&a.URL,
		&platform,
		&a.Category,
		&a.Question,
		&a.Answer,
		&contentType,
		&a.Source,
		&a.ContentHash,
		&a.IsDuplicate,
		&a.Author,
		&a.Votes,
		&a.PublishedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select article: %w", err)
	}
	a.Platform = crawler.Platform(platform)
	a.ContentType = crawler.ContentType(contentType)
	return &a, nil
}

// Upsert inserts or updates the row keyed by url. Updates keep id and
// created_at. The returned flag is true for inserts.
func (s *ArticleStore) Upsert(ctx context.Context, a crawler.Article) (bool, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (url) DO UPDATE SET
	platform = EXCLUDED.platform,
	category = EXCLUDED.category,
	question = EXCLUDED.question,
	answer = EXCLUDED.answer,
	content_type = EXCLUDED.content_type,
	source = EXCLUDED.source,
	content_hash = EXCLUDED.content_hash,
	is_duplicate = EXCLUDED.is_duplicate,
	author = EXCLUDED.author,
	votes = EXCLUDED.votes,
	published_at = EXCLUDED.published_at,
	updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0) AS inserted`, s.table, articleColumns)

	var inserted bool
	err := s.pool.QueryRow(ctx, query,
		a.ID,
		a.URL,
		string(a.Platform),
		a.Category,
		a.Question,
		a.Answer,
		string(a.ContentType),
		a.Source,
		a.ContentHash,
		a.IsDuplicate,
		a.Author,
		a.Votes,
		a.PublishedAt,
		a.CreatedAt,
		a.UpdatedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert article: %w", err)
	}
	return inserted, nil
}
