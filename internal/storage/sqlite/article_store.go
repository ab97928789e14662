// Package sqlite stores articles in a local SQLite file using the pure-Go
// modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
)

// timeLayout sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS articles (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL UNIQUE,
	platform     TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	question     TEXT NOT NULL,
	answer       TEXT NOT NULL,
	content_type TEXT NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	is_duplicate INTEGER NOT NULL DEFAULT 0,
	author       TEXT NOT NULL DEFAULT '',
	votes        INTEGER,
	published_at TEXT,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS articles_content_hash_idx ON articles (content_hash);`

const columns = `id, url, platform, category, question, answer, content_type, source,
	content_hash, is_duplicate, author, votes, published_at, created_at, updated_at`

// ArticleStore implements crawler.ArticleStore on SQLite.
type ArticleStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*ArticleStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &ArticleStore{db: db}, nil
}

// Close closes the database.
func (s *ArticleStore) Close() error {
	return s.db.Close()
}

// FindByURL returns the article stored under url or nil.
func (s *ArticleStore) FindByURL(ctx context.Context, url string) (*crawler.Article, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM articles WHERE url = ?`, url)
	return scanArticle(row)
}

// FindByFingerprint returns the earliest non-duplicate article with hash.
func (s *ArticleStore) FindByFingerprint(ctx context.Context, hash string) (*crawler.Article, error) {
	if hash == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM articles WHERE content_hash = ?
ORDER BY is_duplicate ASC, created_at ASC, url ASC LIMIT 1`, hash)
	return scanArticle(row)
}

// Upsert inserts or updates the row keyed by url. Updates keep id and
// created_at.
func (s *ArticleStore) Upsert(ctx context.Context, a crawler.Article) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM articles WHERE url = ?`, a.URL).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("lookup article: %w", err)
	}
	created := errors.Is(err, sql.ErrNoRows)

	var votes sql.NullInt64
	if a.Votes != nil {
		votes = sql.NullInt64{Int64: int64(*a.Votes), Valid: true}
	}
	var published sql.NullString
	if a.PublishedAt != nil {
		published = sql.NullString{String: a.PublishedAt.UTC().Format(timeLayout), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO articles (`+columns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT (url) DO UPDATE SET
	platform = excluded.platform,
	category = excluded.category,
	question = excluded.question,
	answer = excluded.answer,
	content_type = excluded.content_type,
	source = excluded.source,
	content_hash = excluded.content_hash,
	is_duplicate = excluded.is_duplicate,
	author = excluded.author,
	votes = excluded.votes,
	published_at = excluded.published_at,
	updated_at = excluded.updated_at`,
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
		votes,
		published,
		a.CreatedAt.UTC().Format(timeLayout),
		a.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("upsert article: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

// Count returns the number of stored articles.
func (s *ArticleStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

func scanArticle(row *sql.Row) (*crawler.Article, error) {
	var (
		a                     crawler.Article
		platform, contentType string
		votes                 sql.NullInt64
		published             sql.NullString
		createdAt, updatedAt  string
	)
	err := row.Scan(
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
		&votes,
		&published,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select article: %w", err)
	}
	a.Platform = crawler.Platform(platform)
	a.ContentType = crawler.ContentType(contentType)
	if votes.Valid {
		v := int(votes.Int64)
		a.Votes = &v
	}
	if published.Valid {
		if t, err := time.Parse(timeLayout, published.String); err == nil {
			a.PublishedAt = &t
		}
	}
	if a.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &a, nil
}
