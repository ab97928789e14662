// Package normalizer maps candidate records onto articles and upserts them
// keyed by URL.
package normalizer

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
	"github.com/JakeFAU/ota-answers-crawler/internal/id/uuid"
)

// Outcome reports what an upsert did.
type Outcome string

// Upsert outcomes.
const (
	Created Outcome = "created"
	Updated Outcome = "updated"
)

// Normalizer persists candidate records.
type Normalizer struct {
	store  crawler.ArticleStore
	clock  crawler.Clock
	logger *zap.Logger
}

// New returns a Normalizer writing to store.
func New(store crawler.ArticleStore, clock crawler.Clock, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{store: store, clock: clock, logger: logger}
}

// Article maps a candidate onto the persisted shape.
func Article(rec crawler.CandidateRecord, fingerprint string, duplicate bool) crawler.Article {
	return crawler.Article{
		ID:          uuid.ForURL(rec.URL),
		URL:         rec.URL,
		Platform:    rec.Platform,
		Category:    strings.TrimSpace(rec.Category),
		Question:    strings.TrimSpace(rec.Question),
		Answer:      strings.TrimSpace(rec.Answer),
		ContentType: rec.ContentType,
		Source:      rec.Source,
		ContentHash: fingerprint,
		IsDuplicate: duplicate,
		Author:      strings.TrimSpace(rec.Author),
		Votes:       rec.Score,
		PublishedAt: rec.PublishedAt,
	}
}

// Persist upserts rec. An existing row keeps its ID and creation time.
// Failures are returned as *crawler.PersistenceError.
func (n *Normalizer) Persist(ctx context.Context, rec crawler.CandidateRecord, fingerprint string, duplicate bool) (Outcome, error) {
	article := Article(rec, fingerprint, duplicate)
	now := n.clock.Now()
	article.CreatedAt, article.UpdatedAt = now, now

	existing, err := n.store.FindByURL(ctx, rec.URL)
	if err != nil {
		return "", &crawler.PersistenceError{URL: rec.URL, Err: err}
	}
	if existing != nil {
		article.ID = existing.ID
		article.CreatedAt = existing.CreatedAt
	}

	created, err := n.store.Upsert(ctx, article)
	if err != nil {
		return "", &crawler.PersistenceError{URL: rec.URL, Err: err}
	}
	outcome := Updated
	if created {
		outcome = Created
	}
	n.logger.Debug("article persisted",
		zap.String("url", rec.URL),
		zap.String("outcome", string(outcome)),
		zap.Bool("duplicate", duplicate),
	)
	return outcome, nil
}
