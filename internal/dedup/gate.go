package dedup

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
)

// FingerprintFinder is the store lookup the gate needs.
type FingerprintFinder interface {
	FindByFingerprint(ctx context.Context, hash string) (*crawler.Article, error)
}

// Verdict is the outcome of a dedup check.
type Verdict struct {
	Fingerprint string
	Duplicate   bool
	// FirstURL is the URL that first published the text, when Duplicate.
	FirstURL string
}

// Gate flags records whose fingerprint is already owned by another URL.
type Gate struct {
	fp     *Fingerprinter
	store  FingerprintFinder
	cache  SeenCache
	logger *zap.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithCache adds a shared cache consulted before the store.
func WithCache(c SeenCache) Option {
	return func(g *Gate) { g.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGate returns a Gate backed by store.
func NewGate(fp *Fingerprinter, store FingerprintFinder, opts ...Option) *Gate {
	g := &Gate{fp: fp, store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check fingerprints the record's answer and looks for an earlier owner.
// A record re-crawled at its own URL is never its own duplicate.
func (g *Gate) Check(ctx context.Context, rec crawler.CandidateRecord) (Verdict, error) {
	hash, ok, err := g.fp.Fingerprint(rec.Answer)
	if err != nil {
		return Verdict{}, fmt.Errorf("fingerprint %s: %w", rec.URL, err)
	}
	if !ok {
		return Verdict{}, nil
	}
	v := Verdict{Fingerprint: hash}

	if g.cache != nil {
		url, found, err := g.cache.Lookup(ctx, hash)
		switch {
		case err != nil:
			g.logger.Warn("seen cache lookup failed", zap.String("url", rec.URL), zap.Error(err))
		case found && url != rec.URL:
			v.Duplicate, v.FirstURL = true, url
			return v, nil
		case found:
			return v, nil
		}
	}

	existing, err := g.store.FindByFingerprint(ctx, hash)
	if err != nil {
		return v, fmt.Errorf("find fingerprint: %w", err)
	}
	if existing != nil && existing.URL != rec.URL {
		v.Duplicate, v.FirstURL = true, existing.URL
	}
	return v, nil
}

// Remember records that url now holds the fingerprint. It is a no-op
// without a cache or fingerprint.
func (g *Gate) Remember(ctx context.Context, v Verdict, url string) {
	if g.cache == nil || v.Fingerprint == "" {
		return
	}
	owner := url
	if v.Duplicate {
		owner = v.FirstURL
	}
	if err := g.cache.Remember(ctx, v.Fingerprint, owner); err != nil {
		g.logger.Warn("seen cache write failed", zap.String("url", url), zap.Error(err))
	}
}
