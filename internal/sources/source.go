// Package sources holds the per-platform seed expansion and parsers.
//
// A Source turns seeds into fetch targets and turns fetched bodies into
// candidate records. Parsers never fail: anything they cannot use yields an
// empty Result and a logged warning.
package sources

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
	"github.com/JakeFAU/ota-answers-crawler/internal/extract"
)

// SeedKind tells a source how to interpret a seed value.
type SeedKind string

// Seed kinds.
const (
	SeedURL      SeedKind = "url"
	SeedCategory SeedKind = "category"
	SeedQuery    SeedKind = "query"
	// SeedFeed points at an RSS or Atom feed whose item links become URL
	// seeds. The pipeline expands it before a source sees it.
	SeedFeed SeedKind = "feed"
)

// Seed is one entry of a crawl's seed list.
type Seed struct {
	Kind  SeedKind `json:"kind" yaml:"kind"`
	Value string   `json:"value" yaml:"value"`
}

// TargetKind distinguishes pages that hold content from pages that list it.
type TargetKind string

// Target kinds.
const (
	TargetItem    TargetKind = "item"
	TargetListing TargetKind = "listing"
)

// Target is one fetch the pipeline performs.
type Target struct {
	// URL is the canonical page URL records are keyed by.
	URL string
	// FetchURL is what is actually requested; empty means URL.
	FetchURL string
	Kind     TargetKind
	Category string
	Headers  http.Header
	// Parent carries question context into answer-only targets.
	Parent *crawler.CandidateRecord
	// Page is the 1-based pagination depth for listing targets.
	Page int
}

// Location returns the URL to fetch.
func (t Target) Location() string {
	if t.FetchURL != "" {
		return t.FetchURL
	}
	return t.URL
}

// Result is what a parser extracted from one target.
type Result struct {
	Records []crawler.CandidateRecord
	// Follow lists targets discovered on the page, processed in order.
	Follow []Target
	// Next is the following listing page, if any.
	Next *Target
	// Backoff is a server-declared pause before the next request.
	Backoff time.Duration
}

// Source is one platform's crawler definition.
type Source interface {
	Platform() crawler.Platform
	ContentType() crawler.ContentType
	Mode() crawler.FetchMode
	Expand(seed Seed) ([]Target, error)
	Parse(ctx context.Context, target Target, res crawler.RawFetchResult) Result
}

// Options are shared by every source.
type Options struct {
	MinLength         func(platform crawler.Platform) int
	Placeholders      []string
	MaxReplies        int
	StackExchangeSite string
	StackExchangeKey  string
	UserAgent         string
	Logger            *zap.Logger
}

func (o Options) quality(p crawler.Platform) extract.Quality {
	minLen := 50
	if o.MinLength != nil {
		if n := o.MinLength(p); n > 0 {
			minLen = n
		}
	}
	return extract.Quality{MinLength: minLen, Placeholders: o.Placeholders}
}

func (o Options) logger(p crawler.Platform) *zap.Logger {
	l := o.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return l.Named("source").With(zap.String("platform", string(p)))
}

func (o Options) maxReplies() int {
	if o.MaxReplies > 0 {
		return o.MaxReplies
	}
	return 10
}

// Registry maps platforms to sources.
type Registry struct {
	sources map[crawler.Platform]Source
}

// NewRegistry builds every supported source.
func NewRegistry(opts Options) *Registry {
	r := &Registry{sources: make(map[crawler.Platform]Source)}
	for _, s := range []Source{
		NewAirbnb(opts),
		NewViator(opts),
		NewGetYourGuide(opts),
		NewTripAdvisor(opts),
		NewStackExchange(opts),
		NewReddit(opts),
		NewAirHosts(opts),
	} {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a source.
func (r *Registry) Register(s Source) {
	r.sources[s.Platform()] = s
}

// Get returns the source for platform.
func (r *Registry) Get(p crawler.Platform) (Source, bool) {
	s, ok := r.sources[p]
	return s, ok
}

// Platforms lists registered platforms in name order.
func (r *Registry) Platforms() []crawler.Platform {
	out := make([]crawler.Platform, 0, len(r.sources))
	for p := range r.sources {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// finalize drops records that fail the quality or relevance filters.
func finalize(records []crawler.CandidateRecord, q extract.Quality, rel *extract.Relevance) []crawler.CandidateRecord {
	out := records[:0]
	for _, rec := range records {
		if !rec.Valid(q.MinLength) || q.IsPlaceholder(rec.Question) {
			continue
		}
		if rel != nil && !rel.Relevant(rec.Question+" "+rec.Answer) {
			continue
		}
		out = append(out, rec)
	}
	return out
}
