package sources

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
	"github.com/JakeFAU/ota-answers-crawler/internal/extract"
)

var (
	errEmptyQuery  = errors.New("empty query")
	errUnsupported = errors.New("seed kind not supported")
)

// HelpCenter parses vendor help-center articles (official content).
type HelpCenter struct {
	platform       crawler.Platform
	source         string
	selectors      extract.SelectorSet
	category       []string
	listing        listingRules
	searchURL      string
	useReadability bool
	quality        extract.Quality
	logger         *zap.Logger
}

// NewAirbnb returns the Airbnb Help Center source.
func NewAirbnb(opts Options) *HelpCenter {
	return &HelpCenter{
		platform: crawler.PlatformAirbnb,
		source:   "Airbnb Help Center",
		selectors: extract.SelectorSet{
			Title: []string{`[data-testid="article-title"]`, "main h1", "h1", `meta[property="og:title"]@content`, "title"},
			Body:  []string{`[data-testid="article-body"]`, `[data-testid="help-article-content"]`, "main article", "article", "#site-content main"},
			Date:  []string{"time", `meta[property="article:modified_time"]@content`},
		},
		category: []string{`nav[aria-label="Breadcrumb"] li:nth-last-child(2) a`, `nav[aria-label="Breadcrumb"] a`},
		listing: listingRules{
			links:   []string{`a[href*="/help/article/"]`},
			next:    []string{`a[rel="next"]@href`, `link[rel="next"]@href`},
			itemURL: regexp.MustCompile(`/help/article/\d+`),
		},
		searchURL:      "https://www.airbnb.com/help/search?q={q}",
		useReadability: true,
		quality:        opts.quality(crawler.PlatformAirbnb),
		logger:         opts.logger(crawler.PlatformAirbnb),
	}
}

// NewViator returns the Viator help source (traveler and supplier centers).
func NewViator(opts Options) *HelpCenter {
	return &HelpCenter{
		platform: crawler.PlatformViator,
		source:   "Viator Help Center",
		selectors: extract.SelectorSet{
			Title: []string{".article-title", "h1.slds-page-header__title", "article h1", "h1", "title"},
			Body:  []string{".article-body", ".slds-rich-text-editor__output", "article .content", "article", "main"},
			Date:  []string{"time", ".article-meta time", `meta[name="last-modified"]@content`},
		},
		category: []string{".breadcrumbs li:nth-last-child(2) a", ".breadcrumbs a"},
		listing: listingRules{
			links:   []string{`a[href*="/articles/"]`, `a[href*="/article/"]`, `a[href*="/help/"]`},
			next:    []string{".pagination-next a@href", `a[rel="next"]@href`},
			itemURL: regexp.MustCompile(`/(articles?|help)/[^/]+`),
		},
		searchURL:      "https://www.viator.com/help/search?query={q}",
		useReadability: true,
		quality:        opts.quality(crawler.PlatformViator),
		logger:         opts.logger(crawler.PlatformViator),
	}
}

// NewGetYourGuide returns the GetYourGuide supplier help source.
func NewGetYourGuide(opts Options) *HelpCenter {
	return &HelpCenter{
		platform: crawler.PlatformGetYourGuide,
		source:   "GetYourGuide Supplier Help",
		selectors: extract.SelectorSet{
			Title:  []string{"h1.article-title", ".article-header h1", "h1", "title"},
			Body:   []string{".article-body", ".article-content", "article", "main"},
			Author: []string{".article-author .article-meta a", ".article-author"},
			Date:   []string{".article-meta time", "time"},
		},
		category: []string{".breadcrumbs li:nth-last-child(2) a", ".breadcrumbs a"},
		listing: listingRules{
			links:   []string{".article-list a", "section a[href*='/articles/']", `a[href*="/articles/"]`},
			next:    []string{".pagination-next a@href", `a[rel="next"]@href`},
			itemURL: regexp.MustCompile(`/articles/\d+`),
		},
		searchURL:      "https://supply.getyourguide.support/hc/en-us/search?query={q}",
		useReadability: false,
		quality:        opts.quality(crawler.PlatformGetYourGuide),
		logger:         opts.logger(crawler.PlatformGetYourGuide),
	}
}

// Platform implements Source.
func (h *HelpCenter) Platform() crawler.Platform { return h.platform }

// ContentType implements Source.
func (h *HelpCenter) ContentType() crawler.ContentType { return crawler.ContentOfficial }

// Mode implements Source.
func (h *HelpCenter) Mode() crawler.FetchMode { return crawler.FetchStatic }

// Expand implements Source.
func (h *HelpCenter) Expand(seed Seed) ([]Target, error) {
	switch seed.Kind {
	case SeedURL, "":
		return itemTarget(seed.Value)
	case SeedCategory:
		return listingTarget(seed.Value)
	case SeedQuery:
		return searchTarget(h.searchURL, seed.Value)
	default:
		return nil, fmt.Errorf("%s %q: %w", h.platform, seed.Kind, errUnsupported)
	}
}

// Parse implements Source.
func (h *HelpCenter) Parse(_ context.Context, target Target, res crawler.RawFetchResult) Result {
	page, err := extract.NewHTMLPage(res.Body, target.URL)
	if err != nil {
		h.logger.Warn("unparseable page", zap.String("url", target.URL), zap.Error(err))
		return Result{}
	}
	if target.Kind == TargetListing {
		return h.listing.parse(page, target)
	}

	fields := page.Evaluate(h.selectors)
	if fields.Body == "" && h.useReadability {
		if r, err := extract.Readability(res.Body, target.URL); err == nil {
			fields.Body = r.Text
			fields.Title = extract.FirstNonEmpty(fields.Title, r.Title)
			fields.Author = extract.FirstNonEmpty(fields.Author, r.Byline)
		}
	}
	if !h.quality.Accept(fields.Title, fields.Body) {
		h.logger.Debug("rejected page",
			zap.String("url", target.URL),
			zap.String("title", fields.Title),
			zap.Int("body_chars", len([]rune(fields.Body))),
		)
		return Result{}
	}

	rec := crawler.CandidateRecord{
		Platform:    h.platform,
		URL:         target.URL,
		Question:    fields.Title,
		Answer:      fields.Body,
		Author:      fields.Author,
		PublishedAt: extract.ParseDate(fields.Date),
		ContentType: crawler.ContentOfficial,
		Category:    extract.FirstNonEmpty(target.Category, page.First(h.category)),
		Source:      h.source,
	}
	return Result{Records: finalize([]crawler.CandidateRecord{rec}, h.quality, nil)}
}
