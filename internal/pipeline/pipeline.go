package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
	"github.com/JakeFAU/ota-answers-crawler/internal/dedup"
	"github.com/JakeFAU/ota-answers-crawler/internal/metrics"
	"github.com/JakeFAU/ota-answers-crawler/internal/normalizer"
	"github.com/JakeFAU/ota-answers-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/ota-answers-crawler/internal/seeds"
	"github.com/JakeFAU/ota-answers-crawler/internal/sources"
)

// ErrUnknownPlatform is returned when no source is registered for a platform.
var ErrUnknownPlatform = errors.New("unknown platform")

// Record outcome labels used in metrics.
const (
	outcomeNew       = "new"
	outcomeUpdated   = "updated"
	outcomeDuplicate = "duplicate"
	outcomeSkipped   = "skipped"
)

// Config tunes a Pipeline.
type Config struct {
	// MaxPages caps how many pages of one listing chain are followed.
	MaxPages int
	// MaxFeedItems caps how many links one feed seed contributes.
	MaxFeedItems int
	// PromoteStatic re-fetches static pages in rendered mode when the
	// detector says the static body is a script shell.
	PromoteStatic bool
	// Topic receives the run summary when a publisher is set.
	Topic string
	// ExpectedURLs sizes the per-run visited filter.
	ExpectedURLs uint
}

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Sources    *sources.Registry
	Limiters   *ratelimit.Set
	Static     crawler.Fetcher
	Rendered   crawler.Fetcher
	Detector   crawler.RenderDetector
	Gate       *dedup.Gate
	Normalizer *normalizer.Normalizer
	// Archive is optional.
	Archive *Archiver
	// Publisher is optional.
	Publisher crawler.Publisher
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
	Logger    *zap.Logger
}

// Pipeline crawls one platform at a time.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and returns a Pipeline.
func New(deps Deps, cfg Config) (*Pipeline, error) {
	switch {
	case deps.Sources == nil:
		return nil, errors.New("pipeline: sources are required")
	case deps.Limiters == nil:
		return nil, errors.New("pipeline: rate limiters are required")
	case deps.Static == nil:
		return nil, errors.New("pipeline: static fetcher is required")
	case deps.Gate == nil || deps.Normalizer == nil:
		return nil, errors.New("pipeline: dedup gate and normalizer are required")
	case deps.IDs == nil || deps.Clock == nil:
		return nil, errors.New("pipeline: id generator and clock are required")
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	if cfg.ExpectedURLs == 0 {
		cfg.ExpectedURLs = 10000
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger.Named("pipeline")}, nil
}

// Platforms lists the platforms this pipeline can crawl.
func (p *Pipeline) Platforms() []crawler.Platform {
	return p.deps.Sources.Platforms()
}

// Crawl runs platform over seeds under a fresh run ID.
func (p *Pipeline) Crawl(ctx context.Context, platform crawler.Platform, seedList []sources.Seed) (crawler.Summary, error) {
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return crawler.Summary{}, fmt.Errorf("run id: %w", err)
	}
	return p.Run(ctx, runID, platform, seedList)
}

// Run crawls platform over seeds in order. Only an unknown platform is an
// error; everything else is recorded in the summary. A canceled ctx stops
// the crawl between items and marks the summary canceled.
func (p *Pipeline) Run(ctx context.Context, runID string, platform crawler.Platform, seedList []sources.Seed) (crawler.Summary, error) {
	src, ok := p.deps.Sources.Get(platform)
	if !ok {
		return crawler.Summary{}, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	r := &run{
		Pipeline: p,
		src:      src,
		ctrl:     p.deps.Limiters.For(platform),
		visited:  bloom.NewWithEstimates(p.cfg.ExpectedURLs, 0.001),
		summary: crawler.Summary{
			RunID:     runID,
			Platform:  platform,
			Errors:    []crawler.ItemError{},
			StartedAt: p.deps.Clock.Now(),
		},
		logger: p.logger.With(zap.String("run_id", runID), zap.String("platform", string(platform))),
	}
	r.logger.Info("crawl started", zap.Int("seeds", len(seedList)))

	for _, seed := range seedList {
		if r.stopped(ctx) {
			break
		}
		r.crawlSeed(ctx, seed)
	}

	r.summary.FinishedAt = p.deps.Clock.Now()
	status := crawler.RunSucceeded
	if r.summary.Canceled {
		status = crawler.RunCanceled
	}
	metrics.ObserveRun(string(platform), string(status))
	r.logger.Info("crawl finished",
		zap.Int("new", r.summary.NewCount),
		zap.Int("updated", r.summary.UpdatedCount),
		zap.Int("duplicates", r.summary.DuplicateCount),
		zap.Int("skipped", r.summary.SkippedCount),
		zap.Int("errors", len(r.summary.Errors)),
		zap.Bool("canceled", r.summary.Canceled),
	)
	p.publish(context.WithoutCancel(ctx), r.summary)
	return r.summary, nil
}

func (p *Pipeline) publish(ctx context.Context, summary crawler.Summary) {
	if p.deps.Publisher == nil || p.cfg.Topic == "" {
		return
	}
	id, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, summary)
	if err != nil {
		p.logger.Warn("publish summary failed", zap.String("run_id", summary.RunID), zap.Error(err))
		return
	}
	p.logger.Debug("summary published", zap.String("run_id", summary.RunID), zap.String("message_id", id))
}

// run holds the state of one crawl.
type run struct {
	*Pipeline
	src     sources.Source
	ctrl    *ratelimit.Controller
	visited *bloom.BloomFilter
	summary crawler.Summary
	logger  *zap.Logger
}

func (r *run) stopped(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}
	if !r.summary.Canceled {
		r.summary.Canceled = true
		r.logger.Warn("crawl canceled", zap.Error(ctx.Err()))
	}
	return true
}

func (r *run) fail(url string, err error) {
	kind := crawler.Classify(err)
	metrics.ObserveItemError(string(r.src.Platform()), kind)
	r.summary.AddError(url, err)
	r.logger.Warn("item failed", zap.String("url", url), zap.String("kind", kind), zap.Error(err))
}

func (r *run) skip(url, reason string) {
	r.summary.SkippedCount++
	metrics.ObserveRecord(string(r.src.Platform()), outcomeSkipped)
	r.logger.Info("item skipped", zap.String("url", url), zap.String("reason", reason))
}

// crawlSeed drains every target reachable from seed before returning.
func (r *run) crawlSeed(ctx context.Context, seed sources.Seed) {
	expanded, err := r.expand(ctx, seed)
	if err != nil {
		if !r.stopped(ctx) {
			r.fail(seed.Value, err)
		}
		return
	}
	queue := expanded
	for len(queue) > 0 {
		if r.stopped(ctx) {
			return
		}
		target := queue[0]
		queue = queue[1:]
		res, ok := r.visit(ctx, target)
		if !ok {
			continue
		}
		queue = append(queue, res.Follow...)
		if res.Next != nil {
			queue = append(queue, *res.Next)
		}
	}
}

// expand turns a seed into targets. Feed seeds are fetched and each item
// link is expanded as a URL seed.
func (r *run) expand(ctx context.Context, seed sources.Seed) ([]sources.Target, error) {
	if seed.Kind != sources.SeedFeed {
		return r.src.Expand(seed)
	}
	res, err := r.fetch(ctx, crawler.FetchRequest{
		Platform: r.src.Platform(),
		URL:      seed.Value,
		Mode:     crawler.FetchStatic,
	})
	if err != nil {
		return nil, err
	}
	links, err := seeds.ParseFeed(res.Body, r.cfg.MaxFeedItems)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", seed.Value, err)
	}
	r.logger.Info("feed expanded", zap.String("feed", seed.Value), zap.Int("links", len(links)))
	var targets []sources.Target
	for _, link := range links {
		t, err := r.src.Expand(link)
		if err != nil {
			r.fail(link.Value, err)
			continue
		}
		targets = append(targets, t...)
	}
	return targets, nil
}

// visit fetches, parses and persists one target. ok is false when nothing
// was parsed.
func (r *run) visit(ctx context.Context, target sources.Target) (sources.Result, bool) {
	location := target.Location()
	if target.Kind == sources.TargetListing && target.Page > r.cfg.MaxPages {
		r.logger.Debug("page limit reached", zap.String("url", location), zap.Int("page", target.Page))
		return sources.Result{}, false
	}
	if r.visited.TestOrAddString(location) {
		r.logger.Debug("already visited", zap.String("url", location))
		return sources.Result{}, false
	}

	res, err := r.fetch(ctx, crawler.FetchRequest{
		Platform: r.src.Platform(),
		URL:      location,
		Mode:     r.src.Mode(),
		Headers:  target.Headers,
	})
	switch {
	case errors.Is(err, crawler.ErrBadRequest):
		r.skip(location, "bad request")
		return sources.Result{}, false
	case err != nil:
		if !r.stopped(ctx) {
			r.fail(location, err)
		}
		return sources.Result{}, false
	}
	res = r.maybePromote(ctx, target, res)

	result := r.src.Parse(ctx, target, res)
	if result.Backoff > 0 {
		r.ctrl.Throttle(result.Backoff)
	}
	metrics.ObserveCandidates(string(r.src.Platform()), len(result.Records))

	if len(result.Records) == 0 && len(result.Follow) == 0 && result.Next == nil {
		r.skip(location, "no records")
		r.archiveMiss(ctx, target, res)
		return result, true
	}
	for _, rec := range result.Records {
		if r.stopped(ctx) {
			break
		}
		r.persist(ctx, rec)
	}
	return result, true
}

// fetch issues request behind the platform's rate limiter.
func (r *run) fetch(ctx context.Context, request crawler.FetchRequest) (crawler.RawFetchResult, error) {
	fetcher := r.deps.Static
	if request.Mode == crawler.FetchRendered {
		if r.deps.Rendered == nil {
			return crawler.RawFetchResult{}, &crawler.NetworkError{URL: request.URL, Err: errors.New("rendered fetch not configured")}
		}
		fetcher = r.deps.Rendered
	}
	var res crawler.RawFetchResult
	err := r.ctrl.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = fetcher.Fetch(ctx, request)
		return err
	})
	if err != nil {
		return crawler.RawFetchResult{}, err
	}
	return res, nil
}

func (r *run) maybePromote(ctx context.Context, target sources.Target, res crawler.RawFetchResult) crawler.RawFetchResult {
	if !r.cfg.PromoteStatic || res.Rendered || r.deps.Detector == nil || r.deps.Rendered == nil {
		return res
	}
	if !r.deps.Detector.ShouldPromote(res) {
		return res
	}
	rendered, err := r.fetch(ctx, crawler.FetchRequest{
		Platform: r.src.Platform(),
		URL:      target.Location(),
		Mode:     crawler.FetchRendered,
		Headers:  target.Headers,
	})
	if err != nil {
		r.logger.Warn("rendered promotion failed", zap.String("url", target.Location()), zap.Error(err))
		return res
	}
	r.logger.Info("rendered promotion applied", zap.String("url", target.Location()))
	return rendered
}

func (r *run) archiveMiss(ctx context.Context, target sources.Target, res crawler.RawFetchResult) {
	if r.deps.Archive == nil || target.Kind != sources.TargetItem || len(res.Body) == 0 {
		return
	}
	if _, err := r.deps.Archive.Miss(ctx, r.src.Platform(), target.Location(), res); err != nil {
		r.logger.Warn("archive failed", zap.String("url", target.Location()), zap.Error(err))
	}
}

// persist runs one record through dedup and the normalizer. A failed
// dedup lookup stores the record unflagged.
func (r *run) persist(ctx context.Context, rec crawler.CandidateRecord) {
	platform := string(r.src.Platform())
	verdict, err := r.deps.Gate.Check(ctx, rec)
	if err != nil {
		metrics.ObserveItemError(platform, "dedup")
		r.logger.Warn("dedup check failed", zap.String("url", rec.URL), zap.Error(err))
		verdict.Duplicate = false
	}

	outcome, err := r.deps.Normalizer.Persist(ctx, rec, verdict.Fingerprint, verdict.Duplicate)
	if err != nil {
		r.fail(rec.URL, err)
		return
	}
	r.deps.Gate.Remember(ctx, verdict, rec.URL)

	label := outcomeUpdated
	switch {
	case verdict.Duplicate:
		label = outcomeDuplicate
		r.summary.DuplicateCount++
		r.logger.Info("duplicate content", zap.String("url", rec.URL), zap.String("first_url", verdict.FirstURL))
	case outcome == normalizer.Created:
		label = outcomeNew
		r.summary.NewCount++
	default:
		r.summary.UpdatedCount++
	}
	metrics.ObserveRecord(platform, label)
}
