// Package collyfetcher implements the static fetch mode using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
	"github.com/JakeFAU/ota-answers-crawler/internal/metrics"
)

const (
	defaultTimeout = 20 * time.Second
	defaultAccept  = "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8"
)

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
	RespectRobots  bool
	MaxBodyBytes   int
	Logger         *zap.Logger
}

// Fetcher implements crawler.Fetcher for static HTML and JSON endpoints.
// Non-2xx responses come back as *crawler.HTTPError; nothing is retried here.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("fetcher.static")

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.MaxBodySize = cfg.MaxBodyBytes
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newRobotsTransport(newHTTPTransport(), logger))
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{cfg: cfg, baseCollector: c, logger: logger}
}

// Fetch issues a single GET with browser-like headers.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.RawFetchResult, error) {
	var (
		result   crawler.RawFetchResult
		received bool
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, request, start, &result, &received)

	err := f.runCollector(ctx, collector, request.URL)
	status := result.StatusCode
	metrics.ObserveFetch(string(request.Platform), string(crawler.FetchStatic), status, len(result.Body), time.Since(start))

	switch {
	case received && (status < 200 || status > 299):
		return result, &crawler.HTTPError{
			URL:     request.URL,
			Status:  status,
			Headers: result.Headers,
			Body:    result.Body,
		}
	case err != nil:
		return crawler.RawFetchResult{}, crawler.ClassifyTransport(request.URL, err)
	case !received:
		return crawler.RawFetchResult{}, &crawler.NetworkError{URL: request.URL, Err: fmt.Errorf("no response")}
	}
	f.logger.Debug("fetched",
		zap.String("url", request.URL),
		zap.Int("status", status),
		zap.Int("bytes", len(result.Body)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.RawFetchResult,
	received *bool,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.setHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*received = true
		finalURL := request.URL
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.RawFetchResult{
			URL:        finalURL,
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	// Transport failures surface through Visit's return value.
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			f.logger.Debug("response error", zap.String("url", request.URL), zap.Int("status", r.StatusCode), zap.Error(err))
		}
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("static fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("static fetch: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) setHeaders(request crawler.FetchRequest, r *colly.Request) {
	r.Headers.Set("Accept", defaultAccept)
	if f.cfg.AcceptLanguage != "" {
		r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
	}
	for key, values := range request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
