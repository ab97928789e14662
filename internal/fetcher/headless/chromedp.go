// Package headless implements the rendered fetch mode with chromedp.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
	"github.com/JakeFAU/ota-answers-crawler/internal/metrics"
)

const (
	defaultNavTimeout      = 30 * time.Second
	defaultNetworkIdleWait = 10 * time.Second
	defaultViewportWidth   = 1366
	defaultViewportHeight  = 768
)

// HostPacer throttles navigations per host.
type HostPacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	AcceptLanguage    string
	NavigationTimeout time.Duration
	NetworkIdleWait   time.Duration
	ViewportWidth     int
	ViewportHeight    int
	BlockedResources  []string
	Pacer             HostPacer
	Logger            *zap.Logger
}

// Fetcher implements crawler.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	blocked     []network.ResourceType
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a headless fetcher backed by chromedp. Chrome is only
// launched on the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.NetworkIdleWait <= 0 {
		cfg.NetworkIdleWait = defaultNetworkIdleWait
	}
	if cfg.ViewportWidth <= 0 || cfg.ViewportHeight <= 0 {
		cfg.ViewportWidth, cfg.ViewportHeight = defaultViewportWidth, defaultViewportHeight
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	blocked, err := parseResourceTypes(cfg.BlockedResources)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		blocked:     blocked,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger.Named("fetcher.rendered"),
	}, nil
}

// Close shuts down the browser.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates with a headless browser and returns the rendered DOM.
// Document responses with status >= 400 are returned as *crawler.HTTPError.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.RawFetchResult, error) {
	if f.cfg.Pacer != nil {
		if err := f.cfg.Pacer.Wait(ctx, request.URL); err != nil {
			return crawler.RawFetchResult{}, err
		}
	}
	if err := f.acquire(ctx); err != nil {
		return crawler.RawFetchResult{}, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	// Tie the tab to the caller's context as well as the navigation timeout.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.navTimeout())
	defer cancel()

	meta := newResponseMeta()
	idle := newIdleSignal()
	chromedp.ListenTarget(taskCtx, func(ev any) {
		meta.captureEvent(ev)
		idle.captureEvent(ev)
		f.handleEvent(taskCtx, ev)
	})

	start := time.Now()
	html, finalURL, err := f.runHeadless(taskCtx, request, idle)
	if err != nil {
		metrics.ObserveFetch(string(request.Platform), string(crawler.FetchRendered), 0, 0, time.Since(start))
		if ctx.Err() != nil {
			return crawler.RawFetchResult{}, ctx.Err()
		}
		return crawler.RawFetchResult{}, crawler.ClassifyTransport(request.URL, err)
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(request.URL, finalURL)
	if headers == nil {
		headers = http.Header{}
	}
	result := crawler.RawFetchResult{
		URL:        responseURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
		Rendered:   true,
	}
	metrics.ObserveFetch(string(request.Platform), string(crawler.FetchRendered), status, len(result.Body), result.Duration)
	if status >= http.StatusBadRequest {
		return result, &crawler.HTTPError{URL: request.URL, Status: status, Headers: headers, Body: result.Body}
	}
	f.logger.Debug("rendered",
		zap.String("url", request.URL),
		zap.Int("status", status),
		zap.Int("bytes", len(result.Body)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (f *Fetcher) runHeadless(ctx context.Context, request crawler.FetchRequest, idle *idleSignal) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.pageSetupAction(request.Headers),
		chromedp.ActionFunc(func(context.Context) error {
			idle.arm()
			return nil
		}),
		chromedp.Navigate(request.URL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return idle.wait(ctx, f.cfg.NetworkIdleWait)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) pageSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(int64(f.cfg.ViewportWidth), int64(f.cfg.ViewportHeight), 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if f.cfg.UserAgent != "" {
			ua := emulation.SetUserAgentOverride(f.cfg.UserAgent)
			if f.cfg.AcceptLanguage != "" {
				ua = ua.WithAcceptLanguage(f.cfg.AcceptLanguage)
			}
			if err := ua.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		if len(f.blocked) > 0 {
			if err := fetch.Enable().WithPatterns(blockPatterns(f.blocked)).Do(ctx); err != nil {
				return fmt.Errorf("enable request interception: %w", err)
			}
		}
		return nil
	})
}

// handleEvent fails blocked resource requests and dismisses JS dialogs.
// CDP commands cannot be issued from the listener goroutine directly.
func (f *Fetcher) handleEvent(ctx context.Context, ev any) {
	switch e := ev.(type) {
	case *fetch.EventRequestPaused:
		go func() {
			c := chromedp.FromContext(ctx)
			if c == nil || c.Target == nil {
				return
			}
			execCtx := cdp.WithExecutor(ctx, c.Target)
			if err := fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx); err != nil {
				f.logger.Debug("fail blocked request", zap.Error(err))
			}
		}()
	case *page.EventJavascriptDialogOpening:
		go func() {
			c := chromedp.FromContext(ctx)
			if c == nil || c.Target == nil {
				return
			}
			execCtx := cdp.WithExecutor(ctx, c.Target)
			f.logger.Info("dismissing dialog", zap.String("type", string(e.Type)), zap.String("message", e.Message))
			if err := page.HandleJavaScriptDialog(false).Do(execCtx); err != nil {
				f.logger.Debug("dismiss dialog", zap.Error(err))
			}
		}()
	}
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

// idleSignal closes once the page reports networkIdle after arm was called.
type idleSignal struct {
	mu    sync.Mutex
	armed bool
	once  sync.Once
	done  chan struct{}
}

func newIdleSignal() *idleSignal {
	return &idleSignal{done: make(chan struct{})}
}

func (s *idleSignal) arm() {
	s.mu.Lock()
	s.armed = true
	s.mu.Unlock()
}

func (s *idleSignal) captureEvent(ev any) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok || e.Name != "networkIdle" {
		return
	}
	s.mu.Lock()
	armed := s.armed
	s.mu.Unlock()
	if armed {
		s.once.Do(func() { close(s.done) })
	}
}

// wait blocks until network idle or max elapses. Pages that keep a
// connection open never go idle, so running out of time is not an error.
func (s *idleSignal) wait(ctx context.Context, limit time.Duration) error {
	timer := time.NewTimer(limit)
	defer timer.Stop()
	select {
	case <-s.done:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for network idle: %w", ctx.Err())
	}
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			// CDP joins repeated headers with newlines.
			for _, entry := range strings.Split(v, "\n") {
				headers.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Only the first document response is the page itself; later ones are frames.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func parseResourceTypes(names []string) ([]network.ResourceType, error) {
	known := map[string]network.ResourceType{
		"image":      network.ResourceTypeImage,
		"stylesheet": network.ResourceTypeStylesheet,
		"font":       network.ResourceTypeFont,
		"media":      network.ResourceTypeMedia,
		"script":     network.ResourceTypeScript,
	}
	out := make([]network.ResourceType, 0, len(names))
	for _, n := range names {
		rt, ok := known[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown resource type %q", n)
		}
		out = append(out, rt)
	}
	return out, nil
}

func blockPatterns(types []network.ResourceType) []*fetch.RequestPattern {
	patterns := make([]*fetch.RequestPattern, 0, len(types))
	for _, rt := range types {
		patterns = append(patterns, &fetch.RequestPattern{
			URLPattern:   "*",
			ResourceType: rt,
			RequestStage: fetch.RequestStageRequest,
		})
	}
	return patterns
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		headers[key] = strings.Join(values, ", ")
	}
	return headers
}
