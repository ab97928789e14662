// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchRequestsTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fetchBytesTotal            *prometheus.CounterVec
	rateLimitWaitSeconds       *prometheus.HistogramVec
	rateLimitHitsTotal         *prometheus.CounterVec
	candidatesTotal            *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	itemErrorsTotal            *prometheus.CounterVec
	crawlRunsTotal             *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times.
func Init() {
	once.Do(func() {
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ota_fetch_requests_total",
				Help: "Outbound fetches, labeled by platform, mode, and status code.",
			},
			[]string{"platform", "mode", "status"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ota_fetch_duration_seconds",
				Help:    "Fetch latency, labeled by platform and mode.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"platform", "mode"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ota_fetch_bytes_total",
				Help: "Response bytes fetched, labeled by platform.",
			},
			[]string{"platform"},
		)

		rateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ota_ratelimit_wait_seconds",
				Help:    "Time spent waiting on the rate limiter, labeled by platform and reason.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300, 900, 3600},
			},
			[]string{"platform", "reason"},
		)

		rateLimitHitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ota_ratelimit_429_total",
				Help: "HTTP 429 responses received, labeled by platform.",
			},
			[]string{"platform"},
		)

		candidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ota_candidates_total",
				Help: "Candidate records produced by parsers, labeled by platform.",
			},
			[]string{"platform"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ota_records_total",
				Help: "Records processed, labeled by platform and outcome (new, updated, duplicate, skipped).",
			},
			[]string{"platform", "outcome"},
		)

		itemErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ota_item_errors_total",
				Help: "Contained per-item failures, labeled by platform and error kind.",
			},
			[]string{"platform", "kind"},
		)

		crawlRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ota_crawl_runs_total",
				Help: "Completed crawl runs, labeled by platform and status.",
			},
			[]string{"platform", "status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one outbound fetch. A zero status means no response was received.
func ObserveFetch(platform, mode string, status int, bytesFetched int, duration time.Duration) {
	Init()
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	fetchRequestsTotal.WithLabelValues(platform, mode, code).Inc()
	fetchDurationSeconds.WithLabelValues(platform, mode).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(platform).Add(float64(bytesFetched))
	}
}

// ObserveRateLimitWait records time spent blocked by the rate limiter.
func ObserveRateLimitWait(platform, reason string, duration time.Duration) {
	Init()
	rateLimitWaitSeconds.WithLabelValues(platform, reason).Observe(duration.Seconds())
}

// ObserveTooManyRequests counts a 429 response.
func ObserveTooManyRequests(platform string) {
	Init()
	rateLimitHitsTotal.WithLabelValues(platform).Inc()
}

// ObserveCandidates counts parser output.
func ObserveCandidates(platform string, n int) {
	Init()
	if n > 0 {
		candidatesTotal.WithLabelValues(platform).Add(float64(n))
	}
}

// ObserveRecord counts a record outcome.
func ObserveRecord(platform, outcome string) {
	Init()
	recordsTotal.WithLabelValues(platform, outcome).Inc()
}

// ObserveItemError counts a contained failure.
func ObserveItemError(platform, kind string) {
	Init()
	itemErrorsTotal.WithLabelValues(platform, kind).Inc()
}

// ObserveRun counts a finished crawl.
func ObserveRun(platform, status string) {
	Init()
	crawlRunsTotal.WithLabelValues(platform, status).Inc()
}

// ObserveHTTPRequest increments the ops server request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
