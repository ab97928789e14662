package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
	"github.com/JakeFAU/ota-answers-crawler/internal/dispatcher"
	"github.com/JakeFAU/ota-answers-crawler/internal/metrics"
	"github.com/JakeFAU/ota-answers-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/ota-answers-crawler/internal/seeds"
	"github.com/JakeFAU/ota-answers-crawler/internal/sources"
)

const defaultListLimit = 50

// Runner queues and cancels crawl runs.
type Runner interface {
	Submit(ctx context.Context, job dispatcher.Job) error
	Cancel(ctx context.Context, runID string) error
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	Runs      crawler.RunStore
	Runner    Runner
	Platforms []crawler.Platform
	// Manifest supplies default seeds when a request names none. Optional.
	Manifest *seeds.Manifest
	// Limits exposes throttle state. Optional.
	Limits *ratelimit.Registry
	IDs    crawler.IDGenerator
	Logger *zap.Logger
}

// Options tune the HTTP surface.
type Options struct {
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the dispatcher and run store.
type Server struct {
	router    chi.Router
	deps      Deps
	platforms map[crawler.Platform]bool
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		deps:      deps,
		platforms: make(map[crawler.Platform]bool, len(deps.Platforms)),
		logger:    logger,
	}
	for _, p := range deps.Platforms {
		s.platforms[p] = true
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Get("/platforms", s.listPlatforms)
		r.Get("/ratelimit", s.rateLimitState)
		r.Route("/crawls", func(r chi.Router) {
			r.Post("/", s.submitCrawl)
			r.Get("/", s.listCrawls)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.getCrawl)
				r.Post("/cancel", s.cancelCrawl)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Runs.ListRuns(r.Context(), 1); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listPlatforms(w http.ResponseWriter, _ *http.Request) {
	type platform struct {
		Name  crawler.Platform `json:"name"`
		Seeds int              `json:"seeds"`
	}
	out := make([]platform, 0, len(s.deps.Platforms))
	for _, p := range s.deps.Platforms {
		n := 0
		if s.deps.Manifest != nil {
			n = len(s.deps.Manifest.For(p))
		}
		out = append(out, platform{Name: p, Seeds: n})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"platforms": out})
}

func (s *Server) rateLimitState(w http.ResponseWriter, _ *http.Request) {
	snapshots := map[string]ratelimit.Snapshot{}
	if s.deps.Limits != nil {
		snapshots = s.deps.Limits.Snapshots()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"platforms": snapshots})
}

type crawlRequest struct {
	Platform   string         `json:"platform"`
	Seeds      []sources.Seed `json:"seeds"`
	URLs       []string       `json:"urls"`
	Categories []string       `json:"categories"`
	Queries    []string       `json:"queries"`
	Feeds      []string       `json:"feeds"`
}

func (req crawlRequest) seedList() []sources.Seed {
	out := append([]sources.Seed(nil), req.Seeds...)
	add := func(kind sources.SeedKind, values []string) {
		for _, v := range values {
			out = append(out, sources.Seed{Kind: kind, Value: v})
		}
	}
	add(sources.SeedURL, req.URLs)
	add(sources.SeedCategory, req.Categories)
	add(sources.SeedQuery, req.Queries)
	add(sources.SeedFeed, req.Feeds)
	return out
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	platform, ok := crawler.ParsePlatform(req.Platform)
	if !ok || !s.platforms[platform] {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown platform %q", req.Platform))
		return
	}
	seedList := req.seedList()
	if len(seedList) == 0 && s.deps.Manifest != nil {
		seedList = s.deps.Manifest.For(platform)
	}
	if len(seedList) == 0 {
		s.writeError(w, http.StatusBadRequest, "seeds required")
		return
	}
	for i, seed := range seedList {
		if err := seeds.Validate(seed); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("seeds[%d]: %v", i, err))
			return
		}
	}

	runID, err := s.deps.IDs.NewID()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "generate run id")
		return
	}
	job := dispatcher.Job{RunID: runID, Platform: platform, Seeds: seedList}
	if err := s.deps.Runner.Submit(r.Context(), job); err != nil {
		s.logger.Error("submit crawl failed", zap.String("run_id", runID), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": runID,
		"status": crawler.RunQueued,
		"seeds":  len(seedList),
	})
}

func (s *Server) listCrawls(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.deps.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Runs.GetRun(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) cancelCrawl(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	err := s.deps.Runner.Cancel(r.Context(), runID)
	switch {
	case errors.Is(err, dispatcher.ErrFinished):
		s.writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.writeRunError(w, err)
	default:
		s.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "canceling"})
	}
}

func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, crawler.ErrRunNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.logger.Error("run store error", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "run store error")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error"}` + "\n"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
