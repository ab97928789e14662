package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
	"github.com/JakeFAU/ota-answers-crawler/internal/dispatcher"
	"github.com/JakeFAU/ota-answers-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/ota-answers-crawler/internal/seeds"
	"github.com/JakeFAU/ota-answers-crawler/internal/sources"
	memstore "github.com/JakeFAU/ota-answers-crawler/internal/storage/memory"
)

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "", errors.New("no ids left")
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

// fakeRunner records submitted jobs in the run store without executing them.
type fakeRunner struct {
	mu        sync.Mutex
	runs      crawler.RunStore
	jobs      []dispatcher.Job
	cancelErr error
	canceled  []string
}

func (f *fakeRunner) Submit(ctx context.Context, job dispatcher.Job) error {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	return f.runs.CreateRun(ctx, crawler.Run{ID: job.RunID, Platform: job.Platform, SeedCount: len(job.Seeds)})
}

func (f *fakeRunner) Cancel(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, runID)
	return nil
}

type testEnv struct {
	server *Server
	runner *fakeRunner
	runs   *memstore.RunStore
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	manifest, err := seeds.Parse([]byte("platforms:\n  reddit:\n    - https://www.reddit.com/r/AirBnB\n"))
	require.NoError(t, err)
	limits := ratelimit.NewRegistry()
	limits.State("reddit")

	runs := memstore.NewRunStore()
	runner := &fakeRunner{runs: runs}
	server := NewServer(Deps{
		Runs:      runs,
		Runner:    runner,
		Platforms: []crawler.Platform{crawler.PlatformAirbnb, crawler.PlatformReddit},
		Manifest:  manifest,
		Limits:    limits,
		IDs:       &fakeIDGen{ids: []string{"run-1", "run-2"}},
	}, opts)
	return &testEnv{server: server, runner: runner, runs: runs}
}

func (e *testEnv) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSubmitCrawlQueuesRun(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	rec := env.do(http.MethodPost, "/v1/crawls", `{
		"platform": "Airbnb",
		"urls": ["https://www.airbnb.com/help/article/149"],
		"queries": ["cancel booking"],
		"seeds": [{"kind": "category", "value": "https://www.airbnb.com/help/topic/1"}]
	}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"run_id":"run-1"`)
	require.Len(t, env.runner.jobs, 1)
	job := env.runner.jobs[0]
	require.Equal(t, crawler.PlatformAirbnb, job.Platform)
	require.Equal(t, []sources.Seed{
		{Kind: sources.SeedCategory, Value: "https://www.airbnb.com/help/topic/1"},
		{Kind: sources.SeedURL, Value: "https://www.airbnb.com/help/article/149"},
		{Kind: sources.SeedQuery, Value: "cancel booking"},
	}, job.Seeds)
}

func TestSubmitCrawlFallsBackToManifest(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	rec := env.do(http.MethodPost, "/v1/crawls", `{"platform":"reddit"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "https://www.reddit.com/r/AirBnB", env.runner.jobs[0].Seeds[0].Value)
}

func TestSubmitCrawlRejectsBadRequests(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	tests := map[string]string{
		"invalid json":      `{invalid`,
		"unknown platform":  `{"platform":"expedia","urls":["https://x.example"]}`,
		"no seeds":          `{"platform":"airbnb"}`,
		"relative url seed": `{"platform":"airbnb","urls":["/help"]}`,
		"bad kind":          `{"platform":"airbnb","seeds":[{"kind":"sitemap","value":"x"}]}`,
	}
	for name, body := range tests {
		rec := env.do(http.MethodPost, "/v1/crawls", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
	require.Empty(t, env.runner.jobs)
}

func TestGetAndListCrawls(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	ctx := context.Background()
	require.NoError(t, env.runs.CreateRun(ctx, crawler.Run{ID: "old", Platform: crawler.PlatformReddit, Created: time.Unix(100, 0)}))
	require.NoError(t, env.runs.CreateRun(ctx, crawler.Run{ID: "new", Platform: crawler.PlatformAirbnb, Created: time.Unix(200, 0)}))
	summary := &crawler.Summary{RunID: "new", NewCount: 3}
	require.NoError(t, env.runs.UpdateRun(ctx, "new", crawler.RunSucceeded, summary, ""))

	rec := env.do(http.MethodGet, "/v1/crawls/new", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var run crawler.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.Equal(t, crawler.RunSucceeded, run.Status)
	require.Equal(t, 3, run.Summary.NewCount)

	rec = env.do(http.MethodGet, "/v1/crawls?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs []crawler.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	require.Equal(t, "new", list.Runs[0].ID)

	require.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/v1/crawls/missing", "").Code)
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/v1/crawls?limit=zero", "").Code)
}

func TestCancelCrawl(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	rec := env.do(http.MethodPost, "/v1/crawls/run-9/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []string{"run-9"}, env.runner.canceled)

	env.runner.cancelErr = dispatcher.ErrFinished
	require.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/v1/crawls/run-9/cancel", "").Code)
	env.runner.cancelErr = crawler.ErrRunNotFound
	require.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/v1/crawls/run-9/cancel", "").Code)
}

func TestPlatformsAndRateLimit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	rec := env.do(http.MethodGet, "/v1/platforms", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"platforms":[{"name":"airbnb","seeds":0},{"name":"reddit","seeds":1}]}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/v1/ratelimit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"reddit"`)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	rec := env.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/readyz", "").Code)

	rec = env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{APIKey: "secret"})
	require.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/v1/platforms", "").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/platforms", "", "X-API-Key", "secret").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/platforms?api_key=secret", "").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "").Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	rec := env.do(http.MethodGet, "/healthz", "", "X-Request-ID", "abc-123")
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
