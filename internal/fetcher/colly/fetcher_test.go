package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/help/cancel-booking", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("X-Echo-UA", r.Header.Get("User-Agent"))
		w.Header().Set("X-Echo-Lang", r.Header.Get("Accept-Language"))
		w.Header().Set("X-Echo-Trace", r.Header.Get("X-Trace"))
		_, _ = w.Write([]byte("<html><title>How do I cancel a booking?</title></html>"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	})
	mux.HandleFunc("/throttled", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "5")
		http.Error(w, "retry in 5 seconds", http.StatusTooManyRequests)
	})
	mux.HandleFunc("/bad", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error_id":400}`, http.StatusBadRequest)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
		_, _ = w.Write([]byte("late"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchSuccessSendsBrowserHeaders(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{UserAgent: "test-agent/1.0", AcceptLanguage: "en-US,en;q=0.9", Timeout: time.Second})

	req := crawler.FetchRequest{
		Platform: crawler.PlatformAirbnb,
		URL:      srv.URL + "/help/cancel-booking",
		Mode:     crawler.FetchStatic,
		Headers:  http.Header{"X-Trace": {"abc"}},
	}
	res, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(res.Body), "cancel a booking")
	require.Equal(t, "test-agent/1.0", res.Headers.Get("X-Echo-UA"))
	require.Equal(t, "en-US,en;q=0.9", res.Headers.Get("X-Echo-Lang"))
	require.Equal(t, "abc", res.Headers.Get("X-Echo-Trace"))
	require.False(t, res.Rendered)

	// Refetching the same URL must not be blocked by the visited store.
	_, err = f.Fetch(context.Background(), req)
	require.NoError(t, err)
}

func TestFetchSurfacesHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{Timeout: time.Second})

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/missing"})
	var httpErr *crawler.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusNotFound, httpErr.Status)
	require.Contains(t, string(httpErr.Body), "not here")

	_, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/throttled"})
	tooMany, ok := crawler.IsTooManyRequests(err)
	require.True(t, ok)
	require.Equal(t, "5", tooMany.Headers.Get("Retry-After"))

	_, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/bad"})
	require.ErrorIs(t, err, crawler.ErrBadRequest)
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{Timeout: 50 * time.Millisecond})

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/slow"})
	var timeoutErr *crawler.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, crawler.KindTimeout, crawler.Classify(err))
}

func TestFetchNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/gone"
	srv.Close()

	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: url})
	require.Error(t, err)
	require.Equal(t, crawler.KindNetwork, crawler.Classify(err))
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{Timeout: 5 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL + "/slow"})
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestSetHeadersOverridesDefaults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("Accept")))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{})
	res, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL,
		Headers: http.Header{"Accept": {"application/json"}},
	})
	require.NoError(t, err)
	require.Equal(t, "application/json", string(res.Body))
}
