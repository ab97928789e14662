package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	_, err = NewChromedp(Config{BlockedResources: []string{"Holograms"}})
	require.ErrorContains(t, err, "unknown resource type")

	fetcher, err := NewChromedp(Config{MaxParallel: 2, BlockedResources: []string{"Image", "stylesheet", "Font"}})
	require.NoError(t, err)
	t.Cleanup(fetcher.Close)
	require.Equal(t, 2, cap(fetcher.limiter))
	require.Equal(t, []network.ResourceType{
		network.ResourceTypeImage,
		network.ResourceTypeStylesheet,
		network.ResourceTypeFont,
	}, fetcher.blocked)
	require.Equal(t, defaultViewportWidth, fetcher.cfg.ViewportWidth)
	require.Equal(t, defaultNetworkIdleWait, fetcher.cfg.NetworkIdleWait)
}

func TestFetcherNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	require.Equal(t, defaultNavTimeout, fetcher.navTimeout())
	fetcher.cfg.NavigationTimeout = time.Second
	require.Equal(t, time.Second, fetcher.navTimeout())
}

func TestBlockPatterns(t *testing.T) {
	t.Parallel()

	patterns := blockPatterns([]network.ResourceType{network.ResourceTypeImage, network.ResourceTypeFont})
	require.Len(t, patterns, 2)
	require.Equal(t, network.ResourceTypeImage, patterns[0].ResourceType)
	require.Equal(t, fetch.RequestStageRequest, patterns[1].RequestStage)
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	netHeaders := toNetworkHeaders(http.Header{"Accept-Language": {"en-US"}, "X-Multi": {"a", "b"}, "X-Empty": {}})
	require.Equal(t, "en-US", netHeaders["Accept-Language"])
	require.Equal(t, "a, b", netHeaders["X-Multi"])
	require.NotContains(t, netHeaders, "X-Empty")
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  404,
			URL:     "https://www.tripadvisor.com/ShowTopic-x.html",
			Headers: network.Headers{"Set-Cookie": "a=1\nb=2", "X-Request-ID": "abc"},
		},
	})
	// Subsequent documents (iframes) do not overwrite the page response.
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://ads.example.com/frame"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 500, URL: "https://cdn.example.com/x.png"},
	})

	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, 404, status)
	require.Equal(t, "abc", headers.Get("X-Request-ID"))
	require.Equal(t, []string{"a=1", "b=2"}, headers.Values("Set-Cookie"))
	require.Equal(t, "https://www.tripadvisor.com/ShowTopic-x.html", url)

	status, _, url = newResponseMeta().snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://final", url)
}

func TestIdleSignal(t *testing.T) {
	t.Parallel()

	idle := newIdleSignal()
	// Events before arming belong to the blank tab.
	idle.captureEvent(&page.EventLifecycleEvent{Name: "networkIdle"})
	start := time.Now()
	require.NoError(t, idle.wait(context.Background(), 30*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	idle.arm()
	idle.captureEvent(&page.EventLifecycleEvent{Name: "load"})
	idle.captureEvent(&page.EventLifecycleEvent{Name: "networkIdle"})
	idle.captureEvent(&page.EventLifecycleEvent{Name: "networkIdle"})
	start = time.Now()
	require.NoError(t, idle.wait(context.Background(), time.Minute))
	require.Less(t, time.Since(start), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, newIdleSignal().wait(ctx, time.Minute))
}

type stubPacer struct{ err error }

func (s stubPacer) Wait(context.Context, string) error { return s.err }

func TestFetchStopsWhenPacerFails(t *testing.T) {
	t.Parallel()

	boom := errors.New("paced out")
	fetcher, err := NewChromedp(Config{Pacer: stubPacer{err: boom}})
	require.NoError(t, err)
	t.Cleanup(fetcher.Close)

	_, err = fetcher.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com"})
	require.ErrorIs(t, err, boom)
}

func TestAcquireRespectsContext(t *testing.T) {
	t.Parallel()

	fetcher, err := NewChromedp(Config{MaxParallel: 1})
	require.NoError(t, err)
	t.Cleanup(fetcher.Close)

	require.NoError(t, fetcher.acquire(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, fetcher.acquire(ctx), context.Canceled)
	fetcher.release()
	require.NoError(t, fetcher.acquire(context.Background()))
}

func TestNoopFetcherError(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com"})
	require.ErrorIs(t, err, ErrDisabled)
	require.Equal(t, crawler.KindNetwork, crawler.Classify(err))
}
