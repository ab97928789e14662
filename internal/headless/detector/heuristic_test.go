package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
)

func html(body string) crawler.RawFetchResult {
	return crawler.RawFetchResult{
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": {"text/html"}},
		Body:       []byte(body),
	}
}

func TestShouldPromoteEmptyBody(t *testing.T) {
	t.Parallel()

	require.True(t, NewHeuristic(100).ShouldPromote(html("")))
}

func TestShouldPromoteSPAShell(t *testing.T) {
	t.Parallel()

	require.True(t, NewHeuristic(100).ShouldPromote(html(`<html><body><div id="__next"></div></body></html>`)))
}

func TestShouldPromoteScriptDensity(t *testing.T) {
	t.Parallel()

	require.True(t, NewHeuristic(1000).ShouldPromote(html(`<html><script>var a=1;</script><p>t</p></html>`)))
}

func TestServerRenderedPageWithMarkerStaysStatic(t *testing.T) {
	t.Parallel()

	body := `<html><body><div id="__next"><h1>How do I cancel a booking?</h1><p>` +
		strings.Repeat("Open your trips and choose the reservation to cancel. ", 10) +
		`</p></div></body></html>`
	require.False(t, NewHeuristic(100).ShouldPromote(html(body)))
}

func TestJSONIsNeverPromoted(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	require.False(t, h.ShouldPromote(crawler.RawFetchResult{StatusCode: 200, Body: []byte(`{"items":[]}`)}))
	require.False(t, h.ShouldPromote(crawler.RawFetchResult{
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": {"application/json; charset=utf-8"}},
		Body:       []byte(` `),
	}))
}

func TestNon200AndRenderedAreNotPromoted(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	res := html("not found")
	res.StatusCode = 404
	require.False(t, h.ShouldPromote(res))

	res = html(`<div id="root"></div>`)
	res.Rendered = true
	require.False(t, h.ShouldPromote(res))
}
