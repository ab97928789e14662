// Package detector decides when a static fetch needs a rendered re-fetch.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
	"github.com/JakeFAU/ota-answers-crawler/internal/extract"
)

const defaultMinTextChars = 200

// Heuristic promotes HTML shells whose content is produced by JavaScript.
type Heuristic struct {
	BodyLengthThreshold int
	MinTextChars        int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold, MinTextChars: defaultMinTextChars}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-app"),
	[]byte("You need to enable JavaScript"),
}

// ShouldPromote reports whether probe looks like an unrendered JS shell:
// a 200 HTML response with little visible text that is either tiny and
// script-heavy or carries a single-page-app marker.
func (h *Heuristic) ShouldPromote(probe crawler.RawFetchResult) bool {
	if probe.Rendered || probe.StatusCode != 200 || isJSON(probe) {
		return false
	}
	body := probe.Body
	if len(body) == 0 {
		return true
	}
	share, visible := scriptShare(body)
	if visible >= h.MinTextChars {
		return false
	}
	if len(body) < h.BodyLengthThreshold && share >= 25 {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func isJSON(probe crawler.RawFetchResult) bool {
	if strings.Contains(strings.ToLower(probe.Headers.Get("Content-Type")), "json") {
		return true
	}
	trimmed := bytes.TrimSpace(probe.Body)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// scriptShare returns the percentage of body bytes inside <script> elements
// together with the number of visible text characters.
func scriptShare(body []byte) (percent, visible int) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, 0
	}
	scripts := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scripts += len(s.Text()) + len("<script></script>")
		if src, ok := s.Attr("src"); ok {
			scripts += len(src)
		}
	})
	return scripts * 100 / len(body), len([]rune(extract.Text(doc.Find("body"))))
}
