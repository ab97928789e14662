package extract

import (
	"strings"
)

// Quality rejects soft-404 pages and boilerplate.
type Quality struct {
	MinLength    int
	Placeholders []string
}

// IsPlaceholder reports whether title is a known placeholder. Matching is
// case-insensitive on the whole title or on a " | " / " - " separated prefix.
func (q Quality) IsPlaceholder(title string) bool {
	t := strings.ToLower(CollapseWhitespace(title))
	if t == "" {
		return true
	}
	for _, p := range q.Placeholders {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if t == p || strings.HasPrefix(t, p+" |") || strings.HasPrefix(t, p+" -") {
			return true
		}
	}
	return false
}

// Accept reports whether a page with this title and body should yield records.
func (q Quality) Accept(title, body string) bool {
	if q.IsPlaceholder(title) {
		return false
	}
	return len([]rune(strings.TrimSpace(body))) >= q.MinLength
}

// Relevance is a keyword membership test for community content.
type Relevance struct {
	Allow []string
	Deny  []string
}

// Relevant reports whether text contains at least one allow-list term and
// no deny-list terms. An empty allow list admits everything not denied.
func (r Relevance) Relevant(text string) bool {
	lower := strings.ToLower(text)
	for _, d := range r.Deny {
		if d != "" && strings.Contains(lower, strings.ToLower(d)) {
			return false
		}
	}
	if len(r.Allow) == 0 {
		return true
	}
	for _, a := range r.Allow {
		if a != "" && strings.Contains(lower, strings.ToLower(a)) {
			return true
		}
	}
	return false
}
