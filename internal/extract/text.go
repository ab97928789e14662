package extract

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var (
	whitespace = regexp.MustCompile(`[\s\p{Z}]+`)
	blockTags  = regexp.MustCompile(`(?i)<(/?(p|div|br|li|ul|ol|h[1-6]|blockquote|pre|tr|td)\b[^>]*)>`)
	strict     = bluemonday.StrictPolicy()
)

// CollapseWhitespace folds runs of whitespace into single spaces and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// Text returns the visible text of sel with script, style, and noscript
// elements removed. The selection is cloned so the document is untouched.
func Text(sel *goquery.Selection) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	clone := sel.Clone()
	clone.Find("script, style, noscript, template").Remove()
	clone.Find("br, p, div, li").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return CollapseWhitespace(clone.Text())
}

// SanitizeHTML converts an HTML fragment (typically from a JSON API) into
// plain text: tags are stripped, entities decoded, whitespace collapsed.
func SanitizeHTML(fragment string) string {
	if fragment == "" {
		return ""
	}
	spaced := blockTags.ReplaceAllString(fragment, " <$1> ")
	return CollapseWhitespace(html.UnescapeString(strict.Sanitize(spaced)))
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
