package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
)

// SelectorSet lists ordered CSS selector candidates per field.
type SelectorSet struct {
	Title  []string
	Body   []string
	Author []string
	Date   []string
}

// Fields is the result of evaluating a SelectorSet.
type Fields struct {
	Title  string
	Body   string
	Author string
	Date   string
}

// Page is the narrow view parsers need of a fetched document.
type Page interface {
	Evaluate(set SelectorSet) Fields
	First(selectors []string) string
	All(selector string) []*goquery.Selection
	Links(selectors []string) []string
	URL() string
}

// HTMLPage is a Page backed by goquery.
type HTMLPage struct {
	doc *goquery.Document
	url string
}

// NewHTMLPage parses body. pageURL is used to resolve relative links.
func NewHTMLPage(body []byte, pageURL string) (*HTMLPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &HTMLPage{doc: doc, url: pageURL}, nil
}

// Document exposes the underlying goquery document.
func (p *HTMLPage) Document() *goquery.Document {
	return p.doc
}

// URL returns the page URL.
func (p *HTMLPage) URL() string {
	return p.url
}

// Evaluate resolves every field through its fallback chain.
func (p *HTMLPage) Evaluate(set SelectorSet) Fields {
	return Fields{
		Title:  p.First(set.Title),
		Body:   p.First(set.Body),
		Author: p.First(set.Author),
		Date:   p.firstDate(set.Date),
	}
}

// First returns the text of the first selector that yields non-empty text.
// A selector may end in "@attr" to read an attribute instead of text.
func (p *HTMLPage) First(selectors []string) string {
	return FirstMatch(selectors, func(sel string) string {
		css, attr := splitAttr(sel)
		node := p.doc.Find(css).First()
		if attr != "" {
			v, _ := node.Attr(attr)
			return CollapseWhitespace(v)
		}
		return Text(node)
	})
}

func (p *HTMLPage) firstDate(selectors []string) string {
	return FirstMatch(selectors, func(sel string) string {
		css, attr := splitAttr(sel)
		node := p.doc.Find(css).First()
		if attr == "" {
			if v, ok := node.Attr("datetime"); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
			return Text(node)
		}
		v, _ := node.Attr(attr)
		return strings.TrimSpace(v)
	})
}

// All returns every element matching selector.
func (p *HTMLPage) All(selector string) []*goquery.Selection {
	var out []*goquery.Selection
	p.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, s)
	})
	return out
}

// Links collects absolute, normalized hrefs for every selector in order,
// without duplicates.
func (p *HTMLPage) Links(selectors []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, sel := range selectors {
		p.doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Attr("href")
			if !ok || strings.TrimSpace(href) == "" || strings.HasPrefix(href, "javascript:") {
				return
			}
			abs, err := crawler.ResolveURL(p.url, href)
			if err != nil {
				return
			}
			if _, dup := seen[abs]; dup {
				return
			}
			seen[abs] = struct{}{}
			out = append(out, abs)
		})
	}
	return out
}

// FirstMatch runs eval over candidates in order and returns the first
// non-empty result.
func FirstMatch(candidates []string, eval func(string) string) string {
	for _, c := range candidates {
		if v := strings.TrimSpace(eval(c)); v != "" {
			return v
		}
	}
	return ""
}

// FirstNonEmpty returns the first value that is not blank.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func splitAttr(sel string) (string, string) {
	if i := strings.LastIndex(sel, "@"); i > 0 && !strings.Contains(sel[i:], "]") {
		return strings.TrimSpace(sel[:i]), strings.TrimSpace(sel[i+1:])
	}
	return sel, ""
}
