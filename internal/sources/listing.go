package sources

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
	"github.com/JakeFAU/ota-answers-crawler/internal/extract"
)

// listingRules describes how to find item links and the next page on an
// HTML listing page.
type listingRules struct {
	links   []string
	next    []string
	itemURL *regexp.Regexp
}

func (l listingRules) parse(page *extract.HTMLPage, target Target) Result {
	var res Result
	host := crawler.Host(target.URL)
	for _, link := range page.Links(l.links) {
		if crawler.Host(link) != host {
			continue
		}
		if l.itemURL != nil && !l.itemURL.MatchString(link) {
			continue
		}
		if link == target.URL {
			continue
		}
		res.Follow = append(res.Follow, Target{URL: link, Kind: TargetItem, Category: target.Category})
	}
	if next := page.First(l.next); next != "" {
		if abs, err := crawler.ResolveURL(target.URL, next); err == nil && abs != target.URL && crawler.Host(abs) == host {
			res.Next = &Target{URL: abs, Kind: TargetListing, Category: target.Category, Page: target.Page + 1}
		}
	}
	return res
}

func itemTarget(raw string) ([]Target, error) {
	u, err := crawler.NormalizeURL(raw)
	if err != nil {
		return nil, err
	}
	return []Target{{URL: u, Kind: TargetItem}}, nil
}

func listingTarget(raw string) ([]Target, error) {
	u, err := crawler.NormalizeURL(raw)
	if err != nil {
		return nil, err
	}
	return []Target{{URL: u, Kind: TargetListing, Page: 1}}, nil
}

func searchTarget(format, query string) ([]Target, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, errEmptyQuery
	}
	u := strings.ReplaceAll(format, "{q}", url.QueryEscape(q))
	return listingTarget(u)
}
