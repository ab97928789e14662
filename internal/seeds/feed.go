package seeds

import (
	"bytes"
	"fmt"

	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
	"github.com/JakeFAU/ota-answers-crawler/internal/sources"
)

// ParseFeed turns an RSS, Atom or JSON feed body into URL seeds, one per
// item link, in feed order. limit <= 0 keeps every item.
func ParseFeed(body []byte, limit int) ([]sources.Seed, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	seen := make(map[string]struct{})
	var out []sources.Seed
	for _, item := range feed.Items {
		if limit > 0 && len(out) >= limit {
			break
		}
		link := item.Link
		if link == "" && len(item.Links) > 0 {
			link = item.Links[0]
		}
		u, err := crawler.NormalizeURL(link)
		if err != nil {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, sources.Seed{Kind: sources.SeedURL, Value: u})
	}
	return out, nil
}
