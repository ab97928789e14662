package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
	"github.com/JakeFAU/ota-answers-crawler/internal/extract"
)

const (
	redditBase       = "https://www.reddit.com"
	redditPageSize   = 25
	redditQuestionCh = 600
	redditUserAgent  = "ota-answers-crawler/1.0 (+https://github.com/JakeFAU/ota-answers-crawler)"
)

var subredditPath = regexp.MustCompile(`^/r/([A-Za-z0-9_]+)/?`)

// Reddit reads subreddit listings and threads through the public JSON API.
// Each top-level comment on a thread is one record.
type Reddit struct {
	base       string
	userAgent  string
	quality    extract.Quality
	relevance  *extract.Relevance
	maxReplies int
	logger     *zap.Logger
}

type redditListing struct {
	Kind string `json:"kind"`
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Kind string      `json:"kind"`
			Data redditThing `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditThing struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Body        string  `json:"body"`
	Author      string  `json:"author"`
	Permalink   string  `json:"permalink"`
	Subreddit   string  `json:"subreddit"`
	Flair       string  `json:"link_flair_text"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Stickied    bool    `json:"stickied"`
}

// NewReddit returns the Reddit source.
func NewReddit(opts Options) *Reddit {
	ua := opts.UserAgent
	if ua == "" {
		ua = redditUserAgent
	}
	return &Reddit{
		base:       redditBase,
		userAgent:  ua,
		quality:    opts.quality(crawler.PlatformReddit),
		relevance:  communityRelevance(),
		maxReplies: opts.maxReplies(),
		logger:     opts.logger(crawler.PlatformReddit),
	}
}

// Platform implements Source.
func (r *Reddit) Platform() crawler.Platform { return crawler.PlatformReddit }

// ContentType implements Source.
func (r *Reddit) ContentType() crawler.ContentType { return crawler.ContentCommunity }

// Mode implements Source.
func (r *Reddit) Mode() crawler.FetchMode { return crawler.FetchStatic }

// Expand implements Source. Category seeds name a subreddit.
func (r *Reddit) Expand(seed Seed) ([]Target, error) {
	value := strings.TrimSpace(seed.Value)
	switch seed.Kind {
	case SeedURL, "":
		u, err := crawler.NormalizeURL(value)
		if err != nil {
			return nil, err
		}
		parsed, _ := url.Parse(u)
		if strings.Contains(parsed.Path, "/comments/") {
			return []Target{r.thread(u, "")}, nil
		}
		m := subredditPath.FindStringSubmatch(parsed.Path)
		if m == nil {
			return nil, fmt.Errorf("%s: %q is neither a thread nor a subreddit", crawler.PlatformReddit, value)
		}
		return []Target{r.subreddit(m[1], "")}, nil
	case SeedCategory:
		name := strings.TrimPrefix(strings.TrimPrefix(value, "/"), "r/")
		if name == "" {
			return nil, errEmptyQuery
		}
		return []Target{r.subreddit(name, "")}, nil
	case SeedQuery:
		if value == "" {
			return nil, errEmptyQuery
		}
		params := url.Values{"q": {value}, "sort": {"relevance"}, "t": {"year"}, "limit": {strconv.Itoa(redditPageSize)}, "raw_json": {"1"}}
		return []Target{{
			URL:     r.base + "/search.json?" + params.Encode(),
			Kind:    TargetListing,
			Headers: r.headers(),
			Page:    1,
		}}, nil
	default:
		return nil, fmt.Errorf("%s %q: %w", crawler.PlatformReddit, seed.Kind, errUnsupported)
	}
}

// Parse implements Source.
func (r *Reddit) Parse(_ context.Context, target Target, res crawler.RawFetchResult) Result {
	if target.Kind == TargetListing {
		var listing redditListing
		if err := json.Unmarshal(res.Body, &listing); err != nil {
			r.logger.Warn("invalid listing", zap.String("url", target.Location()), zap.Error(err))
			return Result{}
		}
		return r.parseListing(target, listing)
	}

	var pair []redditListing
	if err := json.Unmarshal(res.Body, &pair); err != nil || len(pair) < 2 || len(pair[0].Data.Children) == 0 {
		r.logger.Warn("invalid thread", zap.String("url", target.Location()), zap.Error(err))
		return Result{}
	}
	post := pair[0].Data.Children[0].Data
	question := html.UnescapeString(post.Title)
	if post.Selftext != "" {
		question = joinSentences(question, extract.Truncate(extract.CollapseWhitespace(html.UnescapeString(post.Selftext)), redditQuestionCh))
	}
	category := extract.FirstNonEmpty(target.Category, post.Flair, "r/"+post.Subreddit)

	var records []crawler.CandidateRecord
	for _, child := range pair[1].Data.Children {
		if child.Kind != "t1" || len(records) >= r.maxReplies {
			continue
		}
		c := child.Data
		body := extract.CollapseWhitespace(html.UnescapeString(c.Body))
		if body == "" || body == "[deleted]" || body == "[removed]" || c.Stickied {
			continue
		}
		link := r.base + c.Permalink
		if n, err := crawler.NormalizeURL(link); err == nil {
			link = n
		}
		score := c.Score
		records = append(records, crawler.CandidateRecord{
			Platform:    crawler.PlatformReddit,
			URL:         link,
			Question:    question,
			Answer:      body,
			Author:      c.Author,
			PublishedAt: extract.UnixTime(c.CreatedUTC),
			Score:       &score,
			ContentType: crawler.ContentCommunity,
			Category:    category,
			Source:      "Reddit r/" + post.Subreddit,
		})
	}
	return Result{Records: finalize(records, r.quality, r.relevance)}
}

func (r *Reddit) parseListing(target Target, listing redditListing) Result {
	var out Result
	for _, child := range listing.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		post := child.Data
		if post.Stickied || post.NumComments == 0 || post.Permalink == "" {
			continue
		}
		u, err := crawler.NormalizeURL(r.base + post.Permalink)
		if err != nil {
			continue
		}
		out.Follow = append(out.Follow, r.thread(u, target.Category))
	}
	if after := listing.Data.After; after != "" {
		if u, err := url.Parse(target.Location()); err == nil {
			q := u.Query()
			q.Set("after", after)
			u.RawQuery = q.Encode()
			next := target
			next.URL = u.String()
			next.FetchURL = ""
			next.Page = target.Page + 1
			out.Next = &next
		}
	}
	return out
}

func (r *Reddit) thread(canonical, category string) Target {
	params := url.Values{"raw_json": {"1"}, "sort": {"top"}, "limit": {strconv.Itoa(r.maxReplies * 2)}}
	return Target{
		URL:      canonical,
		FetchURL: strings.TrimSuffix(canonical, "/") + ".json?" + params.Encode(),
		Kind:     TargetItem,
		Category: category,
		Headers:  r.headers(),
	}
}

func (r *Reddit) subreddit(name, category string) Target {
	params := url.Values{"t": {"month"}, "limit": {strconv.Itoa(redditPageSize)}, "raw_json": {"1"}}
	return Target{
		URL:      r.base + "/r/" + name + "/top.json?" + params.Encode(),
		Kind:     TargetListing,
		Category: extract.FirstNonEmpty(category, "r/"+name),
		Headers:  r.headers(),
		Page:     1,
	}
}

func (r *Reddit) headers() http.Header {
	h := http.Header{}
	h.Set("User-Agent", r.userAgent)
	h.Set("Accept", "application/json")
	return h
}
