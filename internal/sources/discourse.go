package sources

import (
	"context"
	"encoding/json"
	"fmt"
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
	airHostsBase        = "https://airhostsforum.com"
	discourseQuestionCh = 600
)

var topicPath = regexp.MustCompile(`^/t/(?:([^/]+)/)?(\d+)`)

// Discourse reads a Discourse forum through its JSON endpoints. A topic
// becomes one record: title plus opening post as the question, replies as
// the answer.
type Discourse struct {
	platform   crawler.Platform
	source     string
	base       string
	quality    extract.Quality
	relevance  *extract.Relevance
	maxReplies int
	logger     *zap.Logger
}

type discourseTopic struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	Slug       string   `json:"slug"`
	PostsCount int      `json:"posts_count"`
	Tags       []string `json:"tags"`
	PostStream struct {
		Posts []struct {
			Username   string  `json:"username"`
			Cooked     string  `json:"cooked"`
			CreatedAt  string  `json:"created_at"`
			PostNumber int     `json:"post_number"`
			Score      float64 `json:"score"`
		} `json:"posts"`
	} `json:"post_stream"`
	LikeCount int `json:"like_count"`
}

type discourseTopicRef struct {
	ID         int64  `json:"id"`
	Slug       string `json:"slug"`
	Title      string `json:"title"`
	PostsCount int    `json:"posts_count"`
}

type discourseList struct {
	TopicList struct {
		Topics        []discourseTopicRef `json:"topics"`
		MoreTopicsURL string              `json:"more_topics_url"`
	} `json:"topic_list"`
	Topics []discourseTopicRef `json:"topics"`
}

// NewAirHosts returns the AirHosts Forum source.
func NewAirHosts(opts Options) *Discourse {
	return &Discourse{
		platform:   crawler.PlatformAirHosts,
		source:     "AirHosts Forum",
		base:       airHostsBase,
		quality:    opts.quality(crawler.PlatformAirHosts),
		relevance:  communityRelevance(),
		maxReplies: opts.maxReplies(),
		logger:     opts.logger(crawler.PlatformAirHosts),
	}
}

// Platform implements Source.
func (d *Discourse) Platform() crawler.Platform { return d.platform }

// ContentType implements Source.
func (d *Discourse) ContentType() crawler.ContentType { return crawler.ContentCommunity }

// Mode implements Source.
func (d *Discourse) Mode() crawler.FetchMode { return crawler.FetchStatic }

// Expand implements Source. URL seeds may be topics or category pages;
// category seeds are category paths such as "c/hosting/5".
func (d *Discourse) Expand(seed Seed) ([]Target, error) {
	value := strings.TrimSpace(seed.Value)
	switch seed.Kind {
	case SeedURL, "":
		u, err := url.Parse(value)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("%s: %q is not an absolute url", d.platform, value)
		}
		if m := topicPath.FindStringSubmatch(u.Path); m != nil {
			id, _ := strconv.ParseInt(m[2], 10, 64)
			return []Target{d.topic(u.Scheme+"://"+u.Host, m[1], id, "")}, nil
		}
		return []Target{d.list(strings.TrimSuffix(value, "/"), "")}, nil
	case SeedCategory:
		path := strings.Trim(value, "/")
		if path == "" {
			return nil, errEmptyQuery
		}
		if !strings.HasPrefix(path, "c/") {
			path = "c/" + path
		}
		return []Target{d.list(d.base+"/"+path, path)}, nil
	case SeedQuery:
		if value == "" {
			return nil, errEmptyQuery
		}
		return []Target{{
			URL:     d.base + "/search.json?" + url.Values{"q": {value}}.Encode(),
			Kind:    TargetListing,
			Headers: jsonHeaders(),
			Page:    1,
		}}, nil
	default:
		return nil, fmt.Errorf("%s %q: %w", d.platform, seed.Kind, errUnsupported)
	}
}

// Parse implements Source.
func (d *Discourse) Parse(_ context.Context, target Target, res crawler.RawFetchResult) Result {
	if target.Kind == TargetListing {
		var list discourseList
		if err := json.Unmarshal(res.Body, &list); err != nil {
			d.logger.Warn("invalid topic list", zap.String("url", target.Location()), zap.Error(err))
			return Result{}
		}
		return d.parseList(target, list)
	}

	var topic discourseTopic
	if err := json.Unmarshal(res.Body, &topic); err != nil {
		d.logger.Warn("invalid topic", zap.String("url", target.Location()), zap.Error(err))
		return Result{}
	}
	posts := topic.PostStream.Posts
	if len(posts) == 0 {
		return Result{}
	}
	title := extract.CollapseWhitespace(topic.Title)
	question := joinSentences(title, extract.Truncate(extract.SanitizeHTML(posts[0].Cooked), discourseQuestionCh))

	var replies []string
	for _, p := range posts[1:] {
		if len(replies) >= d.maxReplies {
			break
		}
		if text := extract.SanitizeHTML(p.Cooked); text != "" {
			replies = append(replies, text)
		}
	}
	answer := strings.Join(replies, "\n\n")
	if !d.quality.Accept(title, answer) {
		d.logger.Debug("rejected topic", zap.String("url", target.URL), zap.Int("replies", len(replies)))
		return Result{}
	}

	likes := topic.LikeCount
	category := target.Category
	if category == "" && len(topic.Tags) > 0 {
		category = topic.Tags[0]
	}
	rec := crawler.CandidateRecord{
		Platform:    d.platform,
		URL:         target.URL,
		Question:    question,
		Answer:      answer,
		Author:      posts[0].Username,
		PublishedAt: extract.ParseDate(posts[0].CreatedAt),
		Score:       &likes,
		ContentType: crawler.ContentCommunity,
		Category:    category,
		Source:      d.source,
	}
	return Result{Records: finalize([]crawler.CandidateRecord{rec}, d.quality, d.relevance)}
}

func (d *Discourse) parseList(target Target, list discourseList) Result {
	topics := list.TopicList.Topics
	if len(topics) == 0 {
		topics = list.Topics
	}
	root := d.base
	if u, err := url.Parse(target.Location()); err == nil && u.Host != "" {
		root = u.Scheme + "://" + u.Host
	}

	var out Result
	for _, t := range topics {
		if t.ID == 0 || (t.PostsCount > 0 && t.PostsCount < 2) {
			continue
		}
		out.Follow = append(out.Follow, d.topic(root, t.Slug, t.ID, target.Category))
	}
	if more := list.TopicList.MoreTopicsURL; more != "" {
		next := d.list(root+moreTopicsPath(more), target.Category)
		next.Page = target.Page + 1
		out.Next = &next
	}
	return out
}

func (d *Discourse) topic(root, slug string, id int64, category string) Target {
	canonical := fmt.Sprintf("%s/t/%d", root, id)
	if slug != "" {
		canonical = fmt.Sprintf("%s/t/%s/%d", root, slug, id)
	}
	if n, err := crawler.NormalizeURL(canonical); err == nil {
		canonical = n
	}
	return Target{
		URL:      canonical,
		FetchURL: fmt.Sprintf("%s/t/%d.json", root, id),
		Kind:     TargetItem,
		Category: category,
		Headers:  jsonHeaders(),
	}
}

// list targets the JSON form of a Discourse list page.
func (d *Discourse) list(pageURL, category string) Target {
	u, err := url.Parse(pageURL)
	if err == nil && !strings.HasSuffix(u.Path, ".json") {
		u.Path = strings.TrimSuffix(u.Path, "/") + ".json"
		pageURL = u.String()
	}
	return Target{URL: pageURL, Kind: TargetListing, Category: category, Headers: jsonHeaders(), Page: 1}
}

func moreTopicsPath(more string) string {
	if !strings.HasPrefix(more, "/") {
		more = "/" + more
	}
	return more
}

func jsonHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	return h
}
