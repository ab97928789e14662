package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
	"github.com/JakeFAU/ota-answers-crawler/internal/extract"
)

const stackExchangeAPI = "https://api.stackexchange.com/2.3"

var questionID = regexp.MustCompile(`/questions/(\d+)`)

// StackExchange reads questions and answers through the public API.
// A question yields its own record plus one record per answer.
type StackExchange struct {
	api       string
	site      string
	key       string
	pageSize  int
	quality   extract.Quality
	relevance *extract.Relevance
	logger    *zap.Logger
}

type seOwner struct {
	DisplayName string `json:"display_name"`
}

type seItem struct {
	QuestionID   int64    `json:"question_id"`
	AnswerID     int64    `json:"answer_id"`
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	Link         string   `json:"link"`
	Score        int      `json:"score"`
	AnswerCount  int      `json:"answer_count"`
	CreationDate int64    `json:"creation_date"`
	Tags         []string `json:"tags"`
	Owner        seOwner  `json:"owner"`
}

type seResponse struct {
	Items          []seItem `json:"items"`
	HasMore        bool     `json:"has_more"`
	Backoff        int      `json:"backoff"`
	QuotaRemaining int      `json:"quota_remaining"`
	ErrorID        int      `json:"error_id"`
	ErrorMessage   string   `json:"error_message"`
}

// NewStackExchange returns the Stack Exchange source. The site defaults to
// travel.stackexchange.com.
func NewStackExchange(opts Options) *StackExchange {
	site := strings.TrimSpace(opts.StackExchangeSite)
	if site == "" {
		site = "travel"
	}
	return &StackExchange{
		api:       stackExchangeAPI,
		site:      site,
		key:       opts.StackExchangeKey,
		pageSize:  20,
		quality:   opts.quality(crawler.PlatformStackOverflow),
		relevance: communityRelevance(),
		logger:    opts.logger(crawler.PlatformStackOverflow),
	}
}

// Platform implements Source.
func (s *StackExchange) Platform() crawler.Platform { return crawler.PlatformStackOverflow }

// ContentType implements Source.
func (s *StackExchange) ContentType() crawler.ContentType { return crawler.ContentCommunity }

// Mode implements Source.
func (s *StackExchange) Mode() crawler.FetchMode { return crawler.FetchStatic }

// Expand implements Source. URL seeds must point at a question, category
// seeds are tags and query seeds use the advanced search.
func (s *StackExchange) Expand(seed Seed) ([]Target, error) {
	value := strings.TrimSpace(seed.Value)
	switch seed.Kind {
	case SeedURL, "":
		m := questionID.FindStringSubmatch(value)
		if m == nil {
			return nil, fmt.Errorf("%s: %q is not a question url", crawler.PlatformStackOverflow, value)
		}
		return []Target{s.listing("questions/"+m[1], url.Values{"sort": {"votes"}}, 1, "")}, nil
	case SeedCategory:
		if value == "" {
			return nil, errEmptyQuery
		}
		return []Target{s.listing("questions", url.Values{"tagged": {value}, "sort": {"votes"}, "order": {"desc"}}, 1, value)}, nil
	case SeedQuery:
		if value == "" {
			return nil, errEmptyQuery
		}
		return []Target{s.listing("search/advanced", url.Values{"q": {value}, "sort": {"votes"}, "order": {"desc"}, "answers": {"1"}}, 1, "")}, nil
	default:
		return nil, fmt.Errorf("%s %q: %w", crawler.PlatformStackOverflow, seed.Kind, errUnsupported)
	}
}

// Parse implements Source.
func (s *StackExchange) Parse(_ context.Context, target Target, res crawler.RawFetchResult) Result {
	var payload seResponse
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		s.logger.Warn("invalid api response", zap.String("url", target.Location()), zap.Error(err))
		return Result{}
	}
	out := Result{Backoff: time.Duration(payload.Backoff) * time.Second}
	if payload.ErrorID != 0 {
		s.logger.Warn("api error",
			zap.Int("error_id", payload.ErrorID),
			zap.String("message", payload.ErrorMessage),
		)
		return out
	}
	if payload.QuotaRemaining > 0 && payload.QuotaRemaining < 10 {
		s.logger.Warn("api quota nearly exhausted", zap.Int("quota_remaining", payload.QuotaRemaining))
	}

	if target.Parent != nil {
		out.Records = s.answers(*target.Parent, payload.Items)
		return out
	}

	var records []crawler.CandidateRecord
	for _, item := range payload.Items {
		rec := s.question(item, target.Category)
		records = append(records, rec)
		if item.AnswerCount == 0 {
			continue
		}
		parent := rec
		follow := s.listing(fmt.Sprintf("questions/%d/answers", item.QuestionID), url.Values{"sort": {"votes"}, "order": {"desc"}}, 1, target.Category)
		follow.Kind = TargetItem
		follow.Parent = &parent
		out.Follow = append(out.Follow, follow)
	}
	out.Records = finalize(records, s.quality, s.relevance)
	if payload.HasMore && target.Kind == TargetListing {
		next := s.nextPage(target)
		out.Next = &next
	}
	return out
}

func (s *StackExchange) question(item seItem, category string) crawler.CandidateRecord {
	score := item.Score
	link := item.Link
	if link == "" {
		link = fmt.Sprintf("https://%s/questions/%d", s.host(), item.QuestionID)
	}
	if n, err := crawler.NormalizeURL(link); err == nil {
		link = n
	}
	if category == "" && len(item.Tags) > 0 {
		category = item.Tags[0]
	}
	return crawler.CandidateRecord{
		Platform:    crawler.PlatformStackOverflow,
		URL:         link,
		Question:    html.UnescapeString(item.Title),
		Answer:      extract.SanitizeHTML(item.Body),
		Author:      html.UnescapeString(item.Owner.DisplayName),
		PublishedAt: extract.UnixTime(float64(item.CreationDate)),
		Score:       &score,
		ContentType: crawler.ContentCommunity,
		Category:    category,
		Source:      s.sourceName(),
	}
}

func (s *StackExchange) answers(parent crawler.CandidateRecord, items []seItem) []crawler.CandidateRecord {
	records := make([]crawler.CandidateRecord, 0, len(items))
	for _, item := range items {
		score := item.Score
		records = append(records, crawler.CandidateRecord{
			Platform:    crawler.PlatformStackOverflow,
			URL:         fmt.Sprintf("https://%s/a/%d", s.host(), item.AnswerID),
			Question:    parent.Question,
			Answer:      extract.SanitizeHTML(item.Body),
			Author:      html.UnescapeString(item.Owner.DisplayName),
			PublishedAt: extract.UnixTime(float64(item.CreationDate)),
			Score:       &score,
			ContentType: crawler.ContentCommunity,
			Category:    parent.Category,
			Source:      s.sourceName(),
		})
	}
	return finalize(records, s.quality, s.relevance)
}

func (s *StackExchange) listing(path string, params url.Values, page int, category string) Target {
	params.Set("site", s.site)
	params.Set("filter", "withbody")
	params.Set("page", strconv.Itoa(page))
	params.Set("pagesize", strconv.Itoa(s.pageSize))
	if s.key != "" {
		params.Set("key", s.key)
	}
	return Target{
		URL:      s.api + "/" + path + "?" + params.Encode(),
		Kind:     TargetListing,
		Category: category,
		Page:     page,
	}
}

func (s *StackExchange) nextPage(target Target) Target {
	next := target
	next.Page = target.Page + 1
	if u, err := url.Parse(target.URL); err == nil {
		q := u.Query()
		q.Set("page", strconv.Itoa(next.Page))
		u.RawQuery = q.Encode()
		next.URL = u.String()
	}
	next.FetchURL = ""
	return next
}

func (s *StackExchange) host() string {
	switch {
	case strings.Contains(s.site, "."):
		return s.site
	case s.site == "stackoverflow":
		return "stackoverflow.com"
	default:
		return s.site + ".stackexchange.com"
	}
}

func (s *StackExchange) sourceName() string {
	return "Stack Exchange (" + s.host() + ")"
}
