package sources

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
	"github.com/JakeFAU/ota-answers-crawler/internal/extract"
)

const tripAdvisorQuestionChars = 600

// TripAdvisor parses TripAdvisor forum threads. One thread is one record:
// the opening post is the question and the replies are the answer.
type TripAdvisor struct {
	quality    extract.Quality
	relevance  *extract.Relevance
	maxReplies int
	listing    listingRules
	logger     *zap.Logger
}

var tripAdvisorTitle = []string{"#HEADING", "h1.topTitle", ".postTitle h1", "h1", `meta[property="og:title"]@content`}

var tripAdvisorPosts = []string{".post .postBody", ".postBody", "div[data-post-id] .postcontent", ".forumPost .postBody"}

var tripAdvisorAuthor = []string{".post .username", ".postUserInfo .username", ".username"}

var tripAdvisorDate = []string{".post .postDate", ".postDate", "time"}

var tripAdvisorCategory = []string{"ul.breadcrumbs li:nth-last-child(2) a", ".breadcrumbs a"}

// NewTripAdvisor returns the TripAdvisor forum source.
func NewTripAdvisor(opts Options) *TripAdvisor {
	return &TripAdvisor{
		quality:    opts.quality(crawler.PlatformTripAdvisor),
		relevance:  communityRelevance(),
		maxReplies: opts.maxReplies(),
		listing: listingRules{
			links:   []string{`a[href*="ShowTopic-"]`},
			next:    []string{`link[rel="next"]@href`, "a.pageNext@href", `a.guiArw.sprite-pageNext@href`},
			itemURL: regexp.MustCompile(`/ShowTopic-`),
		},
		logger: opts.logger(crawler.PlatformTripAdvisor),
	}
}

// Platform implements Source.
func (t *TripAdvisor) Platform() crawler.Platform { return crawler.PlatformTripAdvisor }

// ContentType implements Source.
func (t *TripAdvisor) ContentType() crawler.ContentType { return crawler.ContentCommunity }

// Mode implements Source.
func (t *TripAdvisor) Mode() crawler.FetchMode { return crawler.FetchRendered }

// Expand implements Source. Forum index URLs are listings, topic URLs are items.
func (t *TripAdvisor) Expand(seed Seed) ([]Target, error) {
	switch seed.Kind {
	case SeedURL, "":
		if strings.Contains(seed.Value, "ShowForum-") {
			return listingTarget(seed.Value)
		}
		return itemTarget(seed.Value)
	case SeedCategory:
		return listingTarget(seed.Value)
	case SeedQuery:
		return searchTarget("https://www.tripadvisor.com/Search?q={q}&searchSessionId=&sid=&blockRedirect=true&ssrc=f", seed.Value)
	default:
		return nil, fmt.Errorf("%s %q: %w", crawler.PlatformTripAdvisor, seed.Kind, errUnsupported)
	}
}

// Parse implements Source.
func (t *TripAdvisor) Parse(_ context.Context, target Target, res crawler.RawFetchResult) Result {
	page, err := extract.NewHTMLPage(res.Body, target.URL)
	if err != nil {
		t.logger.Warn("unparseable page", zap.String("url", target.URL), zap.Error(err))
		return Result{}
	}
	if target.Kind == TargetListing {
		return t.listing.parse(page, target)
	}

	title := page.First(tripAdvisorTitle)
	posts := t.posts(page)
	if len(posts) == 0 {
		t.logger.Warn("thread has no posts", zap.String("url", target.URL))
		return Result{}
	}

	question := title
	if opening := extract.Truncate(posts[0], tripAdvisorQuestionChars); !strings.EqualFold(opening, title) {
		question = joinSentences(title, opening)
	}
	replies := posts[1:]
	if len(replies) > t.maxReplies {
		replies = replies[:t.maxReplies]
	}
	answer := strings.Join(replies, "\n\n")
	if !t.quality.Accept(title, answer) {
		t.logger.Debug("rejected thread", zap.String("url", target.URL), zap.Int("replies", len(replies)))
		return Result{}
	}

	rec := crawler.CandidateRecord{
		Platform:    crawler.PlatformTripAdvisor,
		URL:         target.URL,
		Question:    question,
		Answer:      answer,
		Author:      page.First(tripAdvisorAuthor),
		PublishedAt: extract.ParseDate(page.First(tripAdvisorDate)),
		ContentType: crawler.ContentCommunity,
		Category:    extract.FirstNonEmpty(target.Category, page.First(tripAdvisorCategory)),
		Source:      "TripAdvisor Forum",
	}
	return Result{Records: finalize([]crawler.CandidateRecord{rec}, t.quality, t.relevance)}
}

// posts returns the non-empty post bodies in page order using the first
// selector that matches anything.
func (t *TripAdvisor) posts(page *extract.HTMLPage) []string {
	for _, sel := range tripAdvisorPosts {
		var out []string
		page.Document().Find(sel).Each(func(_ int, s *goquery.Selection) {
			if text := extract.Text(s); text != "" {
				out = append(out, text)
			}
		})
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func joinSentences(first, second string) string {
	first, second = strings.TrimSpace(first), strings.TrimSpace(second)
	switch {
	case first == "":
		return second
	case second == "":
		return first
	case strings.ContainsAny(first[len(first)-1:], ".?!:"):
		return first + " " + second
	default:
		return first + ". " + second
	}
}
