package sources

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
)

func fetched(url, body string) crawler.RawFetchResult {
	return crawler.RawFetchResult{URL: url, StatusCode: 200, Body: []byte(body)}
}

func testOptions() Options {
	return Options{
		MinLength: func(p crawler.Platform) int {
			if p == crawler.PlatformStackOverflow || p == crawler.PlatformReddit {
				return 20
			}
			return 50
		},
		Placeholders: []string{"Page not found", "Help Center"},
		MaxReplies:   5,
	}
}

const cancelBookingBody = `To cancel a booking, go to Trips and choose the reservation you want to change. ` +
	`Select Change or cancel, then follow the steps to confirm. Your refund depends on the cancellation ` +
	`policy the host chose for the booking. Service fees are refunded if you cancel within 48 hours of booking ` +
	`and at least 14 days before check-in.`

func TestHelpCenterCancelBooking(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>How do I cancel a booking? - Airbnb Help Center</title></head><body>
<nav aria-label="Breadcrumb"><ol><li><a href="/help">Help</a></li><li><a href="/help/topic/1">Cancellations</a></li><li>Article</li></ol></nav>
<main><h1 data-testid="article-title">How do I cancel a booking?</h1>
<div data-testid="article-body"><p>` + cancelBookingBody + `</p><script>track()</script></div></main></body></html>`

	src := NewAirbnb(testOptions())
	targets, err := src.Expand(Seed{Kind: SeedURL, Value: "https://example.com/help/cancel-booking"})
	require.NoError(t, err)
	require.Len(t, targets, 1)

	res := src.Parse(context.Background(), targets[0], fetched(targets[0].URL, page))
	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	require.Equal(t, "https://example.com/help/cancel-booking", rec.URL)
	require.Equal(t, "How do I cancel a booking?", rec.Question)
	require.Equal(t, crawler.ContentOfficial, rec.ContentType)
	require.Equal(t, crawler.PlatformAirbnb, rec.Platform)
	require.Equal(t, "Cancellations", rec.Category)
	require.Contains(t, rec.Answer, "booking")
	require.NotContains(t, rec.Answer, "track()")
	require.Empty(t, res.Follow)
}

func TestHelpCenterQualityFilter(t *testing.T) {
	t.Parallel()

	src := NewGetYourGuide(testOptions())
	target := Target{URL: "https://supply.getyourguide.support/hc/en-us/articles/1", Kind: TargetItem}

	short := `<h1 class="article-title">How do payouts work?</h1><div class="article-body">Soon.</div>`
	require.Empty(t, src.Parse(context.Background(), target, fetched(target.URL, short)).Records)

	placeholder := `<h1 class="article-title">Page not found</h1><div class="article-body">` + cancelBookingBody + `</div>`
	require.Empty(t, src.Parse(context.Background(), target, fetched(target.URL, placeholder)).Records)

	require.Empty(t, src.Parse(context.Background(), target, fetched(target.URL, "")).Records)
}

func TestHelpCenterListing(t *testing.T) {
	t.Parallel()

	page := `<ul>
<li><a href="/help/article/123">Cancel</a></li>
<li><a href="/help/article/123#steps">Cancel again</a></li>
<li><a href="https://other.example/help/article/9">Elsewhere</a></li>
<li><a href="/help/topic/5">Topic</a></li>
</ul><a rel="next" href="/help/topic/1?page=2">Next</a>`

	src := NewAirbnb(testOptions())
	targets, err := src.Expand(Seed{Kind: SeedCategory, Value: "https://www.airbnb.com/help/topic/1"})
	require.NoError(t, err)
	require.Equal(t, TargetListing, targets[0].Kind)

	res := src.Parse(context.Background(), targets[0], fetched(targets[0].URL, page))
	require.Empty(t, res.Records)
	require.Len(t, res.Follow, 1)
	require.Equal(t, "https://www.airbnb.com/help/article/123", res.Follow[0].URL)
	require.Equal(t, TargetItem, res.Follow[0].Kind)
	require.NotNil(t, res.Next)
	require.Equal(t, "https://www.airbnb.com/help/topic/1?page=2", res.Next.URL)
	require.Equal(t, 2, res.Next.Page)
}

func TestHelpCenterExpand(t *testing.T) {
	t.Parallel()

	src := NewViator(testOptions())
	targets, err := src.Expand(Seed{Kind: SeedQuery, Value: "refund policy"})
	require.NoError(t, err)
	require.Equal(t, "https://www.viator.com/help/search?query=refund+policy", targets[0].URL)

	_, err = src.Expand(Seed{Kind: SeedQuery, Value: "  "})
	require.ErrorIs(t, err, errEmptyQuery)
	_, err = src.Expand(Seed{Kind: "feed", Value: "x"})
	require.ErrorIs(t, err, errUnsupported)
	_, err = src.Expand(Seed{Kind: SeedURL, Value: "/relative"})
	require.Error(t, err)
}

func forumThread(title string, posts ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><ul class="breadcrumbs"><li><a href="/">Home</a></li><li><a href="/ShowForum-g1-i2.html">Rome</a></li><li>Thread</li></ul>`)
	b.WriteString(`<h1 id="HEADING">` + title + `</h1>`)
	for i, p := range posts {
		b.WriteString(`<div class="post"><div class="username">user` + string(rune('a'+i)) + `</div><div class="postBody"><p>` + p + `</p></div></div>`)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func TestTripAdvisorThread(t *testing.T) {
	t.Parallel()

	page := forumThread("Cancel a Colosseum tour?",
		"We booked a guided tour for Friday but our flight moved.",
		"Most operators refund in full if you cancel 24 hours ahead.",
		"Check the ticket terms, skip-the-line entries are often non-refundable.",
	)
	src := NewTripAdvisor(testOptions())
	target := Target{URL: "https://www.tripadvisor.com/ShowTopic-g1-i2-k3.html", Kind: TargetItem}

	res := src.Parse(context.Background(), target, fetched(target.URL, page))
	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	require.Equal(t, "Cancel a Colosseum tour? We booked a guided tour for Friday but our flight moved.", rec.Question)
	require.Contains(t, rec.Answer, "Most operators refund")
	require.Contains(t, rec.Answer, "\n\nCheck the ticket terms")
	require.Equal(t, crawler.ContentCommunity, rec.ContentType)
	require.Equal(t, "Rome", rec.Category)
	require.Equal(t, "usera", rec.Author)
	require.Equal(t, crawler.FetchRendered, src.Mode())
}

func TestTripAdvisorRelevanceFilter(t *testing.T) {
	t.Parallel()

	page := forumThread("Wifi signal dropped",
		"The wifi signal dropped every evening in the room.",
		"Restarting the router did not help at all, the signal stayed weak.",
		"Same here, the wifi signal dropped near the window too.",
	)
	src := NewTripAdvisor(testOptions())
	target := Target{URL: "https://www.tripadvisor.com/ShowTopic-g1-i2-k4.html", Kind: TargetItem}

	require.Empty(t, src.Parse(context.Background(), target, fetched(target.URL, page)).Records)
}

func TestCommunityRelevanceScriptMarkers(t *testing.T) {
	t.Parallel()

	r := communityRelevance()
	require.True(t, r.Relevant("We booked the room with a view near the window."))
	require.False(t, r.Relevant("booking page: window.location = '/login'"))
	require.False(t, r.Relevant("booking window.__INITIAL_STATE__ = {}"))
}

func TestTripAdvisorListing(t *testing.T) {
	t.Parallel()

	page := `<html><head><link rel="next" href="/ShowForum-g1-i2-o20.html"></head><body>
<a href="/ShowTopic-g1-i2-k3.html">A</a><a href="/ShowTopic-g1-i2-k4.html">B</a><a href="/Hotels-g1.html">Hotels</a></body></html>`
	src := NewTripAdvisor(testOptions())
	targets, err := src.Expand(Seed{Kind: SeedURL, Value: "https://www.tripadvisor.com/ShowForum-g1-i2.html"})
	require.NoError(t, err)
	require.Equal(t, TargetListing, targets[0].Kind)

	res := src.Parse(context.Background(), targets[0], fetched(targets[0].URL, page))
	require.Len(t, res.Follow, 2)
	require.Equal(t, "https://www.tripadvisor.com/ShowTopic-g1-i2-k3.html", res.Follow[0].URL)
	require.NotNil(t, res.Next)
	require.Equal(t, "https://www.tripadvisor.com/ShowForum-g1-i2-o20.html", res.Next.URL)
}

const seQuestions = `{"items":[{"question_id":1,"title":"Can I cancel a tour booking?",
"body":"<p>I booked a tour with an operator and want a refund &amp; my deposit.</p>",
"link":"https://travel.stackexchange.com/questions/1/can-i-cancel","score":5,"answer_count":2,
"creation_date":1700000000,"tags":["cancellations"],"owner":{"display_name":"ann"}}],
"has_more":true,"backoff":10,"quota_remaining":250}`

const seAnswers = `{"items":[
{"answer_id":11,"question_id":1,"body":"<p>Yes, most operators refund a booking cancelled 24 hours ahead.</p>","score":7,"creation_date":1700000100,"owner":{"display_name":"bo"}},
{"answer_id":12,"question_id":1,"body":"<p>Check the supplier terms; fees vary by tour.</p>","score":2,"creation_date":1700000200,"owner":{"display_name":"cy"}}],
"has_more":false,"quota_remaining":249}`

func TestStackExchangeQuestionAndAnswers(t *testing.T) {
	t.Parallel()

	src := NewStackExchange(testOptions())
	targets, err := src.Expand(Seed{Kind: SeedQuery, Value: "cancel tour"})
	require.NoError(t, err)
	require.Contains(t, targets[0].URL, "https://api.stackexchange.com/2.3/search/advanced?")
	require.Contains(t, targets[0].URL, "site=travel")
	require.Contains(t, targets[0].URL, "filter=withbody")

	res := src.Parse(context.Background(), targets[0], fetched(targets[0].URL, seQuestions))
	require.Equal(t, 10*time.Second, res.Backoff)
	require.Len(t, res.Records, 1)
	question := res.Records[0]
	require.Equal(t, "https://travel.stackexchange.com/questions/1/can-i-cancel", question.URL)
	require.Equal(t, "I booked a tour with an operator and want a refund & my deposit.", question.Answer)
	require.Equal(t, "cancellations", question.Category)
	require.Equal(t, 5, *question.Score)
	require.NotNil(t, res.Next)
	require.Contains(t, res.Next.URL, "page=2")

	require.Len(t, res.Follow, 1)
	follow := res.Follow[0]
	require.Contains(t, follow.URL, "/questions/1/answers?")
	require.NotNil(t, follow.Parent)

	answers := src.Parse(context.Background(), follow, fetched(follow.URL, seAnswers))
	require.Len(t, answers.Records, 2)
	for _, rec := range answers.Records {
		require.Equal(t, question.Question, rec.Question)
	}
	require.Equal(t, "https://travel.stackexchange.com/a/11", answers.Records[0].URL)
	require.Equal(t, "bo", answers.Records[0].Author)
	require.Nil(t, answers.Next)

	total := len(res.Records) + len(answers.Records)
	require.Equal(t, 3, total)
}

func TestStackExchangeExpandAndErrors(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.StackExchangeSite = "stackoverflow"
	opts.StackExchangeKey = "k3y"
	src := NewStackExchange(opts)

	targets, err := src.Expand(Seed{Kind: SeedURL, Value: "https://stackoverflow.com/questions/4242/some-title"})
	require.NoError(t, err)
	require.Contains(t, targets[0].URL, "/2.3/questions/4242?")
	require.Contains(t, targets[0].URL, "key=k3y")
	require.Equal(t, "stackoverflow.com", src.host())

	_, err = src.Expand(Seed{Kind: SeedURL, Value: "https://stackoverflow.com/tags"})
	require.Error(t, err)

	res := src.Parse(context.Background(), targets[0], fetched(targets[0].URL, `{"error_id":502,"error_message":"too many requests","backoff":30}`))
	require.Empty(t, res.Records)
	require.Equal(t, 30*time.Second, res.Backoff)

	require.Empty(t, src.Parse(context.Background(), targets[0], fetched(targets[0].URL, `<html>`)).Records)
}

const redditThread = `[
{"kind":"Listing","data":{"children":[{"kind":"t3","data":{"id":"abc","title":"Host cancelled my booking",
"selftext":"What are my options?","subreddit":"AirBnB","permalink":"/r/AirBnB/comments/abc/host_cancelled/"}}]}},
{"kind":"Listing","data":{"children":[
{"kind":"t1","data":{"id":"c1","body":"Contact support, they usually refund the full amount quickly.","author":"u1","score":12,
"permalink":"/r/AirBnB/comments/abc/host_cancelled/c1/","created_utc":1700000000}},
{"kind":"t1","data":{"id":"c2","body":"[deleted]","permalink":"/r/AirBnB/comments/abc/host_cancelled/c2/"}},
{"kind":"more","data":{}}]}}]`

func TestRedditThread(t *testing.T) {
	t.Parallel()

	src := NewReddit(testOptions())
	targets, err := src.Expand(Seed{Kind: SeedURL, Value: "https://www.reddit.com/r/AirBnB/comments/abc/host_cancelled/"})
	require.NoError(t, err)
	target := targets[0]
	require.Equal(t, TargetItem, target.Kind)
	require.Equal(t, "https://www.reddit.com/r/AirBnB/comments/abc/host_cancelled", target.URL)
	require.True(t, strings.HasPrefix(target.Location(), target.URL+".json?"))
	require.NotEmpty(t, target.Headers.Get("User-Agent"))

	res := src.Parse(context.Background(), target, fetched(target.Location(), redditThread))
	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	require.Equal(t, "https://www.reddit.com/r/AirBnB/comments/abc/host_cancelled/c1", rec.URL)
	require.Equal(t, "Host cancelled my booking. What are my options?", rec.Question)
	require.Equal(t, "r/AirBnB", rec.Category)
	require.Equal(t, 12, *rec.Score)
	require.NotNil(t, rec.PublishedAt)
}

func TestRedditListing(t *testing.T) {
	t.Parallel()

	listing := `{"kind":"Listing","data":{"after":"t3_x","children":[
{"kind":"t3","data":{"permalink":"/r/travel/comments/a1/t/","num_comments":3}},
{"kind":"t3","data":{"permalink":"/r/travel/comments/a2/t/","num_comments":0}},
{"kind":"t3","data":{"permalink":"/r/travel/comments/a3/t/","num_comments":5,"stickied":true}}]}}`

	src := NewReddit(testOptions())
	targets, err := src.Expand(Seed{Kind: SeedCategory, Value: "r/travel"})
	require.NoError(t, err)
	require.Contains(t, targets[0].URL, "/r/travel/top.json?")

	res := src.Parse(context.Background(), targets[0], fetched(targets[0].URL, listing))
	require.Len(t, res.Follow, 1)
	require.Equal(t, "https://www.reddit.com/r/travel/comments/a1/t", res.Follow[0].URL)
	require.Equal(t, "r/travel", res.Follow[0].Category)
	require.NotNil(t, res.Next)
	require.Contains(t, res.Next.URL, "after=t3_x")

	require.Empty(t, src.Parse(context.Background(), targets[0], fetched(targets[0].URL, `not json`)).Follow)
}

const discourseTopicJSON = `{"id":42,"title":"Guest wants a refund after checkout","slug":"guest-wants-refund","like_count":3,
"tags":["refunds"],"post_stream":{"posts":[
{"username":"h1","cooked":"<p>Guest left early and asks for money back.</p>","created_at":"2024-01-02T03:04:05.000Z","post_number":1},
{"username":"h2","cooked":"<p>Open a resolution request; the platform decides on refunds.</p>","post_number":2},
{"username":"h3","cooked":"<p>Point them to your cancellation policy first.</p>","post_number":3}]}}`

func TestDiscourseTopic(t *testing.T) {
	t.Parallel()

	src := NewAirHosts(testOptions())
	targets, err := src.Expand(Seed{Kind: SeedURL, Value: "https://airhostsforum.com/t/guest-wants-refund/42"})
	require.NoError(t, err)
	target := targets[0]
	require.Equal(t, "https://airhostsforum.com/t/guest-wants-refund/42", target.URL)
	require.Equal(t, "https://airhostsforum.com/t/42.json", target.Location())

	res := src.Parse(context.Background(), target, fetched(target.Location(), discourseTopicJSON))
	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	require.Equal(t, "Guest wants a refund after checkout. Guest left early and asks for money back.", rec.Question)
	require.Equal(t, "Open a resolution request; the platform decides on refunds.\n\nPoint them to your cancellation policy first.", rec.Answer)
	require.Equal(t, "h1", rec.Author)
	require.Equal(t, "refunds", rec.Category)
	require.Equal(t, 3, *rec.Score)
	require.Equal(t, 2024, rec.PublishedAt.Year())
}

func TestDiscourseList(t *testing.T) {
	t.Parallel()

	list := `{"topic_list":{"topics":[{"id":1,"slug":"a","posts_count":4},{"id":2,"slug":"b","posts_count":1}],
"more_topics_url":"/c/hosting/5?page=1"}}`

	src := NewAirHosts(testOptions())
	targets, err := src.Expand(Seed{Kind: SeedCategory, Value: "hosting/5"})
	require.NoError(t, err)
	require.Equal(t, "https://airhostsforum.com/c/hosting/5.json", targets[0].URL)

	res := src.Parse(context.Background(), targets[0], fetched(targets[0].URL, list))
	require.Len(t, res.Follow, 1)
	require.Equal(t, "https://airhostsforum.com/t/a/1", res.Follow[0].URL)
	require.NotNil(t, res.Next)
	require.Equal(t, "https://airhostsforum.com/c/hosting/5.json?page=1", res.Next.URL)
	require.Equal(t, 2, res.Next.Page)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testOptions())
	require.Equal(t, []crawler.Platform{
		crawler.PlatformAirbnb,
		crawler.PlatformAirHosts,
		crawler.PlatformGetYourGuide,
		crawler.PlatformReddit,
		crawler.PlatformStackOverflow,
		crawler.PlatformTripAdvisor,
		crawler.PlatformViator,
	}, reg.Platforms())

	src, ok := reg.Get(crawler.PlatformViator)
	require.True(t, ok)
	require.Equal(t, crawler.ContentOfficial, src.ContentType())
	_, ok = reg.Get("expedia")
	require.False(t, ok)
}
