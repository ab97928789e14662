package crawler

import (
	"net/http"
	"strings"
	"time"
)

// Platform identifies a crawled source.
type Platform string

// Supported platforms.
const (
	PlatformAirbnb        Platform = "airbnb"
	PlatformViator        Platform = "viator"
	PlatformGetYourGuide  Platform = "getyourguide"
	PlatformTripAdvisor   Platform = "tripadvisor"
	PlatformStackOverflow Platform = "stackoverflow"
	PlatformReddit        Platform = "reddit"
	PlatformAirHosts      Platform = "airhosts"
)

// ParsePlatform normalizes a user supplied platform name.
func ParsePlatform(raw string) (Platform, bool) {
	p := Platform(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case PlatformAirbnb, PlatformViator, PlatformGetYourGuide, PlatformTripAdvisor,
		PlatformStackOverflow, PlatformReddit, PlatformAirHosts:
		return p, true
	default:
		return "", false
	}
}

// ContentType distinguishes vendor-authored help content from user posts.
type ContentType string

// Content types persisted with each article.
const (
	ContentOfficial  ContentType = "official"
	ContentCommunity ContentType = "community"
)

// FetchMode selects the fetch implementation.
type FetchMode string

// Fetch modes.
const (
	FetchStatic   FetchMode = "static"
	FetchRendered FetchMode = "rendered"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	Platform Platform
	URL      string
	Mode     FetchMode
	Headers  http.Header
}

// RawFetchResult is the transient output of a fetch. It is discarded after parsing.
type RawFetchResult struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// CandidateRecord is an extracted Q&A item awaiting dedup and persistence.
type CandidateRecord struct {
	Platform    Platform
	URL         string
	Question    string
	Answer      string
	Author      string
	PublishedAt *time.Time
	Score       *int
	ContentType ContentType
	Category    string
	Source      string
}

// Valid reports whether both texts are present and the answer clears minLen.
func (c CandidateRecord) Valid(minLen int) bool {
	if strings.TrimSpace(c.URL) == "" || strings.TrimSpace(c.Question) == "" {
		return false
	}
	answer := strings.TrimSpace(c.Answer)
	return answer != "" && len([]rune(answer)) >= minLen
}

// Article is the persisted record keyed by URL.
type Article struct {
	ID          string      `json:"id" bson:"_id"`
	URL         string      `json:"url" bson:"url"`
	Platform    Platform    `json:"platform" bson:"platform"`
	Category    string      `json:"category,omitempty" bson:"category"`
	Question    string      `json:"question" bson:"question"`
	Answer      string      `json:"answer" bson:"answer"`
	ContentType ContentType `json:"content_type" bson:"content_type"`
	Source      string      `json:"source,omitempty" bson:"source"`
	ContentHash string      `json:"content_hash,omitempty" bson:"content_hash"`
	IsDuplicate bool        `json:"is_duplicate" bson:"is_duplicate"`
	Author      string      `json:"author,omitempty" bson:"author"`
	Votes       *int        `json:"votes,omitempty" bson:"votes,omitempty"`
	PublishedAt *time.Time  `json:"published_at,omitempty" bson:"published_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" bson:"updated_at"`
}

// OutputRecord is the record shape handed to downstream consumers.
type OutputRecord struct {
	Platform    string      `json:"platform"`
	URL         string      `json:"url"`
	Question    string      `json:"question"`
	Answer      string      `json:"answer"`
	Author      string      `json:"author,omitempty"`
	Date        string      `json:"date,omitempty"`
	Category    string      `json:"category,omitempty"`
	ContentType ContentType `json:"contentType"`
	Source      string      `json:"source,omitempty"`
	Score       *int        `json:"score,omitempty"`
}

// Output converts the candidate into the downstream record shape.
func (c CandidateRecord) Output() OutputRecord {
	out := OutputRecord{
		Platform:    string(c.Platform),
		URL:         c.URL,
		Question:    c.Question,
		Answer:      c.Answer,
		Author:      c.Author,
		Category:    c.Category,
		ContentType: c.ContentType,
		Source:      c.Source,
		Score:       c.Score,
	}
	if c.PublishedAt != nil {
		out.Date = c.PublishedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// ItemError records a contained per-item failure.
type ItemError struct {
	URL     string `json:"url"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Summary is returned to the orchestrator after a crawl.
type Summary struct {
	RunID          string      `json:"run_id"`
	Platform       Platform    `json:"platform"`
	NewCount       int         `json:"new_count"`
	UpdatedCount   int         `json:"updated_count"`
	DuplicateCount int         `json:"duplicate_count"`
	SkippedCount   int         `json:"skipped_count"`
	Errors         []ItemError `json:"errors"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
	Canceled       bool        `json:"canceled,omitempty"`
}

// AddError appends a classified error to the summary.
func (s *Summary) AddError(url string, err error) {
	if err == nil {
		return
	}
	s.Errors = append(s.Errors, ItemError{URL: url, Kind: Classify(err), Message: err.Error()})
}
