package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves a URL and returns the raw body plus metadata.
// Non-2xx responses are returned as *HTTPError; no retries happen here.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (RawFetchResult, error)
}

// ArticleStore is the persistence collaborator consumed by the normalizer.
type ArticleStore interface {
	FindByURL(ctx context.Context, url string) (*Article, error)
	FindByFingerprint(ctx context.Context, hash string) (*Article, error)
	Upsert(ctx context.Context, article Article) (created bool, err error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run notifications to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and article IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// RenderDetector decides whether a static response needs a rendered re-fetch.
type RenderDetector interface {
	ShouldPromote(probe RawFetchResult) bool
}
