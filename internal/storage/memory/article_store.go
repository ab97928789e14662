package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
)

// ArticleStore is an in-memory crawler.ArticleStore keyed by URL.
type ArticleStore struct {
	mu       sync.RWMutex
	articles map[string]crawler.Article
}

// NewArticleStore constructs an empty ArticleStore.
func NewArticleStore() *ArticleStore {
	return &ArticleStore{articles: make(map[string]crawler.Article)}
}

// FindByURL returns the article stored under url or nil.
func (s *ArticleStore) FindByURL(_ context.Context, url string) (*crawler.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.articles[url]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// FindByFingerprint returns the earliest non-duplicate article with hash,
// falling back to the earliest duplicate.
func (s *ArticleStore) FindByFingerprint(_ context.Context, hash string) (*crawler.Article, error) {
	if hash == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *crawler.Article
	for _, a := range s.articles {
		if a.ContentHash != hash {
			continue
		}
		if best == nil || earlier(a, *best) {
			cp := a
			best = &cp
		}
	}
	return best, nil
}

func earlier(a, b crawler.Article) bool {
	if a.IsDuplicate != b.IsDuplicate {
		return !a.IsDuplicate
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.URL < b.URL
}

// Upsert inserts or updates the article keyed by URL. Updates keep the
// original ID and creation time.
func (s *ArticleStore) Upsert(_ context.Context, article crawler.Article) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.articles[article.URL]
	if ok {
		article.ID = existing.ID
		article.CreatedAt = existing.CreatedAt
	}
	s.articles[article.URL] = article
	return !ok, nil
}

// All returns every article ordered by URL.
func (s *ArticleStore) All() []crawler.Article {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Article, 0, len(s.articles))
	for _, a := range s.articles {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Len reports the number of stored articles.
func (s *ArticleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.articles)
}
