package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
	"github.com/JakeFAU/ota-answers-crawler/internal/hash/sha256"
)

const defaultArchiveContentType = "text/html; charset=utf-8"

// Archiver keeps raw bodies of pages that produced no records so selector
// drift can be diagnosed later.
type Archiver struct {
	store  crawler.BlobStore
	prefix string
	clock  crawler.Clock
	hasher *sha256.Hasher
	logger *zap.Logger
}

// NewArchiver writes snapshots under prefix in store.
func NewArchiver(store crawler.BlobStore, prefix string, clock crawler.Clock, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		clock:  clock,
		hasher: sha256.New(),
		logger: logger.Named("archive"),
	}
}

// Path returns the object path for a miss on url.
//
//	{prefix}/{platform}/{yyyy-mm-dd}/{sha256(url)[:16]}.html
func (a *Archiver) Path(platform crawler.Platform, url, contentType string) string {
	ext := ".html"
	if strings.Contains(contentType, "json") {
		ext = ".json"
	}
	name := a.hasher.HashString(url)[:16] + ext
	day := a.clock.Now().UTC().Format("2006-01-02")
	parts := []string{string(platform), day, name}
	if a.prefix != "" {
		parts = append([]string{a.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

// Miss stores res and returns the object URI.
func (a *Archiver) Miss(ctx context.Context, platform crawler.Platform, url string, res crawler.RawFetchResult) (string, error) {
	contentType := res.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = defaultArchiveContentType
	}
	path := a.Path(platform, url, contentType)
	uri, err := a.store.PutObject(ctx, path, contentType, bytes.NewReader(res.Body))
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", url, err)
	}
	a.logger.Debug("parse miss archived", zap.String("url", url), zap.String("uri", uri))
	return uri, nil
}
