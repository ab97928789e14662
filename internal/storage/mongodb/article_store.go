// Package mongodb stores articles in a MongoDB collection.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
)

// Config selects the database and collection.
type Config struct {
	URI        string
	Database   string
	Collection string
}

// ArticleStore implements crawler.ArticleStore on MongoDB.
type ArticleStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Connect opens a client, pings it and ensures indexes.
func Connect(ctx context.Context, cfg Config) (*ArticleStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("store.mongo_uri is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db, coll := cfg.Database, cfg.Collection
	if db == "" {
		db = "ota"
	}
	if coll == "" {
		coll = "articles"
	}
	store := NewArticleStore(client.Database(db).Collection(coll))
	store.client = client
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

// NewArticleStore wraps an existing collection.
func NewArticleStore(coll *mongo.Collection) *ArticleStore {
	return &ArticleStore{coll: coll}
}

// EnsureIndexes creates the unique url index and the fingerprint index.
func (s *ArticleStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "url", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "content_hash", Value: 1}, {Key: "is_duplicate", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// Close disconnects the client when the store owns one.
func (s *ArticleStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// FindByURL returns the article stored under url or nil.
func (s *ArticleStore) FindByURL(ctx context.Context, url string) (*crawler.Article, error) {
	return s.findOne(ctx, bson.D{{Key: "url", Value: url}}, nil)
}

// FindByFingerprint returns the earliest non-duplicate article with hash.
func (s *ArticleStore) FindByFingerprint(ctx context.Context, hash string) (*crawler.Article, error) {
	if hash == "" {
		return nil, nil
	}
	opts := options.FindOne().SetSort(bson.D{
		{Key: "is_duplicate", Value: 1},
		{Key: "created_at", Value: 1},
		{Key: "url", Value: 1},
	})
	return s.findOne(ctx, bson.D{{Key: "content_hash", Value: hash}}, opts)
}

func (s *ArticleStore) findOne(ctx context.Context, filter bson.D, opts *options.FindOneOptions) (*crawler.Article, error) {
	var a crawler.Article
	var err error
	if opts != nil {
		err = s.coll.FindOne(ctx, filter, opts).Decode(&a)
	} else {
		err = s.coll.FindOne(ctx, filter).Decode(&a)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find article: %w", err)
	}
	return &a, nil
}

// Upsert updates the document keyed by url, inserting it when missing.
// _id and created_at are only written on insert.
func (s *ArticleStore) Upsert(ctx context.Context, a crawler.Article) (bool, error) {
	set := bson.M{
		"platform":     a.Platform,
		"category":     a.Category,
		"question":     a.Question,
		"answer":       a.Answer,
		"content_type": a.ContentType,
		"source":       a.Source,
		"content_hash": a.ContentHash,
		"is_duplicate": a.IsDuplicate,
		"author":       a.Author,
		"votes":        a.Votes,
		"published_at": a.PublishedAt,
		"updated_at":   a.UpdatedAt,
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"_id": a.ID, "created_at": a.CreatedAt},
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"url": a.URL}, update, options.Update().SetUpsert(true))
	if err != nil {
		return false, fmt.Errorf("upsert article: %w", err)
	}
	return res.UpsertedCount > 0, nil
}
