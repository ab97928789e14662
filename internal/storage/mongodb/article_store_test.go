package mongodb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
)

func TestArticleStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mt.Run("upsert insert", func(mt *mtest.T) {
		store := NewArticleStore(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 0},
			bson.E{Key: "upserted", Value: bson.A{bson.D{{Key: "index", Value: 0}, {Key: "_id", Value: "id-1"}}}},
		))
		created, err := store.Upsert(ctx, crawler.Article{ID: "id-1", URL: "https://x/1", CreatedAt: t0, UpdatedAt: t0})
		require.NoError(mt, err)
		require.True(mt, created)
	})

	mt.Run("upsert update", func(mt *mtest.T) {
		store := NewArticleStore(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))
		created, err := store.Upsert(ctx, crawler.Article{ID: "id-1", URL: "https://x/1", CreatedAt: t0, UpdatedAt: t0})
		require.NoError(mt, err)
		require.False(mt, created)
	})

	mt.Run("upsert error", func(mt *mtest.T) {
		store := NewArticleStore(mt.Coll)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key"}))
		_, err := store.Upsert(ctx, crawler.Article{ID: "id-1", URL: "https://x/1"})
		require.Error(mt, err)
	})

	mt.Run("find by url", func(mt *mtest.T) {
		store := NewArticleStore(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "id-1"},
			{Key: "url", Value: "https://x/1"},
			{Key: "platform", Value: "viator"},
			{Key: "question", Value: "Can I change my tour date?"},
			{Key: "answer", Value: "Yes, from the booking page."},
			{Key: "content_type", Value: "official"},
			{Key: "content_hash", Value: "h"},
			{Key: "is_duplicate", Value: false},
			{Key: "votes", Value: int32(3)},
			{Key: "created_at", Value: t0},
			{Key: "updated_at", Value: t0},
		}))
		got, err := store.FindByURL(ctx, "https://x/1")
		require.NoError(mt, err)
		require.Equal(mt, "id-1", got.ID)
		require.Equal(mt, crawler.PlatformViator, got.Platform)
		require.Equal(mt, crawler.ContentOfficial, got.ContentType)
		require.Equal(mt, 3, *got.Votes)
		require.True(mt, got.CreatedAt.Equal(t0))
	})

	mt.Run("find by fingerprint missing", func(mt *mtest.T) {
		store := NewArticleStore(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))
		got, err := store.FindByFingerprint(ctx, "h")
		require.NoError(mt, err)
		require.Nil(mt, got)

		none, err := store.FindByFingerprint(ctx, "")
		require.NoError(mt, err)
		require.Nil(mt, none)
	})

	mt.Run("ensure indexes", func(mt *mtest.T) {
		store := NewArticleStore(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		require.NoError(mt, store.EnsureIndexes(ctx))
	})
}
