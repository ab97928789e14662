package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
)

func TestPublishToFakeServer(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "ota-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.CreateTopic(ctx, "ota-crawl-runs")
	require.NoError(t, err)

	pub := New(client, "ota-crawl-runs")
	id, err := pub.Publish(ctx, "", crawler.Summary{RunID: "run-1", NewCount: 3})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "application/json", msgs[0].Attributes["content_type"])
	var got crawler.Summary
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "run-1", got.RunID)
	require.Equal(t, 3, got.NewCount)
}

func TestPublishRequiresConfiguration(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "t").Publish(context.Background(), "", "x")
	require.Error(t, err)

	_, err = Open(context.Background(), "", "t")
	require.Error(t, err)
}
