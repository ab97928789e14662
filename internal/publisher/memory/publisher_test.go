package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "ota-crawl-runs", crawler.Summary{RunID: "r1", NewCount: 2})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "ota-crawl-runs", msgs[0].Topic)
	require.Contains(t, string(msgs[0].Data), `"new_count":2`)

	msgs[0].Topic = "modified"
	require.Equal(t, "ota-crawl-runs", pub.Messages()[0].Topic)

	_, err = pub.Publish(context.Background(), "t", make(chan int))
	require.Error(t, err)
}
