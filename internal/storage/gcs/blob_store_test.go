package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{Bucket: " "})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "ota-archive", Prefix: "/misses/"})
	require.NoError(t, err)
	require.Equal(t, "misses/airbnb/x.html", store.ObjectName("/airbnb/x.html"))
	require.NoError(t, store.Close())

	_, err = store.PutObject(context.Background(), "", "text/html", nil)
	require.Error(t, err)
}
