package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudfarm/internal/config"
)

func TestObjectStoreURL(t *testing.T) {
	store, err := NewObjectStore(config.StorageConfig{
		Endpoint: "https://s3.farm.example",
		Bucket:   "talhoes",
		Region:   "us-east-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://s3.farm.example/talhoes/t1/a.png", store.URL("t1/a.png"))
	assert.NotNil(t, store.Client())
}

func TestObjectStorePlainEndpoint(t *testing.T) {
	store, err := NewObjectStore(config.StorageConfig{Endpoint: "minio:9000", Bucket: "b"})
	require.NoError(t, err)

	assert.Equal(t, "http://minio:9000/b/k", store.URL("k"))
}

func TestMemoryObjects(t *testing.T) {
	ctx := context.Background()
	objects := NewMemoryObjects("/objects")

	info, err := objects.Put(ctx, "t1/a.png", strings.NewReader("abc"), -1, "image/png")
	require.NoError(t, err)
	assert.EqualValues(t, 3, info.Size)

	got, err := objects.Stat(ctx, "t1/a.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", got.ContentType)
	assert.Equal(t, "/objects/t1/a.png", objects.URL("t1/a.png"))

	r, ok := objects.Open("t1/a.png")
	require.True(t, ok)
	data, _ := io.ReadAll(r)
	assert.Equal(t, "abc", string(data))

	_, err = objects.Stat(ctx, "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
