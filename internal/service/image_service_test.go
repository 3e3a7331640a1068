package service

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudfarm/internal/models"
	"cloudfarm/internal/queue"
	"cloudfarm/internal/repository"
	"cloudfarm/internal/wire"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

func TestUploadStoresObjectAndEnqueuesIngest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := Scope{FarmID: "f1"}
	talhao, err := f.talhoes.Create(ctx, scope, models.TalhaoInput{Nome: ptr("A")})
	require.NoError(t, err)

	img, err := f.images.Upload(ctx, scope, UploadInput{
		TalhaoID:     talhao.ID,
		Body:         bytes.NewReader(pngBytes),
		DeclaredType: "image/png",
	})
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)
	assert.EqualValues(t, len(pngBytes), img.Size)
	assert.True(t, strings.HasPrefix(img.Key, "talhoes/"+talhao.ID+"/"))
	assert.True(t, strings.HasSuffix(img.Key, ".png"))
	assert.Equal(t, "/objects/"+img.Key, img.URL)

	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, queue.TaskImageIngest, f.queue.tasks[0].Type)
	assert.Equal(t, img.Key, f.queue.tasks[0].ObjectKey)
	assert.Contains(t, f.pub.types(), wire.EventImageUploaded+"@"+wire.FarmChannel("f1"))

	list, err := f.images.List(ctx, scope, talhao.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, img.Key, list[0].Key)
}

func TestUploadSanitizesSVG(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	talhao, err := f.talhoes.Create(ctx, Scope{}, models.TalhaoInput{Nome: ptr("A")})
	require.NoError(t, err)

	img, err := f.images.Upload(ctx, Scope{}, UploadInput{
		TalhaoID: talhao.ID,
		Body:     strings.NewReader(`<svg onload="x()"><script>alert(1)</script><rect/></svg>`),
	})
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", img.ContentType)
	assert.Less(t, img.Size, int64(len(`<svg onload="x()"><script>alert(1)</script><rect/></svg>`)))
}

func TestUploadRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	talhao, err := f.talhoes.Create(ctx, Scope{FarmID: "f1"}, models.TalhaoInput{Nome: ptr("A")})
	require.NoError(t, err)
	scope := Scope{FarmID: "f1"}

	_, err = f.images.Upload(ctx, scope, UploadInput{TalhaoID: talhao.ID, Body: strings.NewReader("")})
	assert.ErrorIs(t, err, ErrEmptyUpload)

	_, err = f.images.Upload(ctx, scope, UploadInput{TalhaoID: talhao.ID, Body: strings.NewReader("hello")})
	assert.ErrorIs(t, err, ErrUnsupportedMedia)

	_, err = f.images.Upload(ctx, scope, UploadInput{TalhaoID: talhao.ID, Body: bytes.NewReader(pngBytes), DeclaredType: "image/jpeg"})
	assert.ErrorIs(t, err, ErrContentMismatch)

	f.images.maxSize = 8
	_, err = f.images.Upload(ctx, scope, UploadInput{TalhaoID: talhao.ID, Body: bytes.NewReader(pngBytes)})
	assert.ErrorIs(t, err, ErrUploadTooLarge)

	_, err = f.images.Upload(ctx, Scope{FarmID: "f2"}, UploadInput{TalhaoID: talhao.ID, Body: bytes.NewReader(pngBytes)})
	assert.ErrorIs(t, err, repository.ErrTalhaoNotFound)
	assert.Empty(t, f.queue.tasks)
}
