package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-core/internal/domain"
)

type fakeUploader struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeUploader) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = input
	f.body, _ = io.ReadAll(input.Body)
	return &manager.UploadOutput{Location: "https://bucket.s3.amazonaws.com/" + aws.ToString(input.Key)}, nil
}

func TestS3_Upload(t *testing.T) {
	ctx := context.Background()

	t.Run("кладет объект под ключом типа", func(t *testing.T) {
		up := &fakeUploader{}
		s := &S3{uploader: up, cfg: S3Config{Bucket: "media"}, newKey: func() string { return "k1" }}

		res, err := s.Upload(ctx, []byte("%PDF-1.4"), domain.KindFile, "docs/Report.PDF")
		require.NoError(t, err)

		assert.Equal(t, "media", aws.ToString(up.input.Bucket))
		assert.Equal(t, "file/k1.pdf", aws.ToString(up.input.Key))
		assert.Equal(t, "application/pdf", aws.ToString(up.input.ContentType))
		assert.Equal(t, []byte("%PDF-1.4"), up.body)

		assert.Equal(t, "https://bucket.s3.amazonaws.com/file/k1.pdf", res.URL)
		assert.Equal(t, "Report.PDF", res.FileName)
		assert.Equal(t, int64(8), res.FileSize)
	})

	t.Run("public base url", func(t *testing.T) {
		s := &S3{uploader: &fakeUploader{}, cfg: S3Config{Bucket: "media", PublicBaseURL: "https://cdn.example.com/"}, newKey: func() string { return "k2" }}

		res, err := s.Upload(ctx, []byte{0xff, 0xd8, 0xff}, domain.KindImage, "")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(res.URL, "https://cdn.example.com/image"))
		assert.Equal(t, "image/jpeg", res.MimeType)
		assert.Equal(t, "k2", res.FileName)
	})

	t.Run("ошибка загрузки оборачивается в ErrUpload", func(t *testing.T) {
		s := &S3{uploader: &fakeUploader{err: errors.New("access denied")}, cfg: S3Config{Bucket: "media"}, newKey: func() string { return "k3" }}

		_, err := s.Upload(ctx, []byte("x"), domain.KindAudio, "a.m4a")
		assert.ErrorIs(t, err, domain.ErrUpload)
	})

	t.Run("empty payload", func(t *testing.T) {
		s := &S3{uploader: &fakeUploader{}, newKey: func() string { return "k4" }}
		_, err := s.Upload(ctx, nil, domain.KindAudio, "a.m4a")
		assert.ErrorIs(t, err, domain.ErrUpload)
	})
}

func TestMemory_Upload(t *testing.T) {
	m := NewMemory("http://localhost/blobs")
	res, err := m.Upload(context.Background(), []byte("hello"), domain.KindFile, "notes.txt")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.URL, "http://localhost/blobs/file/"))
	assert.Equal(t, "notes.txt", res.FileName)
	assert.Equal(t, int64(5), res.FileSize)
	assert.Contains(t, res.MimeType, "text/plain")

	key := strings.TrimPrefix(res.URL, "http://localhost/blobs/")
	data, ok := m.Object(key)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data)
}
