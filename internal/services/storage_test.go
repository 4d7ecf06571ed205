package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	puts    []*s3.PutObjectInput
	bodies  []string
	deletes []string
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.puts = append(f.puts, in)
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.deletes = append(f.deletes, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Storage(t *testing.T) {
	client := &fakeS3{}
	storage := &S3Storage{client: client, bucket: "media", publicBaseURL: "https://cdn.test", logger: testLogger()}
	ctx := context.Background()

	t.Run("Upload", func(t *testing.T) {
		ref, err := storage.Upload(ctx, UploadFile{Name: "Front.JPG", ContentType: "image/jpeg", Data: []byte("jpeg")})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(ref.ID, mediaPrefix))
		assert.True(t, strings.HasSuffix(ref.ID, ".jpg"))
		assert.Equal(t, "https://cdn.test/"+ref.ID, ref.URL)

		require.Len(t, client.puts, 1)
		assert.Equal(t, "media", aws.ToString(client.puts[0].Bucket))
		assert.Equal(t, "image/jpeg", aws.ToString(client.puts[0].ContentType))
		assert.Equal(t, "jpeg", client.bodies[0])
	})

	t.Run("Sniffs missing content type", func(t *testing.T) {
		_, err := storage.Upload(ctx, UploadFile{Name: "x", Data: []byte("\x89PNG\r\n\x1a\n0000")})
		require.NoError(t, err)
		assert.Equal(t, "image/png", aws.ToString(client.puts[1].ContentType))
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, storage.Delete(ctx, "listings/a.jpg"))
		assert.Equal(t, []string{"listings/a.jpg"}, client.deletes)
	})

	t.Run("Errors carry the key", func(t *testing.T) {
		client.err = errors.New("access denied")
		_, err := storage.Upload(ctx, UploadFile{Name: "a.png", Data: []byte("x")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "access denied")
		assert.Error(t, storage.Delete(ctx, "listings/a.png"))
	})
}

func TestDisabledStorage(t *testing.T) {
	_, err := DisabledStorage{}.Upload(context.Background(), UploadFile{Name: "a.jpg"})
	assert.ErrorIs(t, err, ErrStorageDisabled)
	assert.NoError(t, DisabledStorage{}.Delete(context.Background(), "x"))
}
