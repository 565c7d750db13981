package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/ecom-image-studio/internal/store"
)

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
	tagging string
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, _ := io.ReadAll(in.Body)
	f.objects[*in.Key] = data
	f.types[*in.Key] = aws.ToString(in.ContentType)
	f.tagging = aws.ToString(in.Tagging)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader(data)),
		ContentType: aws.String(f.types[*in.Key]),
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

type fakePresigner struct{ fail map[string]bool }

func (p fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if p.fail[*in.Key] {
		return nil, errors.New("signing failed")
	}
	return &v4.PresignedHTTPRequest{URL: "https://" + *in.Bucket + "/" + *in.Key + "?sig=1"}, nil
}

func newTestStore(client *fakeS3, p fakePresigner) *S3 {
	return &S3{client: client, presigner: p, bucket: "media", expiry: DefaultURLExpiry}
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	b := newTestStore(fake, fakePresigner{})

	require.NoError(t, b.PutImage(ctx, "history/u1/h1.png", []byte{1, 2, 3}, "image/png"))
	assert.Equal(t, projectTag, fake.tagging)

	data, mime, err := b.GetImage(ctx, "history/u1/h1.png")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
	assert.Equal(t, "image/png", mime)

	require.NoError(t, b.DeleteImage(ctx, "history/u1/h1.png"))
	_, _, err = b.GetImage(ctx, "history/u1/h1.png")
	assert.Error(t, err)
}

func TestPutImageWrapsError(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("AccessDenied")
	b := newTestStore(fake, fakePresigner{})

	err := b.PutImage(context.Background(), "k", []byte{1}, "image/png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
}

func TestSignHistory(t *testing.T) {
	b := newTestStore(newFakeS3(), fakePresigner{fail: map[string]bool{"bad": true}})
	entries := []store.HistoryEntry{
		{ID: "a", ImageKey: "history/u1/a.png"},
		{ID: "b", ImageURL: "data:image/png;base64,AQ=="},
		{ID: "c", ImageKey: "bad"},
	}

	b.SignHistory(context.Background(), entries)

	assert.Equal(t, "https://media/history/u1/a.png?sig=1", entries[0].ImageURL)
	assert.Equal(t, "data:image/png;base64,AQ==", entries[1].ImageURL, "inline URLs are kept")
	assert.Empty(t, entries[2].ImageURL)
}
