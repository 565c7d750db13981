// Package blobstore keeps generated images in S3 so that record stores only
// carry object keys.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ecom-image-studio/internal/store"
)

// DefaultURLExpiry is how long presigned history URLs stay valid.
const DefaultURLExpiry = 1 * time.Hour

// projectTag is the URL-encoded S3 object tagging string for cost allocation.
const projectTag = "Project=ecom-image-studio"

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3 stores images in a single bucket.
type S3 struct {
	client    s3API
	presigner presignAPI
	bucket    string
	expiry    time.Duration
}

var _ store.ImageSink = (*S3)(nil)

// NewS3 returns an S3 image store for bucket.
func NewS3(client *s3.Client, bucket string) *S3 {
	return &S3{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    bucket,
		expiry:    DefaultURLExpiry,
	}
}

// Bucket returns the bucket name.
func (b *S3) Bucket() string { return b.bucket }

// PutImage uploads data under key with the project cost-allocation tag.
func (b *S3) PutImage(ctx context.Context, key string, data []byte, mimeType string) error {
	log.Debug().Str("bucket", b.bucket).Str("key", key).Int("bytes", len(data)).Msg("Uploading image to S3")
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &b.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimeType),
		Tagging:     aws.String(projectTag),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	return nil
}

// GetImage downloads the object at key.
func (b *S3) GetImage(ctx context.Context, key string) ([]byte, string, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &b.bucket, Key: &key})
	if err != nil {
		return nil, "", fmt.Errorf("S3 GetObject %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", key, err)
	}
	return data, aws.ToString(out.ContentType), nil
}

// DeleteImage removes the object at key. Deleting a missing key succeeds.
func (b *S3) DeleteImage(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &b.bucket, Key: &key})
	if err != nil {
		return fmt.Errorf("S3 DeleteObject %s: %w", key, err)
	}
	return nil
}

// PresignURL creates a pre-signed GET URL for key.
func (b *S3) PresignURL(ctx context.Context, key string) (string, error) {
	result, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &b.bucket, Key: &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = b.expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}
	return result.URL, nil
}

// SignHistory fills ImageURL for entries whose image lives in the bucket.
// Entries that cannot be signed keep an empty URL.
func (b *S3) SignHistory(ctx context.Context, entries []store.HistoryEntry) {
	for i := range entries {
		e := &entries[i]
		if e.ImageKey == "" || e.ImageURL != "" {
			continue
		}
		url, err := b.PresignURL(ctx, e.ImageKey)
		if err != nil {
			log.Warn().Err(err).Str("key", e.ImageKey).Msg("Failed to presign history image")
			continue
		}
		e.ImageURL = url
	}
}
