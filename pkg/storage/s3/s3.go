// Package s3 implements the storage.Backend contract on Amazon S3 or any
// S3-compatible object store (MinIO, Localstack, etc.). It is the durable
// remote tier: the replication queue copies locally-written objects here,
// and reads fall back here on a local miss.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/nselftv/mediastore/pkg/storage"
)

// Backend stores objects in a single S3 bucket. Keys are used directly as
// object keys (with an optional prefix), so the bucket mirrors the logical
// key space and stays inspectable.
//
// Thread Safety:
// Safe for concurrent use. Concurrent writes to the same key are
// last-write-wins under S3's consistency model.
type Backend struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
}

// Config contains configuration for the S3 backend.
type Config struct {
	// Client is the configured S3 client.
	Client *s3.Client

	// Bucket is the S3 bucket name. The bucket must already exist.
	Bucket string

	// KeyPrefix is an optional prefix applied to all object keys.
	KeyPrefix string
}

// New creates an S3 backend and verifies bucket access.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: Backend configuration
//
// Returns:
//   - *Backend: Initialized backend
//   - error: Returns error if the bucket is inaccessible or config is invalid
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &Backend{
		client:  cfg.Client,
		presign: s3.NewPresignClient(cfg.Client),
		bucket:  cfg.Bucket,
		prefix:  cfg.KeyPrefix,
	}, nil
}

// objectKey returns the full S3 object key for a storage key.
func (b *Backend) objectKey(key string) string {
	if b.prefix != "" {
		return b.prefix + key
	}
	return key
}

// isNotFound reports whether an S3 error means the object does not exist.
// GetObject returns NoSuchKey; HeadObject returns a bare 404 NotFound.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
		return true
	}
	return false
}

// Put uploads an object. When size is positive it is passed as the content
// length so the SDK can stream the body without buffering.
func (b *Backend) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
		Body:   data,
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	return nil
}

// Get returns a reader for the object body.
func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("object %s: %w", key, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}

	return result.Body, nil
}

// Delete removes the object. S3 DeleteObject succeeds for absent keys, so
// the operation is idempotent.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object from S3: %w", err)
	}

	return nil
}

// List returns all keys matching the prefix, paging through the bucket.
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.objectKey(prefix)),
	})

	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects from S3: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			key := *obj.Key
			if b.prefix != "" && len(key) > len(b.prefix) {
				key = key[len(b.prefix):]
			}
			keys = append(keys, key)
		}
	}

	return keys, nil
}

// Exists reports whether the key is present, using a HEAD request.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}

	return true, nil
}

// URL returns a presigned GET URL valid for the given expiry.
func (b *Backend) URL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	exists, err := b.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("object %s: %w", key, storage.ErrNotFound)
	}

	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return req.URL, nil
}

// Stream returns a reader over [offset, offset+length) using an HTTP Range
// request. length 0 means to end of object.
func (b *Backend) Stream(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	}

	if offset > 0 || length > 0 {
		var rangeHeader string
		if length > 0 {
			rangeHeader = fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
		} else {
			rangeHeader = fmt.Sprintf("bytes=%d-", offset)
		}
		input.Range = aws.String(rangeHeader)
	}

	result, err := b.client.GetObject(ctx, input)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("object %s: %w", key, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stream object from S3: %w", err)
	}

	return result.Body, nil
}
