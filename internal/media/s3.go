// internal/media/s3.go
// Package media stores submission images in S3-compatible object storage.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// BlobStore persists an image under a key and returns its public URL.
type BlobStore interface {
	Put(ctx context.Context, obj Object) (string, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Object is one upload handed to a BlobStore.
type Object struct {
	Key         string   // Object key, e.g. hitvis/uploads/alice/01J..._a.jpg
	Body        []byte   // Decoded image bytes
	ContentType string   // MIME type, falls back to application/octet-stream
	Tags        []string // Normalized tags stored as object metadata
}

// S3Store wraps the AWS S3 client for submission uploads.
type S3Store struct {
	client    *s3.Client // AWS S3 client
	bucket    string     // S3 bucket name for submissions
	publicURL string     // Base URL objects are publicly served from
}

// S3Options configures NewS3Store.
type S3Options struct {
	Endpoint  string // S3 service endpoint URL
	Region    string // AWS region (or equivalent for S3-compatible services)
	Bucket    string // S3 bucket name
	AccessKey string // Access key for authentication
	SecretKey string // Secret key for authentication
	PublicURL string // Public base URL, defaults to {endpoint}/{bucket}
}

// NewS3Store creates a blob store backed by AWS S3 or an S3-compatible service like MinIO.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = true // Required for MinIO and other S3-compatible services
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	publicURL := strings.TrimRight(opts.PublicURL, "/")
	if publicURL == "" {
		publicURL = strings.TrimRight(opts.Endpoint, "/") + "/" + opts.Bucket
	}

	return &S3Store{client: client, bucket: opts.Bucket, publicURL: publicURL}, nil
}

// Put uploads the object and returns the URL it is served from.
// Tags travel as x-amz-meta-tags so the bucket stays self-describing.
func (s *S3Store) Put(ctx context.Context, obj Object) (string, error) {
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(obj.Key),
		Body:          bytes.NewReader(obj.Body),
		ContentLength: aws.Int64(int64(len(obj.Body))),
		ContentType:   aws.String(contentType),
		Metadata:      map[string]string{"tags": strings.Join(obj.Tags, ",")},
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", obj.Key, err)
	}

	return s.URL(obj.Key), nil
}

// Delete removes the object stored under key.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// URL returns the public URL for key.
func (s *S3Store) URL(key string) string {
	return s.publicURL + "/" + strings.TrimLeft(key, "/")
}

// Exists reports whether key is present in the bucket.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head object %s: %w", key, err)
	}
	return true, nil
}
