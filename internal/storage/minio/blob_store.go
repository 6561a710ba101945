// Package minio provides a BlobStore that streams uploads through minio-go,
// splitting large files into multipart uploads of a configurable part size.
package minio

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config captures the connection and tuning parameters.
type Config struct {
	// Endpoint may be a bare host:port or a URL; an https scheme enables TLS.
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	// PartSize is the multipart chunk size in bytes; zero lets minio-go pick.
	PartSize uint64
}

// Putter is the subset of *minio.Client used for uploads.
type Putter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// BlobStore writes objects to a bucket on an S3-compatible server.
type BlobStore struct {
	client   Putter
	bucket   string
	partSize uint64
}

// New connects to the configured endpoint with static credentials.
func New(cfg Config) (*BlobStore, error) {
	host, secure, err := ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return NewWithClient(client, cfg.Bucket, cfg.PartSize)
}

// NewWithClient wraps an existing client, primarily for tests.
func NewWithClient(client Putter, bucket string, partSize uint64) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{client: client, bucket: bucket, partSize: partSize}, nil
}

// ParseEndpoint splits an endpoint into the host:port minio-go expects and
// whether TLS should be used.
func ParseEndpoint(endpoint string) (string, bool, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", false, fmt.Errorf("endpoint is required")
	}
	if !strings.Contains(endpoint, "://") {
		return strings.TrimRight(endpoint, "/"), false, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("endpoint %q has no host", endpoint)
	}
	switch u.Scheme {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
}

// PutObject streams body to the bucket and returns an s3:// URI.
func (s *BlobStore) PutObject(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
		PartSize:    s.partSize,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	if info.Size != size {
		return "", fmt.Errorf("put object %s: wrote %d of %d bytes", key, info.Size, size)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Close is a no-op; minio clients share the default transport.
func (s *BlobStore) Close() error {
	return nil
}
