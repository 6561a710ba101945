// Package storage defines the object-store abstraction the sync engine writes to
// and opens the configured driver for each sync attempt.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrConfiguration marks failures to construct a store client. A sync that hits
// it ends in the error state before any file is transferred.
var ErrConfiguration = errors.New("storage configuration error")

// BlobStore writes objects to a remote bucket or a local mirror.
type BlobStore interface {
	// PutObject stores size bytes from body under key and returns the object URI.
	PutObject(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
	// Close releases the underlying client.
	Close() error
}

// Opener builds a BlobStore for one sync attempt.
type Opener interface {
	Open(ctx context.Context) (BlobStore, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context) (BlobStore, error)

// Open calls f(ctx).
func (f OpenerFunc) Open(ctx context.Context) (BlobStore, error) {
	return f(ctx)
}
