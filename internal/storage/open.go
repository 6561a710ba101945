package storage

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/s3uploader/internal/config"
	"github.com/JakeFAU/s3uploader/internal/metrics"
	"github.com/JakeFAU/s3uploader/internal/storage/gcs"
	"github.com/JakeFAU/s3uploader/internal/storage/local"
	"github.com/JakeFAU/s3uploader/internal/storage/memory"
	"github.com/JakeFAU/s3uploader/internal/storage/minio"
	"github.com/JakeFAU/s3uploader/internal/storage/s3"
)

// DriverOpener opens the configured driver, re-reading remote credentials
// from the environment on every call.
type DriverOpener struct {
	cfg    config.StorageConfig
	fs     afero.Fs
	memory *memory.BlobStore
	remote func() config.RemoteStore
	logger *zap.Logger
}

// OpenerOption customizes a DriverOpener.
type OpenerOption func(*DriverOpener)

// WithRemoteSource overrides how remote store settings are read.
func WithRemoteSource(fn func() config.RemoteStore) OpenerOption {
	return func(o *DriverOpener) {
		if fn != nil {
			o.remote = fn
		}
	}
}

// WithFilesystem sets the filesystem used by the local driver.
func WithFilesystem(fsys afero.Fs) OpenerOption {
	return func(o *DriverOpener) {
		if fsys != nil {
			o.fs = fsys
		}
	}
}

// NewOpener returns an opener for cfg.Driver.
func NewOpener(cfg config.StorageConfig, logger *zap.Logger, opts ...OpenerOption) *DriverOpener {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &DriverOpener{
		cfg:    cfg,
		fs:     afero.NewOsFs(),
		memory: memory.NewBlobStore(),
		remote: config.LoadRemoteStore,
		logger: logger.Named("storage"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Memory exposes the shared in-memory store used by the memory driver.
func (o *DriverOpener) Memory() *memory.BlobStore {
	return o.memory
}

// Remote returns the remote store settings as currently configured.
func (o *DriverOpener) Remote() config.RemoteStore {
	return o.remote()
}

// Open constructs a BlobStore. Every failure wraps ErrConfiguration.
func (o *DriverOpener) Open(ctx context.Context) (BlobStore, error) {
	remote := o.remote()
	if err := remote.Validate(o.cfg.Driver); err != nil {
		metrics.ObserveStoreOpen(o.cfg.Driver, err)
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	store, err := o.open(ctx, remote)
	metrics.ObserveStoreOpen(o.cfg.Driver, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %s driver: %w", ErrConfiguration, o.cfg.Driver, err)
	}
	o.logger.Debug("store opened",
		zap.String("driver", o.cfg.Driver),
		zap.String("endpoint", remote.Endpoint),
		zap.String("bucket", remote.Bucket))
	return store, nil
}

func (o *DriverOpener) open(ctx context.Context, remote config.RemoteStore) (BlobStore, error) {
	partSize := int64(o.cfg.PartSizeMB) * 1024 * 1024
	switch o.cfg.Driver {
	case config.DriverS3:
		return s3.New(ctx, s3.Config{
			Endpoint:   remote.Endpoint,
			AccessKey:  remote.AccessKey,
			SecretKey:  remote.SecretKey,
			Bucket:     remote.Bucket,
			Region:     remote.Region,
			MaxRetries: o.cfg.MaxRetries,
		})
	case config.DriverMinio:
		return minio.New(minio.Config{
			Endpoint:  remote.Endpoint,
			AccessKey: remote.AccessKey,
			SecretKey: remote.SecretKey,
			Bucket:    remote.Bucket,
			Region:    remote.Region,
			PartSize:  uint64(partSize),
		})
	case config.DriverGCS:
		return gcs.Dial(ctx, gcs.Config{Bucket: remote.Bucket, ChunkSize: int(partSize)})
	case config.DriverLocal:
		return local.New(o.fs, local.Config{BaseDir: o.cfg.Local.BaseDir})
	case config.DriverMemory:
		return o.memory, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", o.cfg.Driver)
	}
}
