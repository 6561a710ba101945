package storage_test

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/s3uploader/internal/config"
	"github.com/JakeFAU/s3uploader/internal/storage"
)

func staticRemote(r config.RemoteStore) func() config.RemoteStore {
	return func() config.RemoteStore { return r }
}

func TestOpenReportsMissingCredentialsAsConfigurationError(t *testing.T) {
	t.Parallel()

	opener := storage.NewOpener(config.StorageConfig{Driver: config.DriverS3, PartSizeMB: 50}, nil,
		storage.WithRemoteSource(staticRemote(config.RemoteStore{Bucket: "b"})))

	_, err := opener.Open(context.Background())
	require.ErrorIs(t, err, storage.ErrConfiguration)
	require.ErrorIs(t, err, config.ErrRemoteStoreIncomplete)
	assert.Contains(t, err.Error(), config.EnvEndpoint)
}

func TestOpenReadsRemoteOnEveryCall(t *testing.T) {
	t.Parallel()

	calls := 0
	opener := storage.NewOpener(config.StorageConfig{Driver: config.DriverMemory, PartSizeMB: 50}, nil,
		storage.WithRemoteSource(func() config.RemoteStore {
			calls++
			return config.RemoteStore{}
		}))

	first, err := opener.Open(context.Background())
	require.NoError(t, err)
	second, err := opener.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Same(t, opener.Memory(), first)
	assert.Same(t, first, second)
}

func TestOpenLocalDriver(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	opener := storage.NewOpener(config.StorageConfig{
		Driver:     config.DriverLocal,
		PartSizeMB: 50,
		Local:      config.LocalConfig{BaseDir: "/mirror"},
	}, nil, storage.WithFilesystem(fsys), storage.WithRemoteSource(staticRemote(config.RemoteStore{})))

	store, err := opener.Open(context.Background())
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "out/a.txt", "text/plain", strings.NewReader("a"), 1)
	require.NoError(t, err)
	data, err := afero.ReadFile(fsys, "/mirror/out/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}

func TestOpenRemoteDrivers(t *testing.T) {
	t.Parallel()

	remote := config.RemoteStore{
		Endpoint:  "http://127.0.0.1:9000",
		AccessKey: "ak",
		SecretKey: "sk",
		Bucket:    "models",
	}
	for _, driver := range []string{config.DriverS3, config.DriverMinio} {
		opener := storage.NewOpener(config.StorageConfig{Driver: driver, PartSizeMB: 16}, nil,
			storage.WithRemoteSource(staticRemote(remote)))
		store, err := opener.Open(context.Background())
		require.NoError(t, err, driver)
		require.NoError(t, store.Close(), driver)
		assert.Equal(t, remote, opener.Remote())
	}
}

func TestOpenWrapsDriverFailures(t *testing.T) {
	t.Parallel()

	opener := storage.NewOpener(config.StorageConfig{Driver: config.DriverMinio, PartSizeMB: 16}, nil,
		storage.WithRemoteSource(staticRemote(config.RemoteStore{
			Endpoint:  "ftp://nowhere",
			AccessKey: "ak",
			SecretKey: "sk",
			Bucket:    "b",
		})))
	_, err := opener.Open(context.Background())
	require.ErrorIs(t, err, storage.ErrConfiguration)
	assert.Contains(t, err.Error(), "minio driver")

	unknown := storage.NewOpener(config.StorageConfig{Driver: "ftp"}, nil,
		storage.WithRemoteSource(staticRemote(config.RemoteStore{})))
	_, err = unknown.Open(context.Background())
	require.ErrorIs(t, err, storage.ErrConfiguration)
}
