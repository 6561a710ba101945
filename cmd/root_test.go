package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/s3uploader/internal/app"
	"github.com/JakeFAU/s3uploader/internal/config"
	"github.com/JakeFAU/s3uploader/internal/syncer"
)

// useTestApp builds real applications against a private Prometheus registry
// for the duration of the test.
func useTestApp(t *testing.T) {
	t.Helper()
	original := newApp
	newApp = func(ctx context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		return app.Build(ctx, cfg, zap.NewNop(), app.WithRegisterer(prometheus.NewRegistry()))
	}
	t.Cleanup(func() { newApp = original })
}

func writeSourceTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "models"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "models", "a.bin"), []byte("0123456789"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.md"), []byte("hello"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref"), 0o600))
	return root
}

func writeConfig(t *testing.T, root string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "source:\n  root: " + root + "\nstorage:\n  driver: memory\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScanCommandPrintsSummary(t *testing.T) {
	useTestApp(t)
	root := writeSourceTree(t)

	out, err := execute(t, "--config", writeConfig(t, root), "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "FILES")
	assert.Contains(t, out, root)
	assert.Contains(t, out, "15.00 B")
}

func TestScanCommandDetailsListsExclusions(t *testing.T) {
	useTestApp(t)
	root := writeSourceTree(t)

	out, err := execute(t, "--config", writeConfig(t, root), "scan", "--details")
	require.NoError(t, err)
	assert.Contains(t, out, "models/a.bin")
	assert.Regexp(t, `excluded\s+dir\s+\.git`, out)
}

func TestScanCommandDetailsMissingRoot(t *testing.T) {
	useTestApp(t)
	missing := filepath.Join(t.TempDir(), "absent")

	_, err := execute(t, "--config", writeConfig(t, missing), "scan", "--details")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestUploadCommandCompletes(t *testing.T) {
	useTestApp(t)
	root := writeSourceTree(t)

	out, err := execute(t, "--config", writeConfig(t, root), "upload", "nightly", "--interval", "10ms")
	require.NoError(t, err)
	assert.Contains(t, out, "-> nightly")
	assert.Contains(t, out, "sync completed: 2 files, 15.00 B uploaded, 0 failed")
}

func TestUploadCommandRejectsRootDestination(t *testing.T) {
	useTestApp(t)
	root := writeSourceTree(t)

	_, err := execute(t, "--config", writeConfig(t, root), "upload", "/")
	require.ErrorIs(t, err, syncer.ErrInvalidDestination)
}

func TestUploadCommandRequiresSubfolder(t *testing.T) {
	useTestApp(t)
	_, err := execute(t, "upload")
	require.Error(t, err)
}

func TestRootCommandReportsConfigErrors(t *testing.T) {
	useTestApp(t)
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "scan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestResolveAppWithoutApp(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
