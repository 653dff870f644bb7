package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/syncly/internal/metadata"
	"github.com/jaywantadh/syncly/internal/storage"
	"github.com/jaywantadh/syncly/internal/transfer"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"cli exit", cli.Exit("", 7), 7},
		{"usage", usageError("bad args"), exitFailure},
		{"source", fmt.Errorf("%w: open x", transfer.ErrSourceRead), exitSource},
		{"manifest missing", fmt.Errorf("load: %w", metadata.ErrManifestNotFound), exitManifest},
		{"manifest corrupt", metadata.ErrManifestCorrupt, exitManifest},
		{"invalid manifest", transfer.ErrInvalidManifest, exitManifest},
		{"truncated", transfer.ErrTruncatedTransfer, exitTransfer},
		{"corrupt", transfer.ErrCorruptTransfer, exitTransfer},
		{"storage", &transfer.UploadError{Err: storage.ErrQuotaExceeded}, exitStorage},
		{"object missing", storage.ErrObjectNotFound, exitStorage},
		{"cancelled", fmt.Errorf("%w: %w", transfer.ErrCancelled, context.Canceled), exitCancelled},
		{"other", errors.New("boom"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestExitErrHandlerNilError(t *testing.T) {
	exitErrHandler(nil, nil)
}

// runApp runs the CLI against a config directory without exiting the process.
func runApp(t *testing.T, configDir string, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	app.ExitErrHandler = func(*cli.Context, error) {}
	var out bytes.Buffer
	app.Writer = &out
	err := app.RunContext(context.Background(), append([]string{"syncly", "--config", configDir}, args...))
	return out.String(), err
}

func TestCommandsEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
log:
  level: error
transfer:
  chunk_size: 1024
store:
  type: local
  local:
    root: %s
manifest:
  backend: file
  path: %s
`, filepath.Join(dir, "objects"), filepath.Join(dir, "manifests"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(cfg), 0o644))

	src := filepath.Join(dir, "notes.txt")
	data := []byte(strings.Repeat("chunked transfer ", 300))
	require.NoError(t, os.WriteFile(src, data, 0o644))

	out, err := runApp(t, dir, "upload", src)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt\n", out)

	out, err = runApp(t, dir, "list", "--filter", "NOTES")
	require.NoError(t, err)
	assert.Contains(t, out, "notes.txt")

	out, err = runApp(t, dir, "inspect", "notes.txt")
	require.NoError(t, err)
	assert.Contains(t, out, `"source_name": "notes.txt"`)

	restored := filepath.Join(dir, "restored.txt")
	_, err = runApp(t, dir, "download", "notes.txt", restored)
	require.NoError(t, err)
	got, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	out, err = runApp(t, dir, "verify", "notes.txt", src)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ok "))

	require.NoError(t, os.WriteFile(restored, []byte("different"), 0o644))
	_, err = runApp(t, dir, "verify", "notes.txt", restored)
	assert.Equal(t, exitTransfer, exitCode(err))

	out, err = runApp(t, dir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: local")
	assert.Contains(t, out, "objects: 5")

	_, err = runApp(t, dir, "delete", "--purge", "notes.txt")
	require.NoError(t, err)

	_, err = runApp(t, dir, "download", "notes.txt", filepath.Join(dir, "again.txt"))
	assert.Equal(t, exitManifest, exitCode(err))

	_, err = runApp(t, dir, "upload", "--chunk-size", "2147483648", src)
	assert.Equal(t, exitSource, exitCode(err))

	_, err = runApp(t, dir, "upload", filepath.Join(dir, "missing.txt"))
	assert.Equal(t, exitSource, exitCode(err))

	_, err = runApp(t, dir, "upload")
	assert.Equal(t, exitFailure, exitCode(err))
}
