package dfs

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/syncly/config"
	"github.com/jaywantadh/syncly/internal/chunker"
	"github.com/jaywantadh/syncly/internal/metadata"
	"github.com/jaywantadh/syncly/internal/storage"
	"github.com/jaywantadh/syncly/internal/transfer"
	"github.com/jaywantadh/syncly/pkg/logging"
)

func newTestCore(t *testing.T) (*Core, *storage.MemoryStorage) {
	t.Helper()
	mem := storage.NewMemoryStorage()
	manifests, err := metadata.OpenFileStore(t.TempDir())
	require.NoError(t, err)
	core := New(mem, manifests, Options{ChunkSize: 1024, Concurrency: 3, Logger: logging.Discard()})
	t.Cleanup(func() { core.Close() })
	return core, mem
}

func writeRandomFile(t *testing.T, dir, name string, n int) (string, []byte) {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, data
}

func TestSplitAndUploadThenDownload(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)
	dir := t.TempDir()
	path, data := writeRandomFile(t, dir, "report.pdf", 25*1024)

	id, err := core.SplitAndUpload(ctx, path, 10*1024, "")
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", id)

	m, err := core.Manifest(ctx, id)
	require.NoError(t, err)
	require.Len(t, m.Chunks, 3)
	assert.Equal(t, int64(5120), m.Chunks[2].Size)

	out := filepath.Join(dir, "restored", "report.pdf")
	require.NoError(t, core.DownloadAndMerge(ctx, id, out))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	_, err = os.Stat(out + transfer.IncompleteSuffix)
	assert.True(t, os.IsNotExist(err))

	transfers := core.Transfers()
	require.Len(t, transfers, 2)
	for _, p := range transfers {
		assert.Equal(t, transfer.StatusCompleted, p.Status)
	}
}

func TestSplitAndUploadDefaults(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)
	path, _ := writeRandomFile(t, t.TempDir(), "a.bin", 3000)

	id, err := core.SplitAndUpload(ctx, path, 0, "backups/a.bin")
	require.NoError(t, err)
	assert.Equal(t, "backups/a.bin", id)

	m, err := core.Manifest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), m.ChunkSize)
	assert.Len(t, m.Chunks, 3)
}

func TestSplitAndUploadMissingFile(t *testing.T) {
	core, mem := newTestCore(t)
	_, err := core.SplitAndUpload(context.Background(), filepath.Join(t.TempDir(), "nope"), 0, "")
	assert.ErrorIs(t, err, transfer.ErrSourceRead)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, 0, mem.Len(), "no remote calls")

	_, err = core.SplitAndUpload(context.Background(), t.TempDir(), 0, "")
	assert.ErrorIs(t, err, transfer.ErrSourceRead)
}

func TestUploadStreamRejectsOversizedChunkSize(t *testing.T) {
	core, mem := newTestCore(t)
	_, err := core.UploadStream(context.Background(), "big", bytes.NewReader([]byte("x")), chunker.MaxChunkSize+1)
	assert.ErrorIs(t, err, chunker.ErrInvalidChunkSize)
	assert.Equal(t, 0, mem.Len())
}

func TestUploadStreamEmpty(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)

	m, err := core.UploadStream(ctx, "empty", bytes.NewReader(nil), 0)
	require.NoError(t, err)
	assert.Empty(t, m.Chunks)

	out := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, core.DownloadAndMerge(ctx, "empty", out))
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}

func TestDownloadAndMergeFailureLeavesNoFile(t *testing.T) {
	ctx := context.Background()
	core, mem := newTestCore(t)

	m, err := core.UploadStream(ctx, "f", bytes.NewReader(make([]byte, 5000)), 1000)
	require.NoError(t, err)
	require.NoError(t, mem.Delete(ctx, m.Chunks[3].ObjectID))

	out := filepath.Join(t.TempDir(), "f")
	err = core.DownloadAndMerge(ctx, "f", out)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(out + transfer.IncompleteSuffix)
	assert.True(t, os.IsNotExist(statErr))

	var failed bool
	for _, p := range core.Transfers() {
		if p.Op == transfer.OpDownload {
			failed = p.Status == transfer.StatusFailed
		}
	}
	assert.True(t, failed)
}

func TestDownloadAndMergeUnknownManifest(t *testing.T) {
	core, _ := newTestCore(t)
	out := filepath.Join(t.TempDir(), "x")
	err := core.DownloadAndMerge(context.Background(), "missing", out)
	assert.ErrorIs(t, err, metadata.ErrManifestNotFound)
	_, statErr := os.Stat(out + transfer.IncompleteSuffix)
	assert.True(t, os.IsNotExist(statErr), "refuses before creating output")
}

func TestReconstructToWriter(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)
	data := []byte("hello chunked world")

	_, err := core.UploadStream(ctx, "greeting", bytes.NewReader(data), 4)
	require.NoError(t, err)

	var buf bytes.Buffer
	m, err := core.Reconstruct(ctx, "greeting", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), m.TotalSize)
	assert.Equal(t, data, buf.Bytes())
}

func TestListAndRemove(t *testing.T) {
	ctx := context.Background()
	core, mem := newTestCore(t)

	for _, name := range []string{"notes.txt", "photo.jpg", "notes-old.txt"} {
		_, err := core.UploadStream(ctx, name, bytes.NewReader(make([]byte, 2500)), 1000)
		require.NoError(t, err)
	}
	assert.Equal(t, 9, mem.Len())

	list, err := core.List(ctx, metadata.SearchQuery{Query: "notes"})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, core.Remove(ctx, "photo.jpg", false))
	assert.Equal(t, 9, mem.Len(), "objects kept without purge")

	require.NoError(t, core.Remove(ctx, "notes.txt", true))
	assert.Equal(t, 6, mem.Len())

	_, err = core.Manifest(ctx, "notes.txt")
	assert.ErrorIs(t, err, metadata.ErrManifestNotFound)
	assert.ErrorIs(t, core.Remove(ctx, "notes.txt", true), metadata.ErrManifestNotFound)

	list, err = core.List(ctx, metadata.SearchQuery{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "notes-old.txt", list[0].SourceName)
}

type failingDeletes struct {
	storage.Storage
}

func (failingDeletes) Delete(ctx context.Context, id string) error {
	return storage.ErrUnavailable
}

func TestRemovePurgeAggregatesErrors(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStorage()
	manifests, err := metadata.OpenInMemoryBadgerStore()
	require.NoError(t, err)
	core := New(failingDeletes{mem}, manifests, Options{ChunkSize: 10, Logger: logging.Discard()})
	defer core.Close()

	_, err = core.UploadStream(ctx, "f", bytes.NewReader(make([]byte, 30)), 10)
	require.NoError(t, err)

	err = core.Remove(ctx, "f", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Contains(t, err.Error(), "3 errors occurred")
}

func TestDeleteObjectsCleansOrphans(t *testing.T) {
	ctx := context.Background()
	core, mem := newTestCore(t)

	// simulate leftovers of a failed upload
	var ids []string
	for i := 0; i < 4; i++ {
		id, err := mem.Put(ctx, []byte{byte(i)})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, core.DeleteObjects(ctx, ids))
	assert.Equal(t, 0, mem.Len())
}

func TestUsage(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)
	_, err := core.UploadStream(ctx, "f", bytes.NewReader(make([]byte, 2048)), 1024)
	require.NoError(t, err)

	u, ok, err := core.Usage(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), u.Objects)
	assert.Equal(t, int64(2048), u.Used)
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, backend := range []string{"badger", "file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			path := filepath.Join(dir, backend, "manifests")
			if backend == "sqlite" {
				path = filepath.Join(dir, backend, "manifests.db")
			}
			cfg := &config.AppConfig{
				Transfer: config.Transfer{ChunkSize: 100, Concurrency: 2, Retries: 2},
				Store: config.Store{
					Type:     "local",
					Compress: true,
					Local:    config.LocalStore{Root: filepath.Join(dir, backend, "objects")},
				},
				Manifest: config.Manifest{Backend: backend, Path: path},
			}

			core, err := NewFromConfig(ctx, cfg)
			require.NoError(t, err)
			defer core.Close()

			data := bytes.Repeat([]byte("syncly "), 100)
			_, err = core.UploadStream(ctx, "doc", bytes.NewReader(data), 0)
			require.NoError(t, err)

			var buf bytes.Buffer
			_, err = core.Reconstruct(ctx, "doc", &buf)
			require.NoError(t, err)
			assert.Equal(t, data, buf.Bytes())
		})
	}
}

func TestNewFromConfigUnknownBackend(t *testing.T) {
	cfg := &config.AppConfig{
		Store:    config.Store{Type: "memory"},
		Manifest: config.Manifest{Backend: "etcd", Path: t.TempDir()},
	}
	_, err := NewFromConfig(context.Background(), cfg)
	assert.Error(t, err)

	cfg.Store.Type = "ftp"
	_, err = NewFromConfig(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown store type")
}
