package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const manifestExt = ".manifest.json"

// FileStore keeps one JSON file per manifest in a directory.
// Saves go through a temp file in the same directory and an atomic rename.
type FileStore struct {
	dir string
}

// OpenFileStore creates the directory if needed.
func OpenFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("manifest directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create manifest directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) path(name string) string {
	return filepath.Join(fs.dir, url.PathEscape(name)+manifestExt)
}

func (fs *FileStore) Close() error {
	return nil
}

// Save writes the manifest to a temp file, syncs it and renames it into place.
func (fs *FileStore) Save(ctx context.Context, m *Manifest) error {
	if err := checkSave(m); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	tmp, err := os.CreateTemp(fs.dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp manifest: %w", err)
	}
	if err := os.Rename(tmpPath, fs.path(m.SourceName)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("publish manifest: %w", err)
	}
	return syncDir(fs.dir)
}

// Load reads and validates the manifest for sourceName.
func (fs *FileStore) Load(ctx context.Context, sourceName string) (*Manifest, error) {
	data, err := os.ReadFile(fs.path(sourceName))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, sourceName)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrManifestCorrupt, sourceName, err)
	}
	return checkLoaded(sourceName, &m)
}

// List returns every readable manifest ordered by source name.
func (fs *FileStore) List(ctx context.Context) ([]*Manifest, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("read manifest directory: %w", err)
	}
	var out []*Manifest
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), manifestExt) {
			continue
		}
		name, err := url.PathUnescape(strings.TrimSuffix(e.Name(), manifestExt))
		if err != nil {
			continue
		}
		m, err := fs.Load(ctx, name)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SourceName < out[j].SourceName
	})
	return out, nil
}

func (fs *FileStore) Delete(ctx context.Context, sourceName string) error {
	err := os.Remove(fs.path(sourceName))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrManifestNotFound, sourceName)
	}
	if err != nil {
		return fmt.Errorf("remove manifest: %w", err)
	}
	return nil
}

// syncDir makes a rename durable. Some platforms cannot fsync directories.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	_ = d.Sync()
	return nil
}
