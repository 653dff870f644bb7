package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const tmpSuffix = ".tmp"

// staleTempAge is how old a temp file must be before an opening store
// removes it. Younger ones may belong to another process writing the root.
const staleTempAge = time.Hour

// LocalStorage implements the Storage interface for the local filesystem.
type LocalStorage struct {
	basePath string
	quota    int64

	mu      sync.Mutex
	used    int64
	objects int64
}

// NewLocalStorage creates a new LocalStorage instance.
// A quota of zero means unlimited.
func NewLocalStorage(basePath string, quota int64) (*LocalStorage, error) {
	if basePath == "" {
		return nil, fmt.Errorf("local storage root is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	s := &LocalStorage{basePath: basePath, quota: quota}
	if err := s.scan(); err != nil {
		return nil, err
	}
	return s, nil
}

// scan computes current usage and removes stale temp files left by a crash.
func (s *LocalStorage) scan() error {
	cutoff := time.Now().Add(-staleTempAge)
	return filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			// renamed or removed by a concurrent writer
			return nil
		}
		if err != nil {
			return err
		}
		if strings.HasSuffix(d.Name(), tmpSuffix) {
			if info.ModTime().Before(cutoff) {
				_ = os.Remove(path)
			}
			return nil
		}
		s.used += info.Size()
		s.objects++
		return nil
	})
}

// objectPath shards objects by the first two characters of their ID.
func (s *LocalStorage) objectPath(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") || len(id) < 3 {
		return "", fmt.Errorf("%w: invalid object id %q", ErrObjectNotFound, id)
	}
	return filepath.Join(s.basePath, id[:2], id), nil
}

// Put stores a chunk on the local filesystem under a fresh random ID.
func (s *LocalStorage) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	size := int64(len(data))

	s.mu.Lock()
	if s.quota > 0 && s.used+size > s.quota {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %d bytes used of %d", ErrQuotaExceeded, s.used, s.quota)
	}
	// reserve before writing so concurrent puts cannot overshoot
	s.used += size
	s.mu.Unlock()

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := s.write(id, data); err != nil {
		s.mu.Lock()
		s.used -= size
		s.mu.Unlock()
		return "", err
	}

	s.mu.Lock()
	s.objects++
	s.mu.Unlock()
	return id, nil
}

func (s *LocalStorage) write(id string, data []byte) error {
	path, err := s.objectPath(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir: %v", ErrUnavailable, err)
	}

	// a crash mid-write must never leave a readable partial object
	tmpPath := path + tmpSuffix
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("%w: create file: %v", ErrUnavailable, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: write file: %v", ErrUnavailable, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: sync file: %v", ErrUnavailable, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close file: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename file: %v", ErrUnavailable, err)
	}
	return nil
}

// Get retrieves a chunk from the local filesystem.
func (s *LocalStorage) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.objectPath(id)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("%w: open chunk file: %v", ErrUnavailable, err)
	}
	return file, nil
}

// Delete removes a chunk from the local filesystem.
func (s *LocalStorage) Delete(ctx context.Context, id string) error {
	path, err := s.objectPath(id)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: stat chunk file: %v", ErrUnavailable, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove chunk file: %v", ErrUnavailable, err)
	}

	s.mu.Lock()
	s.used -= info.Size()
	s.objects--
	s.mu.Unlock()
	return nil
}

// Usage reports bytes stored under the root and the configured quota.
func (s *LocalStorage) Usage(ctx context.Context) (StorageUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StorageUsage{
		Backend: "local",
		Objects: s.objects,
		Used:    s.used,
		Limit:   s.quota,
	}, nil
}
