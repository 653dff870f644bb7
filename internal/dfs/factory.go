package dfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jaywantadh/syncly/config"
	"github.com/jaywantadh/syncly/internal/metadata"
	"github.com/jaywantadh/syncly/internal/storage"
	"github.com/jaywantadh/syncly/pkg/logging"
)

// NewFromConfig builds the object store and manifest store described by cfg.
func NewFromConfig(ctx context.Context, cfg *config.AppConfig) (*Core, error) {
	logger := logging.Get()

	store, closer, err := OpenStorage(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Compress {
		store = storage.Compressed(store)
	}

	manifests, err := OpenManifestStore(cfg.Manifest)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}

	core := New(store, manifests, Options{
		ChunkSize:    cfg.Transfer.ChunkSize,
		Concurrency:  cfg.Transfer.Concurrency,
		Retries:      cfg.Transfer.Retries,
		RetryBackoff: cfg.Transfer.RetryBackoff,
		Logger:       logger,
	})
	if closer != nil {
		core.closers = append(core.closers, closer)
	}

	logger.WithField("store", cfg.Store.Type).
		WithField("manifest_backend", cfg.Manifest.Backend).
		Debug("core initialised")
	return core, nil
}

// OpenStorage creates the configured object store. The returned closer may be nil.
func OpenStorage(ctx context.Context, cfg config.Store) (storage.Storage, io.Closer, error) {
	switch cfg.Type {
	case "local":
		s, err := storage.NewLocalStorage(cfg.Local.Root, cfg.Local.QuotaBytes)
		return s, nil, err
	case "memory":
		return storage.NewMemoryStorage(), nil, nil
	case "s3":
		s, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:       cfg.S3.Bucket,
			Prefix:       cfg.S3.Prefix,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		return s, nil, err
	case "storj":
		s, err := storage.NewStorjStorage(ctx, storage.StorjConfig{
			AccessGrant: cfg.Storj.AccessGrant,
			Bucket:      cfg.Storj.Bucket,
			Prefix:      cfg.Storj.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// OpenManifestStore opens the configured manifest backend, cached when CacheTTL > 0.
func OpenManifestStore(cfg config.Manifest) (metadata.Store, error) {
	var (
		s   metadata.Store
		err error
	)
	switch cfg.Backend {
	case "badger":
		s, err = metadata.OpenBadgerStore(cfg.Path)
	case "file":
		s, err = metadata.OpenFileStore(cfg.Path)
	case "sqlite":
		if mkErr := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("create manifest directory: %w", mkErr)
		}
		s, err = metadata.OpenSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown manifest backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return metadata.NewCachedStore(s, cfg.CacheTTL), nil
}
