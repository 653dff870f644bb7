package dfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/syncly/internal/chunker"
	"github.com/jaywantadh/syncly/internal/metadata"
	"github.com/jaywantadh/syncly/internal/storage"
	"github.com/jaywantadh/syncly/internal/transfer"
	"github.com/jaywantadh/syncly/pkg/logging"
)

// Options configure a Core.
type Options struct {
	// ChunkSize is used when a call passes chunkSize <= 0.
	ChunkSize int64
	// Concurrency bounds chunks in flight per transfer.
	Concurrency int
	// Retries and RetryBackoff control chunk fetch retries on download.
	Retries      int
	RetryBackoff time.Duration
	Logger       logrus.FieldLogger
}

// Core is the entry point for splitting, uploading and rebuilding files.
// Independent files can be transferred concurrently.
type Core struct {
	store     storage.Storage
	manifests metadata.Store
	opts      Options
	logger    logrus.FieldLogger
	tracker   *transfer.ProgressTracker

	closeOnce sync.Once
	closers   []io.Closer
}

// New creates a Core on top of an object store and a manifest store.
func New(store storage.Storage, manifests metadata.Store, opts Options) *Core {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = chunker.DefaultChunkSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = transfer.DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = logging.Get()
	}
	return &Core{
		store:     store,
		manifests: manifests,
		opts:      opts,
		logger:    opts.Logger,
		tracker:   transfer.NewProgressTracker(),
	}
}

func (c *Core) transferOptions(transferID string) transfer.Options {
	return transfer.Options{
		Concurrency:  c.opts.Concurrency,
		Retries:      c.opts.Retries,
		RetryBackoff: c.opts.RetryBackoff,
		Logger:       c.logger.WithField("transfer_id", transferID),
		Progress:     c.tracker.Func(transferID),
	}
}

// SplitAndUpload uploads the file at filePath and returns the manifest ID.
// destination names the manifest; it defaults to the file's base name.
func (c *Core) SplitAndUpload(ctx context.Context, filePath string, chunkSize int64, destination string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", transfer.ErrSourceRead, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: %w", transfer.ErrSourceRead, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", transfer.ErrSourceRead, filePath)
	}

	if destination == "" {
		destination = filepath.Base(filePath)
	}
	m, err := c.upload(ctx, destination, f, chunkSize, info.Size())
	if err != nil {
		return "", err
	}
	return m.SourceName, nil
}

// UploadStream uploads everything read from r under name.
func (c *Core) UploadStream(ctx context.Context, name string, r io.Reader, chunkSize int64) (*metadata.Manifest, error) {
	return c.upload(ctx, name, r, chunkSize, 0)
}

func (c *Core) upload(ctx context.Context, name string, r io.Reader, chunkSize, length int64) (*metadata.Manifest, error) {
	if name == "" {
		return nil, errors.New("manifest name is required")
	}
	if chunkSize <= 0 {
		chunkSize = c.opts.ChunkSize
	}
	src, err := chunker.NewSource(r, chunkSize)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	c.tracker.StartTracking(id, name, transfer.OpUpload, chunker.ChunkCount(length, chunkSize), length)

	m, err := transfer.NewUploader(c.store, c.manifests, c.transferOptions(id)).Upload(ctx, name, src)
	c.finish(id, err)
	return m, err
}

// DownloadAndMerge rebuilds the file described by manifestID at outputPath.
// On failure no file is left at outputPath.
func (c *Core) DownloadAndMerge(ctx context.Context, manifestID, outputPath string) error {
	m, err := c.manifests.Load(ctx, manifestID)
	if err != nil {
		return err
	}

	sink, err := transfer.CreateFileSink(outputPath)
	if err != nil {
		return err
	}

	if err := c.reconstruct(ctx, m, sink); err != nil {
		if derr := sink.Discard(); derr != nil {
			c.logger.WithError(derr).WithField("path", sink.IncompletePath()).Warn("failed to remove incomplete output")
		}
		return err
	}
	if err := sink.Commit(); err != nil {
		_ = sink.Discard()
		return err
	}
	c.logger.WithField("path", sink.Path()).WithField("source", m.SourceName).Info("download committed")
	return nil
}

// Reconstruct loads manifestID and writes the file to w.
func (c *Core) Reconstruct(ctx context.Context, manifestID string, w io.Writer) (*metadata.Manifest, error) {
	m, err := c.manifests.Load(ctx, manifestID)
	if err != nil {
		return nil, err
	}
	return m, c.reconstruct(ctx, m, w)
}

func (c *Core) reconstruct(ctx context.Context, m *metadata.Manifest, w io.Writer) error {
	id := uuid.NewString()
	c.tracker.StartTracking(id, m.SourceName, transfer.OpDownload, m.NumChunks(), m.TotalSize)
	err := transfer.NewDownloader(c.store, c.transferOptions(id)).Reconstruct(ctx, m, w)
	c.finish(id, err)
	return err
}

func (c *Core) finish(transferID string, err error) {
	switch {
	case err == nil:
		c.tracker.Finish(transferID, transfer.StatusCompleted, nil)
	case errors.Is(err, transfer.ErrCancelled):
		c.tracker.Finish(transferID, transfer.StatusCancelled, err)
	default:
		c.tracker.Finish(transferID, transfer.StatusFailed, err)
	}
}

// Manifest returns the stored manifest for id.
func (c *Core) Manifest(ctx context.Context, id string) (*metadata.Manifest, error) {
	return c.manifests.Load(ctx, id)
}

// List returns the manifests matching q.
func (c *Core) List(ctx context.Context, q metadata.SearchQuery) ([]*metadata.Manifest, error) {
	return metadata.Search(ctx, c.manifests, q)
}

// Remove deletes the manifest for id. With purge the chunk objects are
// deleted as well, after the manifest is gone. Object deletion errors are
// collected and returned together.
func (c *Core) Remove(ctx context.Context, id string, purge bool) error {
	m, err := c.manifests.Load(ctx, id)
	if err != nil {
		// a corrupt manifest can still be dropped, but its objects are unknown
		if purge || !errors.Is(err, metadata.ErrManifestCorrupt) {
			return err
		}
	}
	if err := c.manifests.Delete(ctx, id); err != nil {
		return err
	}
	if !purge {
		return nil
	}
	return c.deleteObjects(ctx, m.ObjectIDs())
}

// DeleteObjects removes objects, for example the orphans of a failed upload.
func (c *Core) DeleteObjects(ctx context.Context, ids []string) error {
	return c.deleteObjects(ctx, ids)
}

func (c *Core) deleteObjects(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		result *multierror.Error
		wg     sync.WaitGroup
		slots  = make(chan struct{}, c.opts.Concurrency)
	)
	for _, id := range ids {
		wg.Add(1)
		slots <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			if err := c.store.Delete(ctx, id); err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("delete %s: %w", id, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if err := result.ErrorOrNil(); err != nil {
		c.logger.WithError(err).WithField("objects", len(ids)).Warn("not all objects deleted")
		return err
	}
	c.logger.WithField("objects", len(ids)).Info("objects deleted")
	return nil
}

// Usage reports backend usage when the object store supports it.
func (c *Core) Usage(ctx context.Context) (storage.StorageUsage, bool, error) {
	return storage.UsageOf(ctx, c.store)
}

// Transfers returns the progress of recent transfers.
func (c *Core) Transfers() []transfer.TransferProgress {
	return c.tracker.GetAllProgress()
}

// ForgetTransfer drops a transfer snapshot. It reports false for unknown IDs.
func (c *Core) ForgetTransfer(id string) bool {
	return c.tracker.RemoveTransfer(id)
}

// Tracker exposes the progress tracker.
func (c *Core) Tracker() *transfer.ProgressTracker {
	return c.tracker
}

// Close releases the manifest store and any resources registered by NewFromConfig.
func (c *Core) Close() error {
	var result *multierror.Error
	c.closeOnce.Do(func() {
		if c.manifests != nil {
			if err := c.manifests.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		for _, cl := range c.closers {
			if err := cl.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	})
	return result.ErrorOrNil()
}
