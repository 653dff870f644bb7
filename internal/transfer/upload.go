package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jaywantadh/syncly/internal/chunker"
	"github.com/jaywantadh/syncly/internal/metadata"
	"github.com/jaywantadh/syncly/internal/storage"
)

// Uploader stores the chunks of a source and publishes its manifest.
type Uploader struct {
	store     storage.Storage
	manifests metadata.Store
	opts      Options
}

// NewUploader creates an uploader. manifests may be nil, in which case
// Upload only returns the manifest.
func NewUploader(store storage.Storage, manifests metadata.Store, opts Options) *Uploader {
	return &Uploader{
		store:     store,
		manifests: manifests,
		opts:      opts.withDefaults(),
	}
}

// Upload reads src to the end, storing each chunk with up to Concurrency puts
// in flight. The manifest is saved only after every chunk was stored.
// On failure nothing is saved and the error is an *UploadError listing the
// objects that were stored anyway.
func (u *Uploader) Upload(ctx context.Context, name string, src *chunker.Source) (*metadata.Manifest, error) {
	m := metadata.NewManifest(name, src.ChunkSize())
	log := u.opts.Logger.WithFields(logrus.Fields{
		"source":    name,
		"upload_id": m.UploadID,
	})

	// Puts already started finish on their own when ctx is cancelled.
	putCtx := context.WithoutCancel(ctx)

	var (
		g        errgroup.Group
		mu       sync.Mutex
		records  = make(map[int]metadata.ChunkRecord)
		stored   []string
		bytes    int64
		failOnce sync.Once
		failed   = make(chan struct{})
	)
	g.SetLimit(u.opts.Concurrency)

	dispatched := 0
	var abortErr error
read:
	for {
		select {
		case <-ctx.Done():
			abortErr = fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
			break read
		case <-failed:
			break read
		default:
		}

		c, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			abortErr = fmt.Errorf("%w: %w", ErrSourceRead, err)
			break
		}
		dispatched++

		g.Go(func() error {
			id, err := u.store.Put(putCtx, c.Data)
			if err != nil {
				failOnce.Do(func() { close(failed) })
				return fmt.Errorf("put chunk %d: %w", c.Index, err)
			}

			mu.Lock()
			records[c.Index] = metadata.ChunkRecord{
				Index:    c.Index,
				ObjectID: id,
				Size:     c.Size,
				Digest:   c.Digest,
			}
			stored = append(stored, id)
			bytes += c.Size
			p := Progress{Op: OpUpload, Name: name, Index: c.Index, Bytes: bytes, Chunks: len(stored)}
			mu.Unlock()

			log.WithFields(logrus.Fields{"chunk": c.Index, "object_id": id}).Debug("chunk stored")
			u.opts.Progress(p)
			return nil
		})
	}

	putErr := g.Wait()
	if abortErr == nil {
		abortErr = putErr
	}
	if abortErr == nil && ctx.Err() != nil {
		abortErr = fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	if abortErr != nil {
		log.WithError(abortErr).WithField("orphaned", len(stored)).Warn("upload aborted, manifest not saved")
		return nil, &UploadError{Name: name, Orphaned: stored, Err: abortErr}
	}

	for i := 0; i < dispatched; i++ {
		m.Append(records[i])
	}
	if err := m.Validate(); err != nil {
		return nil, &UploadError{Name: name, Orphaned: stored, Err: err}
	}

	if u.manifests != nil {
		if err := u.manifests.Save(putCtx, m); err != nil {
			log.WithError(err).Error("failed to save manifest")
			return nil, &UploadError{Name: name, Orphaned: stored, Err: fmt.Errorf("save manifest: %w", err)}
		}
	}

	log.WithFields(logrus.Fields{
		"chunks": m.NumChunks(),
		"bytes":  m.TotalSize,
	}).Info("upload complete")
	return m, nil
}
