package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/syncly/internal/chunker"
	"github.com/jaywantadh/syncly/internal/metadata"
	"github.com/jaywantadh/syncly/internal/storage"
)

// Aborter is implemented by sinks that can mark their output incomplete.
type Aborter interface {
	Abort() error
}

type flusher interface {
	Flush() error
}

// Downloader rebuilds files from their manifests.
type Downloader struct {
	store storage.Storage
	opts  Options
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDownloader(store storage.Storage, opts Options) *Downloader {
	return &Downloader{store: store, opts: opts.withDefaults(), sleep: sleepContext}
}

type fetched struct {
	index int
	data  []byte
	err   error
}

// Reconstruct writes the chunks of m to w in index order.
// Up to Concurrency chunks are fetched or buffered at once. Every chunk must
// match its recorded size and digest. On any failure w is aborted if it
// implements Aborter, and must be treated as incomplete.
func (d *Downloader) Reconstruct(ctx context.Context, m *metadata.Manifest, w io.Writer) (err error) {
	if verr := m.Validate(); verr != nil {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, verr)
	}

	log := d.opts.Logger.WithFields(logrus.Fields{
		"source":    m.SourceName,
		"upload_id": m.UploadID,
		"chunks":    m.NumChunks(),
	})

	defer func() {
		if err == nil {
			return
		}
		log.WithError(err).Warn("reconstruction failed, output incomplete")
		if a, ok := w.(Aborter); ok {
			if aerr := a.Abort(); aerr != nil {
				log.WithError(aerr).Warn("failed to abort sink")
			}
		}
	}()

	n := len(m.Chunks)
	k := d.opts.Concurrency

	slots := make(chan struct{}, k)
	results := make(chan fetched, k)
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i, rec := range m.Chunks {
			select {
			case slots <- struct{}{}:
			case <-stop:
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				data, err := d.fetch(ctx, rec)
				results <- fetched{index: i, data: data, err: err}
			}()
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	pending := make(map[int][]byte, k)
	next := 0
	var written int64
	for next < n {
		if ctx.Err() != nil {
			return fmt.Errorf("%w after %d of %d chunks: %w", ErrCancelled, next, n, ctx.Err())
		}

		var r fetched
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %d of %d chunks: %w", ErrCancelled, next, n, ctx.Err())
		case r = <-results:
		}
		if r.err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w after %d of %d chunks: %w", ErrCancelled, next, n, ctx.Err())
			}
			return r.err
		}
		pending[r.index] = r.data

		for {
			data, ok := pending[next]
			if !ok {
				break
			}
			if ctx.Err() != nil {
				return fmt.Errorf("%w after %d of %d chunks: %w", ErrCancelled, next, n, ctx.Err())
			}
			delete(pending, next)
			if _, err := w.Write(data); err != nil {
				return fmt.Errorf("write chunk %d: %w", next, err)
			}
			written += int64(len(data))
			d.opts.Progress(Progress{Op: OpDownload, Name: m.SourceName, Index: next, Bytes: written, Chunks: next + 1})
			next++
			<-slots
		}
	}

	if written != m.TotalSize {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrTruncatedTransfer, written, m.TotalSize)
	}
	if f, ok := w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush output: %w", err)
		}
	}

	log.WithField("bytes", written).Info("reconstruction complete")
	return nil
}

// fetch reads one chunk and checks it against its record. Retryable storage
// failures are attempted again up to Options.Retries times. At most Size+1
// bytes of any attempt are held in memory. A started Get runs to completion
// even if ctx is cancelled; ctx only stops further attempts.
func (d *Downloader) fetch(ctx context.Context, rec metadata.ChunkRecord) ([]byte, error) {
	getCtx := context.WithoutCancel(ctx)
	attempts := 1 + d.opts.Retries
	var lastErr error
	for i := range attempts {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * d.opts.RetryBackoff
			d.opts.Logger.WithFields(logrus.Fields{
				"chunk":   rec.Index,
				"object":  rec.ObjectID,
				"attempt": i + 1,
				"backoff": backoff,
			}).Warnf("retrying chunk fetch: %v", lastErr)
			if err := d.sleep(ctx, backoff); err != nil {
				return nil, fmt.Errorf("retry of chunk %d cancelled: %w", rec.Index, err)
			}
		}

		data, err := d.fetchOnce(getCtx, rec)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("chunk %d failed after %d attempts: %w", rec.Index, attempts, lastErr)
}

func (d *Downloader) fetchOnce(ctx context.Context, rec metadata.ChunkRecord) ([]byte, error) {
	rc, err := d.store.Get(ctx, rec.ObjectID)
	if err != nil {
		return nil, fmt.Errorf("get chunk %d (%s): %w", rec.Index, rec.ObjectID, err)
	}
	defer rc.Close()

	// One extra byte is enough to tell an oversized object apart.
	data, err := io.ReadAll(io.LimitReader(rc, rec.Size+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read chunk %d (%s): %v", storage.ErrUnavailable, rec.Index, rec.ObjectID, err)
	}

	switch got := int64(len(data)); {
	case got < rec.Size:
		return nil, fmt.Errorf("%w: chunk %d has %d bytes, want %d", ErrTruncatedTransfer, rec.Index, got, rec.Size)
	case got > rec.Size:
		return nil, fmt.Errorf("%w: chunk %d is longer than %d bytes", ErrCorruptTransfer, rec.Index, rec.Size)
	}
	if rec.Digest != "" && chunker.Digest(data) != rec.Digest {
		return nil, fmt.Errorf("%w: chunk %d digest mismatch", ErrCorruptTransfer, rec.Index)
	}
	return data, nil
}

// retryable excludes size and digest failures: the stored object itself is wrong.
func retryable(err error) bool {
	if errors.Is(err, ErrTruncatedTransfer) || errors.Is(err, ErrCorruptTransfer) {
		return false
	}
	return storage.IsRetryable(err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
