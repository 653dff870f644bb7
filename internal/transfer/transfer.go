package transfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/syncly/pkg/logging"
)

const (
	// DefaultConcurrency is the pipeline depth used when Options.Concurrency is unset.
	DefaultConcurrency = 4
	// DefaultRetryBackoff is the delay before the first chunk retry; it doubles on every attempt.
	DefaultRetryBackoff = 500 * time.Millisecond
)

var (
	// ErrSourceRead reports a failure reading the upload source.
	ErrSourceRead = errors.New("source read failed")
	// ErrInvalidManifest reports a manifest that fails validation before any write.
	ErrInvalidManifest = errors.New("invalid manifest")
	// ErrTruncatedTransfer reports a chunk or file that came back shorter than recorded.
	ErrTruncatedTransfer = errors.New("truncated transfer")
	// ErrCorruptTransfer reports a chunk that is longer than recorded or fails its digest.
	ErrCorruptTransfer = errors.New("corrupt transfer")
	// ErrCancelled reports a transfer stopped by its context.
	ErrCancelled = errors.New("transfer cancelled")
)

// Options configure Uploader and Downloader.
type Options struct {
	// Concurrency bounds the number of chunks in flight. Defaults to DefaultConcurrency.
	Concurrency int
	// Retries is the number of extra attempts for a chunk fetch that failed
	// with a retryable storage error. Size and digest failures are never retried.
	Retries int
	// RetryBackoff is the base delay between fetch attempts.
	RetryBackoff time.Duration
	Logger       logrus.FieldLogger
	Progress     ProgressFunc
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.Logger == nil {
		o.Logger = logging.Get()
	}
	if o.Progress == nil {
		o.Progress = func(Progress) {}
	}
	return o
}

// Op names the direction of a transfer.
type Op string

const (
	OpUpload   Op = "upload"
	OpDownload Op = "download"
)

// Progress is reported after each chunk is stored or written.
type Progress struct {
	Op     Op
	Name   string
	Index  int
	Bytes  int64 // cumulative
	Chunks int   // cumulative
}

// ProgressFunc receives progress callbacks. It must not block for long.
type ProgressFunc func(Progress)

// UploadError is returned when an upload aborts after some chunks were stored.
// The listed objects are not referenced by any manifest.
type UploadError struct {
	Name     string
	Orphaned []string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s failed (%d objects orphaned): %v", e.Name, len(e.Orphaned), e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }
