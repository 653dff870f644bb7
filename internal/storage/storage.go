package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrObjectNotFound is returned when an object ID is unknown to the backend.
	ErrObjectNotFound = errors.New("object not found")
	// ErrUnavailable covers transient backend and network failures.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrQuotaExceeded is returned when the backend refuses a write for lack of space.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrUnauthorized is returned when the backend rejects the credentials.
	ErrUnauthorized = errors.New("storage unauthorized")
)

// Storage is the object store the transfer engine writes chunks to.
// Objects are immutable: every Put creates a new object with a backend-chosen ID.
type Storage interface {
	// Put stores data and returns the identifier of the new object.
	Put(ctx context.Context, data []byte) (string, error)
	// Get opens the object with the given identifier.
	Get(ctx context.Context, id string) (io.ReadCloser, error)
	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, id string) error
}

// StorageUsage reports how much of a backend is in use.
// Limit is zero when the backend has no known limit.
type StorageUsage struct {
	Backend string `json:"backend"`
	Objects int64  `json:"objects"`
	Used    int64  `json:"used_bytes"`
	Limit   int64  `json:"limit_bytes"`
}

// Free returns the remaining bytes, or -1 when unlimited.
func (u StorageUsage) Free() int64 {
	if u.Limit <= 0 {
		return -1
	}
	if u.Used >= u.Limit {
		return 0
	}
	return u.Limit - u.Used
}

// UsageReporter is implemented by backends that can report their usage.
type UsageReporter interface {
	Usage(ctx context.Context) (StorageUsage, error)
}

// Unwrapper is implemented by decorators so callers can reach the backend.
type Unwrapper interface {
	Unwrap() Storage
}

// UsageOf walks through decorators and asks the first backend able to report usage.
func UsageOf(ctx context.Context, s Storage) (StorageUsage, bool, error) {
	for s != nil {
		if r, ok := s.(UsageReporter); ok {
			u, err := r.Usage(ctx)
			return u, true, err
		}
		w, ok := s.(Unwrapper)
		if !ok {
			break
		}
		s = w.Unwrap()
	}
	return StorageUsage{}, false, nil
}

// IsRetryable reports whether a failed call may succeed when repeated.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrObjectNotFound) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrQuotaExceeded) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
