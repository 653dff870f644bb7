package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/jaywantadh/syncly/internal/compressor"
)

// CompressedStorage compresses objects on Put and decompresses them on Get.
type CompressedStorage struct {
	inner Storage
}

// Compressed wraps inner with transparent lz4 compression.
func Compressed(inner Storage) *CompressedStorage {
	return &CompressedStorage{inner: inner}
}

func (c *CompressedStorage) Put(ctx context.Context, data []byte) (string, error) {
	encoded, err := compressor.Encode(data)
	if err != nil {
		return "", err
	}
	return c.inner.Put(ctx, encoded)
}

func (c *CompressedStorage) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	body, err := c.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r, err := compressor.NewReader(body)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("object %s: %w", id, err)
	}
	return &readCloser{Reader: r, closer: body}, nil
}

func (c *CompressedStorage) Delete(ctx context.Context, id string) error {
	return c.inner.Delete(ctx, id)
}

func (c *CompressedStorage) Unwrap() Storage {
	return c.inner
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (r *readCloser) Close() error {
	return r.closer.Close()
}
