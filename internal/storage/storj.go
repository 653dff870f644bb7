package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"storj.io/uplink"
)

// StorjConfig configures the Storj backend.
type StorjConfig struct {
	// AccessGrant is the serialized Storj access grant.
	AccessGrant string
	// Bucket is created on open if it does not exist.
	Bucket string
	// Prefix is prepended to every object key (optional).
	Prefix string
}

// StorjStorage stores chunks on the Storj network.
type StorjStorage struct {
	project *uplink.Project
	bucket  string
	prefix  string
}

// NewStorjStorage parses the access grant, opens the project and ensures the bucket.
func NewStorjStorage(ctx context.Context, cfg StorjConfig) (*StorjStorage, error) {
	if cfg.AccessGrant == "" {
		return nil, fmt.Errorf("access grant is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	access, err := uplink.ParseAccess(cfg.AccessGrant)
	if err != nil {
		return nil, fmt.Errorf("%w: parse access grant: %v", ErrUnauthorized, err)
	}

	project, err := uplink.OpenProject(ctx, access)
	if err != nil {
		return nil, classifyStorjError("open project", "", err)
	}

	if _, err := project.EnsureBucket(ctx, cfg.Bucket); err != nil {
		project.Close()
		return nil, classifyStorjError("ensure bucket", cfg.Bucket, err)
	}

	return &StorjStorage{
		project: project,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Close closes the Storj project connection.
func (s *StorjStorage) Close() error {
	if s.project != nil {
		return s.project.Close()
	}
	return nil
}

func (s *StorjStorage) key(id string) string {
	if s.prefix == "" {
		return id
	}
	return path.Join(s.prefix, id)
}

func (s *StorjStorage) Put(ctx context.Context, data []byte) (string, error) {
	id := uuid.NewString()
	upload, err := s.project.UploadObject(ctx, s.bucket, s.key(id), nil)
	if err != nil {
		return "", classifyStorjError("initiate upload", id, err)
	}

	if _, err := upload.Write(data); err != nil {
		_ = upload.Abort()
		return "", classifyStorjError("write data", id, err)
	}

	if err := upload.Commit(); err != nil {
		return "", classifyStorjError("commit upload", id, err)
	}
	return id, nil
}

func (s *StorjStorage) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	download, err := s.project.DownloadObject(ctx, s.bucket, s.key(id), nil)
	if err != nil {
		return nil, classifyStorjError("download object", id, err)
	}
	return download, nil
}

func (s *StorjStorage) Delete(ctx context.Context, id string) error {
	_, err := s.project.DeleteObject(ctx, s.bucket, s.key(id))
	if err != nil && !errors.Is(err, uplink.ErrObjectNotFound) {
		return classifyStorjError("delete object", id, err)
	}
	return nil
}

func classifyStorjError(op, id string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("storj %s %s: %w", op, id, err)
	case errors.Is(err, uplink.ErrObjectNotFound), errors.Is(err, uplink.ErrBucketNotFound):
		return fmt.Errorf("%w: storj %s %s", ErrObjectNotFound, op, id)
	case errors.Is(err, uplink.ErrPermissionDenied):
		return fmt.Errorf("%w: storj %s %s", ErrUnauthorized, op, id)
	case errors.Is(err, uplink.ErrStorageLimitExceeded),
		errors.Is(err, uplink.ErrSegmentsLimitExceeded),
		errors.Is(err, uplink.ErrBandwidthLimitExceeded):
		return fmt.Errorf("%w: storj %s %s: %v", ErrQuotaExceeded, op, id, err)
	default:
		return fmt.Errorf("%w: storj %s %s: %v", ErrUnavailable, op, id, err)
	}
}
