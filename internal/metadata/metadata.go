package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrManifestNotFound is returned when no manifest exists for a source name.
	ErrManifestNotFound = errors.New("manifest not found")
	// ErrManifestCorrupt is returned when a persisted manifest cannot be decoded or is invalid.
	ErrManifestCorrupt = errors.New("manifest corrupt")
	// ErrManifestInvalid is returned when a manifest violates its invariants.
	ErrManifestInvalid = errors.New("manifest invalid")
)

// ChunkRecord maps one chunk of the source to the object holding it.
type ChunkRecord struct {
	Index    int    `json:"index" msgpack:"index"`
	ObjectID string `json:"object_id" msgpack:"object_id"`
	Size     int64  `json:"size" msgpack:"size"`
	Digest   string `json:"digest,omitempty" msgpack:"digest,omitempty"`
}

// Manifest is the durable description of one uploaded file.
type Manifest struct {
	SourceName string        `json:"source_name" msgpack:"source_name"`
	UploadID   string        `json:"upload_id" msgpack:"upload_id"`
	ChunkSize  int64         `json:"chunk_size" msgpack:"chunk_size"`
	TotalSize  int64         `json:"total_size" msgpack:"total_size"`
	CreatedAt  int64         `json:"created_at" msgpack:"created_at"` // Unix timestamp
	Chunks     []ChunkRecord `json:"chunks" msgpack:"chunks"`
}

// NewManifest creates an empty manifest for a new upload.
func NewManifest(sourceName string, chunkSize int64) *Manifest {
	return &Manifest{
		SourceName: sourceName,
		UploadID:   uuid.NewString(),
		ChunkSize:  chunkSize,
		CreatedAt:  time.Now().Unix(),
		Chunks:     []ChunkRecord{},
	}
}

// Append adds the next record and keeps TotalSize in step.
func (m *Manifest) Append(rec ChunkRecord) {
	m.Chunks = append(m.Chunks, rec)
	m.TotalSize += rec.Size
}

// NumChunks returns the number of recorded chunks.
func (m *Manifest) NumChunks() int {
	return len(m.Chunks)
}

// ObjectIDs returns the object identifiers in chunk order.
func (m *Manifest) ObjectIDs() []string {
	ids := make([]string, len(m.Chunks))
	for i, c := range m.Chunks {
		ids[i] = c.ObjectID
	}
	return ids
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Chunks = make([]ChunkRecord, len(m.Chunks))
	copy(cp.Chunks, m.Chunks)
	return &cp
}

// Validate checks the invariants every usable manifest satisfies:
// indices are exactly 0..n-1 in order, object IDs are non-empty and unique,
// every chunk but the last is ChunkSize bytes, and sizes add up to TotalSize.
func (m *Manifest) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil manifest", ErrManifestInvalid)
	}
	if m.SourceName == "" {
		return fmt.Errorf("%w: empty source name", ErrManifestInvalid)
	}
	if m.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size %d", ErrManifestInvalid, m.ChunkSize)
	}

	seen := make(map[string]int, len(m.Chunks))
	var total int64
	last := len(m.Chunks) - 1
	for i, c := range m.Chunks {
		if c.Index != i {
			return fmt.Errorf("%w: record %d has index %d", ErrManifestInvalid, i, c.Index)
		}
		if c.ObjectID == "" {
			return fmt.Errorf("%w: chunk %d has no object id", ErrManifestInvalid, i)
		}
		if prev, dup := seen[c.ObjectID]; dup {
			return fmt.Errorf("%w: chunks %d and %d share object %s", ErrManifestInvalid, prev, i, c.ObjectID)
		}
		seen[c.ObjectID] = i

		switch {
		case c.Size <= 0 || c.Size > m.ChunkSize:
			return fmt.Errorf("%w: chunk %d has size %d (chunk size %d)", ErrManifestInvalid, i, c.Size, m.ChunkSize)
		case i < last && c.Size != m.ChunkSize:
			return fmt.Errorf("%w: inner chunk %d has size %d, want %d", ErrManifestInvalid, i, c.Size, m.ChunkSize)
		}
		total += c.Size
	}
	if total != m.TotalSize {
		return fmt.Errorf("%w: chunk sizes add up to %d, total size is %d", ErrManifestInvalid, total, m.TotalSize)
	}
	return nil
}

// Store persists manifests keyed by source name.
// Save must publish atomically: a concurrent Load sees either the previous
// complete manifest or the new complete one.
type Store interface {
	Save(ctx context.Context, m *Manifest) error
	Load(ctx context.Context, sourceName string) (*Manifest, error)
	List(ctx context.Context) ([]*Manifest, error)
	Delete(ctx context.Context, sourceName string) error
	Close() error
}

// checkLoaded turns a decoded manifest that fails validation into ErrManifestCorrupt.
func checkLoaded(name string, m *Manifest) (*Manifest, error) {
	if m.Chunks == nil {
		m.Chunks = []ChunkRecord{}
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrManifestCorrupt, name, err)
	}
	if m.SourceName != name {
		return nil, fmt.Errorf("%w: %s: stored under name %q", ErrManifestCorrupt, name, m.SourceName)
	}
	return m, nil
}

func checkSave(m *Manifest) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("refusing to save: %w", err)
	}
	return nil
}
