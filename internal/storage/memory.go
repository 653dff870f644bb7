package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// MemoryStorage keeps objects in a map. It is meant for tests and dry runs.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte)}
}

func (m *MemoryStorage) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	cp := make([]byte, len(data))
	copy(cp, data)

	m.mu.Lock()
	m.objects[id] = cp
	m.mu.Unlock()
	return id, nil
}

func (m *MemoryStorage) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.objects[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStorage) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.objects, id)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored objects.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Has reports whether an object exists.
func (m *MemoryStorage) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[id]
	return ok
}

// Replace overwrites an object in place. Tests use it to simulate a misbehaving backend.
func (m *MemoryStorage) Replace(id string, data []byte) {
	m.mu.Lock()
	m.objects[id] = data
	m.mu.Unlock()
}

func (m *MemoryStorage) Usage(ctx context.Context) (StorageUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var used int64
	for _, data := range m.objects {
		used += int64(len(data))
	}
	return StorageUsage{Backend: "memory", Objects: int64(len(m.objects)), Used: used}, nil
}
