package metadata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleManifest(name string, chunkSize int64, sizes ...int64) *Manifest {
	m := NewManifest(name, chunkSize)
	for i, s := range sizes {
		m.Append(ChunkRecord{
			Index:    i,
			ObjectID: fmt.Sprintf("%s-obj-%d", m.UploadID, i),
			Size:     s,
			Digest:   fmt.Sprintf("digest-%d", i),
		})
	}
	return m
}

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Manifest)
		valid  bool
	}{
		{"valid", func(m *Manifest) {}, true},
		{"empty manifest", func(m *Manifest) { m.Chunks = nil; m.TotalSize = 0 }, true},
		{"empty source name", func(m *Manifest) { m.SourceName = "" }, false},
		{"zero chunk size", func(m *Manifest) { m.ChunkSize = 0 }, false},
		{"index gap", func(m *Manifest) { m.Chunks[1].Index = 2 }, false},
		{"swapped order", func(m *Manifest) { m.Chunks[0], m.Chunks[1] = m.Chunks[1], m.Chunks[0] }, false},
		{"empty object id", func(m *Manifest) { m.Chunks[2].ObjectID = "" }, false},
		{"duplicate object id", func(m *Manifest) { m.Chunks[1].ObjectID = m.Chunks[0].ObjectID }, false},
		{"short inner chunk", func(m *Manifest) { m.Chunks[0].Size--; m.TotalSize-- }, false},
		{"oversized final chunk", func(m *Manifest) { m.Chunks[2].Size = 11; m.TotalSize += 6 }, false},
		{"zero final chunk", func(m *Manifest) { m.TotalSize -= m.Chunks[2].Size; m.Chunks[2].Size = 0 }, false},
		{"total mismatch", func(m *Manifest) { m.TotalSize++ }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := sampleManifest("a.bin", 10, 10, 10, 5)
			tt.mutate(m)
			err := m.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrManifestInvalid)
			}
		})
	}
}

func TestNewManifestFreshUploadID(t *testing.T) {
	a := NewManifest("same", 10)
	b := NewManifest("same", 10)
	assert.NotEqual(t, a.UploadID, b.UploadID)
	assert.NotZero(t, a.CreatedAt)
}

func TestManifestClone(t *testing.T) {
	m := sampleManifest("a", 4, 4, 2)
	cp := m.Clone()
	cp.Chunks[0].ObjectID = "changed"
	assert.NotEqual(t, "changed", m.Chunks[0].ObjectID)
	assert.Equal(t, []string{m.Chunks[0].ObjectID, m.Chunks[1].ObjectID}, m.ObjectIDs())
}

type storeFactory struct {
	name    string
	open    func(t *testing.T) Store
	corrupt func(t *testing.T, s Store, name string)
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{
			name: "badger",
			open: func(t *testing.T) Store {
				s, err := OpenInMemoryBadgerStore()
				require.NoError(t, err)
				return s
			},
			corrupt: func(t *testing.T, s Store, name string) {
				bs := s.(*BadgerStore)
				require.NoError(t, bs.db.Update(func(txn *badger.Txn) error {
					return txn.Set(manifestKey(name), []byte{0xc1, 0xff, 0x00})
				}))
			},
		},
		{
			name: "file",
			open: func(t *testing.T) Store {
				s, err := OpenFileStore(t.TempDir())
				require.NoError(t, err)
				return s
			},
			corrupt: func(t *testing.T, s Store, name string) {
				fs := s.(*FileStore)
				require.NoError(t, os.WriteFile(fs.path(name), []byte(`{"source_name":`), 0o644))
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) Store {
				s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "manifests.db"))
				require.NoError(t, err)
				return s
			},
			corrupt: func(t *testing.T, s Store, name string) {
				ss := s.(*SQLiteStore)
				_, err := ss.db.Exec(`INSERT INTO manifests(source_name, upload_id, chunk_size, total_size, created_at) VALUES(?, 'u', 10, 99, 0)`, name)
				require.NoError(t, err)
			},
		},
		{
			name: "cached",
			open: func(t *testing.T) Store {
				inner, err := OpenFileStore(t.TempDir())
				require.NoError(t, err)
				return NewCachedStore(inner, time.Minute)
			},
			corrupt: func(t *testing.T, s Store, name string) {
				fs := s.(*CachedStore).inner.(*FileStore)
				require.NoError(t, os.WriteFile(fs.path(name), []byte("not json"), 0o644))
			},
		},
	}
}

func TestStores(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("save and load", func(t *testing.T) {
				s := f.open(t)
				defer s.Close()

				m := sampleManifest("dir/report 2024.pdf", 10, 10, 10, 5)
				require.NoError(t, s.Save(ctx, m))

				got, err := s.Load(ctx, m.SourceName)
				require.NoError(t, err)
				assert.Equal(t, m, got)
			})

			t.Run("empty manifest", func(t *testing.T) {
				s := f.open(t)
				defer s.Close()

				m := NewManifest("empty", 10)
				require.NoError(t, s.Save(ctx, m))
				got, err := s.Load(ctx, "empty")
				require.NoError(t, err)
				assert.Equal(t, int64(0), got.TotalSize)
				assert.Empty(t, got.Chunks)
			})

			t.Run("not found", func(t *testing.T) {
				s := f.open(t)
				defer s.Close()

				_, err := s.Load(ctx, "missing")
				assert.ErrorIs(t, err, ErrManifestNotFound)
				assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrManifestNotFound)
			})

			t.Run("refuses invalid", func(t *testing.T) {
				s := f.open(t)
				defer s.Close()

				m := sampleManifest("bad", 10, 10, 5)
				m.TotalSize = 1
				assert.ErrorIs(t, s.Save(ctx, m), ErrManifestInvalid)
				_, err := s.Load(ctx, "bad")
				assert.ErrorIs(t, err, ErrManifestNotFound)
			})

			t.Run("corrupt", func(t *testing.T) {
				s := f.open(t)
				defer s.Close()

				f.corrupt(t, s, "broken")
				_, err := s.Load(ctx, "broken")
				assert.ErrorIs(t, err, ErrManifestCorrupt)
			})

			t.Run("replace", func(t *testing.T) {
				s := f.open(t)
				defer s.Close()

				first := sampleManifest("f", 10, 10, 3)
				second := sampleManifest("f", 10, 7)
				require.NoError(t, s.Save(ctx, first))
				require.NoError(t, s.Save(ctx, second))

				got, err := s.Load(ctx, "f")
				require.NoError(t, err)
				assert.Equal(t, second.UploadID, got.UploadID)
				assert.Len(t, got.Chunks, 1)
			})

			t.Run("list and delete", func(t *testing.T) {
				s := f.open(t)
				defer s.Close()

				for _, name := range []string{"b", "a", "c"} {
					require.NoError(t, s.Save(ctx, sampleManifest(name, 10, 4)))
				}
				list, err := s.List(ctx)
				require.NoError(t, err)
				require.Len(t, list, 3)
				assert.Equal(t, "a", list[0].SourceName)
				assert.Equal(t, "c", list[2].SourceName)

				require.NoError(t, s.Delete(ctx, "b"))
				list, err = s.List(ctx)
				require.NoError(t, err)
				assert.Len(t, list, 2)
				_, err = s.Load(ctx, "b")
				assert.ErrorIs(t, err, ErrManifestNotFound)
			})

			t.Run("concurrent readers see whole manifests", func(t *testing.T) {
				s := f.open(t)
				defer s.Close()

				small := sampleManifest("hot", 10, 10, 1)
				large := sampleManifest("hot", 10, 10, 10, 10, 10, 2)
				require.NoError(t, s.Save(ctx, small))

				var wg sync.WaitGroup
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 20; i++ {
						m := small
						if i%2 == 0 {
							m = large
						}
						assert.NoError(t, s.Save(ctx, m))
					}
				}()
				for r := 0; r < 4; r++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						for i := 0; i < 20; i++ {
							got, err := s.Load(ctx, "hot")
							if !assert.NoError(t, err) {
								return
							}
							assert.NoError(t, got.Validate())
							if got.UploadID == small.UploadID {
								assert.Len(t, got.Chunks, 2)
							} else {
								assert.Len(t, got.Chunks, 5)
							}
						}
					}()
				}
				wg.Wait()
			})
		})
	}
}

func TestCachedStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	inner, err := OpenInMemoryBadgerStore()
	require.NoError(t, err)
	s := NewCachedStore(inner, time.Minute)
	defer s.Close()

	require.NoError(t, s.Save(ctx, sampleManifest("x", 10, 3)))
	got, err := s.Load(ctx, "x")
	require.NoError(t, err)
	got.Chunks[0].ObjectID = "mutated"

	again, err := s.Load(ctx, "x")
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.Chunks[0].ObjectID)

	require.NoError(t, s.Delete(ctx, "x"))
	_, err = s.Load(ctx, "x")
	assert.ErrorIs(t, err, ErrManifestNotFound)
}

func TestCachedStoreDisabled(t *testing.T) {
	inner, err := OpenInMemoryBadgerStore()
	require.NoError(t, err)
	defer inner.Close()
	assert.Same(t, Store(inner), NewCachedStore(inner, 0))
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	s, err := OpenInMemoryBadgerStore()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(ctx, sampleManifest("Report-Q1.pdf", 10, 10, 10)))
	require.NoError(t, s.Save(ctx, sampleManifest("report-q2.pdf", 10, 5)))
	require.NoError(t, s.Save(ctx, sampleManifest("photo.jpg", 10, 10, 10, 10)))

	got, err := Search(ctx, s, SearchQuery{Query: "REPORT"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Report-Q1.pdf", got[0].SourceName)

	got, err = Search(ctx, s, SearchQuery{SortBy: "total_size", SortOrder: "desc", Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "photo.jpg", got[0].SourceName)
	assert.Equal(t, "Report-Q1.pdf", got[1].SourceName)

	got, err = Search(ctx, s, SearchQuery{MinSize: 6, MaxSize: 25})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Report-Q1.pdf", got[0].SourceName)
}
