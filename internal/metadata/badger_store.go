package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

var manifestPrefix = []byte("manifest:")

// BadgerStore wraps BadgerDB for manifest persistence.
// Each Save is a single transaction, so readers never see a partial manifest.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a BadgerDB at the given path.
func OpenBadgerStore(dbPath string) (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions(dbPath).WithLogger(nil))
}

// OpenInMemoryBadgerStore opens a BadgerDB that lives only in memory.
func OpenInMemoryBadgerStore() (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func manifestKey(name string) []byte {
	return append(append([]byte{}, manifestPrefix...), name...)
}

// Close closes the BadgerDB.
func (bs *BadgerStore) Close() error {
	return bs.db.Close()
}

// Save stores a manifest, replacing any previous one with the same source name.
func (bs *BadgerStore) Save(ctx context.Context, m *Manifest) error {
	if err := checkSave(m); err != nil {
		return err
	}
	val, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(manifestKey(m.SourceName), val)
	})
}

// Load retrieves a manifest by source name.
func (bs *BadgerStore) Load(ctx context.Context, sourceName string) (*Manifest, error) {
	var m Manifest
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(manifestKey(sourceName))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := msgpack.Unmarshal(val, &m); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrManifestCorrupt, sourceName, err)
			}
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, sourceName)
	}
	if err != nil {
		return nil, err
	}
	return checkLoaded(sourceName, &m)
}

// List returns every stored manifest ordered by source name.
// Entries that fail to decode are skipped.
func (bs *BadgerStore) List(ctx context.Context) ([]*Manifest, error) {
	var out []*Manifest
	err := bs.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(manifestPrefix); it.ValidForPrefix(manifestPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			name := string(item.Key()[len(manifestPrefix):])
			var m Manifest
			err := item.Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &m)
			})
			if err != nil {
				continue
			}
			if valid, err := checkLoaded(name, &m); err == nil {
				out = append(out, valid)
			}
		}
		return nil
	})
	return out, err
}

// Delete removes a manifest. Missing manifests yield ErrManifestNotFound.
func (bs *BadgerStore) Delete(ctx context.Context, sourceName string) error {
	return bs.db.Update(func(txn *badger.Txn) error {
		key := manifestKey(sourceName)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrManifestNotFound, sourceName)
			}
			return err
		}
		return txn.Delete(key)
	})
}
