package metadata

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachedStore is a read-through TTL cache in front of another Store.
// Loaded manifests are cloned on the way in and out so callers cannot
// mutate cached entries.
type CachedStore struct {
	inner Store
	ttl   time.Duration
	cache *cache.Cache
}

// NewCachedStore wraps inner. A ttl <= 0 disables caching and returns inner.
func NewCachedStore(inner Store, ttl time.Duration) Store {
	if ttl <= 0 {
		return inner
	}
	return &CachedStore{
		inner: inner,
		ttl:   ttl,
		cache: cache.New(ttl, ttl*2),
	}
}

func (cs *CachedStore) Save(ctx context.Context, m *Manifest) error {
	cs.cache.Delete(m.SourceName)
	if err := cs.inner.Save(ctx, m); err != nil {
		return err
	}
	cs.cache.Set(m.SourceName, m.Clone(), cs.ttl)
	return nil
}

func (cs *CachedStore) Load(ctx context.Context, sourceName string) (*Manifest, error) {
	if item, ok := cs.cache.Get(sourceName); ok && item != nil {
		return item.(*Manifest).Clone(), nil
	}
	m, err := cs.inner.Load(ctx, sourceName)
	if err != nil {
		return nil, err
	}
	cs.cache.Set(sourceName, m.Clone(), cs.ttl)
	return m, nil
}

func (cs *CachedStore) List(ctx context.Context) ([]*Manifest, error) {
	return cs.inner.List(ctx)
}

func (cs *CachedStore) Delete(ctx context.Context, sourceName string) error {
	cs.cache.Delete(sourceName)
	return cs.inner.Delete(ctx, sourceName)
}

func (cs *CachedStore) Close() error {
	cs.cache.Flush()
	return cs.inner.Close()
}
