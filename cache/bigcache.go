package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
)

const defaultLifeWindow = 30 * 24 * time.Hour

// BigCache is a sharded in-memory store. Entries are evicted once they are
// older than the life window, or when the size cap is hit.
type BigCache struct {
	c *bigcache.BigCache
}

// NewBigCache creates a store. A zero lifeWindow means 30 days; a positive
// maxBytes caps the memory used.
func NewBigCache(lifeWindow time.Duration, maxBytes int64) (*BigCache, error) {
	if lifeWindow <= 0 {
		lifeWindow = defaultLifeWindow
	}
	conf := bigcache.DefaultConfig(lifeWindow)
	conf.Verbose = false
	conf.Shards = 64
	conf.MaxEntriesInWindow = 4096
	conf.MaxEntrySize = 1024
	if maxBytes > 0 {
		conf.HardMaxCacheSize = int((maxBytes + (1 << 20) - 1) >> 20)
	}
	c, err := bigcache.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	return &BigCache{c: c}, nil
}

func (b *BigCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, err := b.c.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (b *BigCache) Put(_ context.Context, key string, value []byte) error {
	return b.c.Set(key, value)
}

func (b *BigCache) Purge(_ context.Context, key string) error {
	err := b.c.Delete(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil
	}
	return err
}

func (b *BigCache) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := b.Get(ctx, key)
	return ok, err
}

func (b *BigCache) AllKeys(_ context.Context, prefix string, cb func(string)) error {
	keys := make([]string, 0)
	it := b.c.Iterator()
	for it.SetNext() {
		entry, err := it.Value()
		if err != nil {
			return err
		}
		if strings.HasPrefix(entry.Key(), prefix) {
			keys = append(keys, entry.Key())
		}
	}
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (b *BigCache) Close() error {
	return b.c.Close()
}
