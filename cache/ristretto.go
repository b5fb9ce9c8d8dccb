package cache

import (
	"context"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto"
)

const defaultMaxCost = 64 << 20

// RistrettoCache is a cost-bounded in-memory store. Values are costed by
// their length, and may be evicted once MaxCost is reached. Ristretto cannot
// list its keys, so a side index of written keys is kept; evicted keys are
// dropped from it when a Get misses.
type RistrettoCache struct {
	c *ristretto.Cache

	mu   sync.Mutex
	keys map[string]struct{}
}

func NewRistrettoCache(maxCost int64) (*RistrettoCache, error) {
	if maxCost <= 0 {
		maxCost = defaultMaxCost
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		// ~10x the expected number of 1KB entries
		NumCounters: maxCost / 100,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoCache{c: c, keys: make(map[string]struct{})}, nil
}

func (r *RistrettoCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := r.c.Get(key)
	b, _ := v.([]byte)
	if !ok || b == nil {
		r.forget(key)
		return nil, false, nil
	}
	return b, true, nil
}

func (r *RistrettoCache) Put(_ context.Context, key string, value []byte) error {
	if !r.c.Set(key, append([]byte(nil), value...), int64(len(value))) {
		return ErrRejected
	}
	// sets are buffered; make this one visible to the next Get
	r.c.Wait()
	r.mu.Lock()
	r.keys[key] = struct{}{}
	r.mu.Unlock()
	return nil
}

func (r *RistrettoCache) Purge(_ context.Context, key string) error {
	r.c.Del(key)
	r.c.Wait()
	r.forget(key)
	return nil
}

func (r *RistrettoCache) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := r.Get(ctx, key)
	return ok, err
}

func (r *RistrettoCache) AllKeys(_ context.Context, prefix string, cb func(string)) error {
	r.mu.Lock()
	keys := make([]string, 0, len(r.keys))
	for key := range r.keys {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	r.mu.Unlock()
	for _, key := range keys {
		if _, ok := r.c.Get(key); ok {
			cb(key)
		} else {
			r.forget(key)
		}
	}
	return nil
}

func (r *RistrettoCache) Close() error {
	r.c.Close()
	return nil
}

func (r *RistrettoCache) forget(key string) {
	r.mu.Lock()
	delete(r.keys, key)
	r.mu.Unlock()
}
