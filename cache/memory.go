package cache

import (
	"context"
	"strings"
	"sync"
)

// MemCache keeps entries in a map. It is lost on restart.
type MemCache struct {
	mutex *sync.RWMutex
	db    map[string][]byte
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string][]byte),
	}
}

func (m MemCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	b, ok := m.db[key]
	return b, ok, nil
}

func (m MemCache) Put(_ context.Context, key string, value []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[key] = append([]byte(nil), value...)
	return nil
}

func (m MemCache) Purge(_ context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, key)
	return nil
}

func (m MemCache) Has(_ context.Context, key string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.db[key]
	return ok, nil
}

func (m MemCache) AllKeys(_ context.Context, prefix string, cb func(string)) error {
	m.mutex.RLock()
	keys := make([]string, 0, len(m.db))
	for key := range m.db {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	m.mutex.RUnlock()
	// the callback may write to the cache
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (m MemCache) Close() error { return nil }
