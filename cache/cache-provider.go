// Package cache holds the byte stores the client cache manager persists its
// entries in.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheProvider is an interface for a cache provider.
// It stores and retrieves []byte values, which represent encoded cache
// entries. Entries never expire on their own: staleness is decided by the
// client from the entry itself, and stale entries are still served.
//
// Get must return exactly the bytes previously passed to Put.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Get returns the stored value for the given key, if it exists.
	// A miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put stores the given value under the given key.
	Put(ctx context.Context, key string, value []byte) error
	// Purge removes the entry for the given key. Purging a missing key is not an error.
	Purge(ctx context.Context, key string) error
	// Has checks if the specified key exists in the cache.
	Has(ctx context.Context, key string) (bool, error)
	// AllKeys calls the given callback for each key with the given prefix.
	// It calls the callback in order to enable very large lists of keys to be
	// processable (provider implementation might use paging, for instance).
	AllKeys(ctx context.Context, prefix string, cb func(string)) error
	// Close releases the provider's resources.
	Close() error
}

// ErrRejected is returned by Put when a bounded store refuses the value.
var ErrRejected = errors.New("cache: value rejected by store")

// Drivers understood by Open.
const (
	DriverMemory    = "memory"
	DriverSQLite    = "sqlite"
	DriverRedis     = "redis"
	DriverRistretto = "ristretto"
	DriverBigCache  = "bigcache"
)

// Config selects and configures a provider.
type Config struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	// Path of the SQLite database. Empty opens a private in-memory database.
	Path string `yaml:"path" env:"PATH"`
	// RedisAddr is the address of the Redis server for the redis driver.
	RedisAddr string `yaml:"redisAddr" env:"REDIS_ADDR"`
	RedisDB   int    `yaml:"redisDb" env:"REDIS_DB"`
	// MaxCost bounds the in-memory drivers, in bytes.
	MaxCost int64 `yaml:"maxCost" env:"MAX_COST"`
	// LifeWindow is the bigcache eviction window.
	LifeWindow time.Duration `yaml:"lifeWindow" env:"LIFE_WINDOW"`
}

// Open returns the provider selected by cfg.Driver. An empty driver selects
// the in-memory map store.
func Open(cfg Config) (CacheProvider, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemCache(), nil
	case DriverSQLite:
		return NewSQLiteCache(cfg.Path)
	case DriverRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("cache: redis driver needs an address")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		return NewRedisCache(client, true)
	case DriverRistretto:
		return NewRistrettoCache(cfg.MaxCost)
	case DriverBigCache:
		return NewBigCache(cfg.LifeWindow, cfg.MaxCost)
	default:
		return nil, fmt.Errorf("cache: unknown driver %q", cfg.Driver)
	}
}
