package cache

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

var ErrNilClient = errors.New("cache: nil redis client")

// RedisCache shares entries between processes through Redis.
type RedisCache struct {
	rdb         redis.UniversalClient
	closeClient bool
}

// NewRedisCache wraps client. Set closeClient only if the cache exclusively
// owns the client.
func NewRedisCache(client redis.UniversalClient, closeClient bool) (*RedisCache, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &RedisCache{rdb: client, closeClient: closeClient}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisCache) Put(ctx context.Context, key string, value []byte) error {
	return r.rdb.Set(ctx, key, value, 0).Err()
}

func (r *RedisCache) Purge(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

func (r *RedisCache) Has(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// AllKeys pages through matching keys with SCAN.
func (r *RedisCache) AllKeys(ctx context.Context, prefix string, cb func(string)) error {
	iter := r.rdb.Scan(ctx, 0, escapeGlob(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		cb(iter.Val())
	}
	return iter.Err()
}

func (r *RedisCache) Close() error {
	if r.closeClient {
		if err := r.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			return err
		}
	}
	return nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
