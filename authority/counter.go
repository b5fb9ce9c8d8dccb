package authority

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// Counter is the process-wide server version. It starts at 1 and is bumped
// on every write to any resource. It is reported to clients but never used
// for cache decisions.
type Counter interface {
	// Current returns the current version.
	Current(ctx context.Context) (int64, error)
	// Bump atomically increments and returns the new version.
	Bump(ctx context.Context) (int64, error)
}

// LocalCounter keeps the version in-process.
type LocalCounter struct {
	n atomic.Int64
}

func NewLocalCounter() *LocalCounter {
	c := &LocalCounter{}
	c.n.Store(1)
	return c
}

func (c *LocalCounter) Current(context.Context) (int64, error) {
	return c.n.Load(), nil
}

func (c *LocalCounter) Bump(context.Context) (int64, error) {
	return c.n.Add(1), nil
}

// RedisCounter shares the version between authority replicas and keeps it
// across restarts.
type RedisCounter struct {
	rdb redis.UniversalClient
	key string
}

func NewRedisCounter(client redis.UniversalClient, namespace string) *RedisCounter {
	return &RedisCounter{rdb: client, key: "version:" + namespace}
}

// Current returns the stored version; a missing key is version 1.
func (c *RedisCounter) Current(ctx context.Context) (int64, error) {
	res, err := c.rdb.Get(ctx, c.key).Result()
	if err == redis.Nil {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis version parse: %w", err)
	}
	return n, nil
}

// Bump seeds a missing key with 1 before incrementing, so the first write
// yields 2 like the local counter.
func (c *RedisCounter) Bump(ctx context.Context) (int64, error) {
	var incr *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SetNX(ctx, c.key, 1, 0)
		incr = p.Incr(ctx, c.key)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
