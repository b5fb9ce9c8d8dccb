package cache

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func providers(t *testing.T) map[string]CacheProvider {
	t.Helper()
	sqlite, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	memSQLite, err := NewSQLiteCache("")
	require.NoError(t, err)
	rist, err := NewRistrettoCache(1 << 20)
	require.NoError(t, err)
	big, err := NewBigCache(0, 0)
	require.NoError(t, err)
	all := map[string]CacheProvider{
		"memory":        NewMemCache(),
		"sqlite":        sqlite,
		"sqlite-memory": memSQLite,
		"ristretto":     rist,
		"bigcache":      big,
	}
	if addr := os.Getenv("CONDFETCH_TEST_REDIS"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		require.NoError(t, rdb.FlushDB(context.Background()).Err())
		r, err := NewRedisCache(rdb, true)
		require.NoError(t, err)
		all["redis"] = r
	}
	t.Cleanup(func() {
		for _, p := range all {
			p.Close()
		}
	})
	return all
}

func TestProviders(t *testing.T) {
	ctx := context.Background()
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := p.Get(ctx, "httpcache:missing::")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, p.Put(ctx, "httpcache:http://x/a?q=1%::", []byte("one")))
			require.NoError(t, p.Put(ctx, "httpcache:http://x/b::lang=ko", []byte("two")))
			require.NoError(t, p.Put(ctx, "other:http://x/c::", []byte("three")))

			b, ok, err := p.Get(ctx, "httpcache:http://x/a?q=1%::")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, []byte("one"), b)

			has, err := p.Has(ctx, "httpcache:http://x/b::lang=ko")
			require.NoError(t, err)
			require.True(t, has)

			keys := make([]string, 0)
			require.NoError(t, p.AllKeys(ctx, "httpcache:", func(k string) { keys = append(keys, k) }))
			sort.Strings(keys)
			require.Equal(t, []string{"httpcache:http://x/a?q=1%::", "httpcache:http://x/b::lang=ko"}, keys)

			require.NoError(t, p.Put(ctx, "httpcache:http://x/b::lang=ko", []byte("two-again")))
			b, _, _ = p.Get(ctx, "httpcache:http://x/b::lang=ko")
			require.Equal(t, []byte("two-again"), b)

			require.NoError(t, p.Purge(ctx, "httpcache:http://x/b::lang=ko"))
			require.NoError(t, p.Purge(ctx, "httpcache:never-stored::"))
			has, err = p.Has(ctx, "httpcache:http://x/b::lang=ko")
			require.NoError(t, err)
			require.False(t, has)
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := NewSQLiteCache(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	require.NoError(t, s.Close())

	s, err = NewSQLiteCache(path)
	require.NoError(t, err)
	defer s.Close()
	b, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), b)
}

func TestOpen(t *testing.T) {
	p, err := Open(Config{})
	require.NoError(t, err)
	require.IsType(t, MemCache{}, p)

	_, err = Open(Config{Driver: "tape"})
	require.Error(t, err)
	_, err = Open(Config{Driver: DriverRedis})
	require.Error(t, err)
}

func TestEscapeGlob(t *testing.T) {
	require.Equal(t, `httpcache:http://\[::1\]/a\?b\*`, escapeGlob("httpcache:http://[::1]/a?b*"))
}
