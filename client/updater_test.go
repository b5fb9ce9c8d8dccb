package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUpdateAll(t *testing.T) {
	origin := newTestOrigin(t, false)
	clock := newTestClock()
	m := newTestManager(t, clock)
	ctx := context.Background()

	for _, req := range []Request{
		origin.request("products"),
		origin.request("user"),
		{URL: origin.URL + "/api/products", Attrs: map[string]string{"Accept-Language": "ko"}},
	} {
		_, err := m.Fetch(ctx, req, testOptions(), nil)
		require.NoError(t, err)
	}

	n, err := m.UpdateAll(ctx, testOptions())
	require.NoError(t, err)
	require.Zero(t, n)
	require.EqualValues(t, 3, origin.attempts.Load())

	clock.Advance(time.Minute)
	n, err = m.UpdateAll(ctx, testOptions())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.EqualValues(t, 6, origin.attempts.Load())

	entry, ok, err := m.Lookup(ctx, origin.request("user"))
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, clock.Now().Equal(entry.CachedAt))
}

func TestUpdateAllPurgesMalformedKeys(t *testing.T) {
	origin := newTestOrigin(t, false)
	m := newTestManager(t, newTestClock())
	ctx := context.Background()
	require.NoError(t, m.cache.Put(ctx, m.keyer.Prefix+"no-separator", []byte("{}")))

	n, err := m.UpdateAll(ctx, testOptions())
	require.NoError(t, err)
	require.Zero(t, n)
	ok, err := m.cache.Has(ctx, m.keyer.Prefix+"no-separator")
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, origin.attempts.Load())
}

func TestRunUpdaterStops(t *testing.T) {
	m := newTestManager(t, newTestClock())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunUpdater(ctx, time.Millisecond, testOptions())
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("updater did not stop")
	}
}

func TestUpdateKeepsEntryStaleTime(t *testing.T) {
	origin := newTestOrigin(t, false)
	clock := newTestClock()
	m := newTestManager(t, clock)
	ctx := context.Background()
	req := Request{URL: origin.URL + "/api/products", Attrs: map[string]string{"accept-language": "ko"}}
	opts := testOptions()
	opts.StaleTime = 10 * time.Second

	_, err := m.Fetch(ctx, req, opts, nil)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	n, err := m.UpdateAll(ctx, testOptions())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	entry, ok, err := m.Lookup(ctx, req)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 10*time.Second, entry.StaleTime)
	require.True(t, clock.Now().Equal(entry.CachedAt))

	// the rebuilt request carried the attribute
	require.Contains(t, string(entry.Data), `"title":"상품 목록"`)
}
