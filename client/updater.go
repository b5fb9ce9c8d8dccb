package client

import (
	"context"
	"errors"
	"time"
)

// RunUpdater revalidates stale entries every interval until ctx is done.
// Revalidation goes through Fetch, so it shares in-flight calls with
// regular callers.
func (m *Manager) RunUpdater(ctx context.Context, interval time.Duration, opts Options) {
	m.log.Info().Msgf("Starting cache update loop with interval %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := m.UpdateAll(ctx, opts); err != nil && ctx.Err() == nil {
			m.log.Error().Err(err).Msg("Could not list entries for update")
		}
		select {
		case <-ctx.Done():
			m.log.Info().Msg("Stopped cache update loop")
			return
		case <-ticker.C:
		}
	}
}

// UpdateAll makes one pass over the stored entries and revalidates the
// stale ones. It returns how many were revalidated.
func (m *Manager) UpdateAll(ctx context.Context, opts Options) (int, error) {
	var keys []string
	err := m.cache.AllKeys(ctx, m.keyer.Prefix, func(key string) {
		keys = append(keys, key)
	})
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		if m.updateEntry(ctx, key, opts) {
			updated++
		}
	}
	return updated, nil
}

// updateEntry revalidates the entry stored under key if it is stale.
// Entries whose key cannot be turned back into a request, or that the
// authority answers inconsistently, are purged.
func (m *Manager) updateEntry(ctx context.Context, key string, opts Options) bool {
	logger := m.log.With().Str("key", key).Logger()
	httpReq, err := m.keyer.GetRequestFromKey(key)
	if err != nil {
		logger.Warn().Err(err).Msg("Purging entry with malformed key")
		m.purge(ctx, key)
		return false
	}
	req := Request{URL: httpReq.URL.String(), Attrs: make(map[string]string, len(httpReq.Header))}
	for name := range httpReq.Header {
		req.Attrs[name] = httpReq.Header.Get(name)
	}
	if m.Key(req) != key {
		logger.Warn().Str("url", req.URL).Msg("Skipping entry whose key does not round-trip")
		return false
	}
	entry, ok, err := m.load(ctx, key)
	if err != nil || !ok || entry.IsFresh(m.now()) {
		return false
	}

	logger.Trace().Msg("Updating stale entry")
	opts.Disabled = false
	opts.StaleWhileRevalidate = true
	opts.StaleTime = entry.StaleTime
	state, err := m.Fetch(ctx, req, opts, nil)
	switch {
	case errors.Is(err, ErrProtocolViolation):
		logger.Warn().Err(err).Msg("Purging entry")
		m.purge(ctx, key)
		return false
	case err != nil:
		if !errors.Is(err, ErrCancelled) {
			logger.Error().Err(err).Msg("Could not update cache entry")
		}
		return false
	}
	return state.stored
}

func (m *Manager) purge(ctx context.Context, key string) {
	unlock := m.locks.Lock(key)
	defer unlock()
	if err := m.cache.Purge(ctx, key); err != nil {
		m.log.Error().Err(err).Str("key", key).Msg("Could not purge entry")
	}
}
