// Package client is the client side of conditional fetching: a cache of
// responses keyed by URL and varying request attributes, served fresh,
// served stale while revalidating, or revalidated against the authority
// with bounded retries. Concurrent fetches of one key share a single
// network call.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/condfetch/cache"
	"github.com/always-cache/condfetch/codec"
	"github.com/always-cache/condfetch/metrics"
	cachekey "github.com/always-cache/condfetch/pkg/cache-key"
	"github.com/always-cache/condfetch/retry"
	"github.com/always-cache/condfetch/rfc9111"
)

const DefaultStaleTime = 3 * time.Second

// Request identifies a resource: its URL plus the request header fields the
// response varies on (e.g. Accept-Language). Attrs are sent with the request.
type Request struct {
	URL   string
	Attrs map[string]string
}

// Options controls one fetch.
type Options struct {
	// StaleTime is how long a new entry is served without the network.
	// Zero makes every stored entry stale.
	StaleTime time.Duration
	// ServerFreshness takes the window from the response max-age instead,
	// falling back to StaleTime.
	ServerFreshness bool
	// StaleWhileRevalidate shows a stale entry and revalidates it. Without
	// it a stale entry is returned as is.
	StaleWhileRevalidate bool
	// Disabled fetches return an idle state straight away.
	Disabled bool
	Retry    retry.Policy
}

// DefaultOptions are a 3s window, stale-while-revalidate and three retries
// with exponential backoff.
func DefaultOptions() Options {
	return Options{
		StaleTime:            DefaultStaleTime,
		StaleWhileRevalidate: true,
		Retry:                retry.Default(),
	}
}

type Config struct {
	// Storage for cache entries. Required.
	Cache cache.CacheProvider
	// Serialisation of entries. JSON is used if nil.
	Codec codec.Codec[Entry]
	// Key namespace. Defaults to "httpcache".
	Namespace string
	// HTTP client for network attempts. http.DefaultClient is used if nil.
	HTTPClient *http.Client
	// Optional collectors.
	Metrics *metrics.Client
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Clock for freshness decisions and entry timestamps.
	Clock func() time.Time
}

type Manager struct {
	cache    cache.CacheProvider
	codec    codec.Codec[Entry]
	keyer    cachekey.CacheKeyer
	http     *http.Client
	metrics  *metrics.Client
	log      zerolog.Logger
	now      func() time.Time
	locks    *keyLock
	inflight *InFlight

	gensMu sync.Mutex
	epoch  uint64
	gens   map[string]uint64
}

// generation changes whenever the entry for a key is removed, so results
// of calls started before the removal are not written.
type generation struct {
	epoch, key uint64
}

func New(cfg Config) (*Manager, error) {
	if cfg.Cache == nil {
		return nil, errors.New("client: cache is required")
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	m := &Manager{
		cache:    cfg.Cache,
		codec:    cfg.Codec,
		keyer:    cachekey.NewCacheKeyer(cfg.Namespace),
		http:     cfg.HTTPClient,
		metrics:  cfg.Metrics,
		now:      cfg.Clock,
		locks:    newKeyLock(),
		inflight: NewInFlight(),
		gens:     make(map[string]uint64),
	}
	m.log = logger.With().Str("component", "client").Str("namespace", m.keyer.Namespace).Logger()
	if m.codec == nil {
		m.codec = codec.JSON[Entry]{}
	}
	if m.http == nil {
		m.http = http.DefaultClient
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.inflight.onChange = m.metrics.InFlight
	return m, nil
}

// Key returns the cache key of req.
func (m *Manager) Key(req Request) string {
	return m.keyer.Key(req.URL, req.Attrs)
}

// InFlight returns the manager's registry of pending calls.
func (m *Manager) InFlight() *InFlight {
	return m.inflight
}

// Fetch resolves req, in this order: a fresh entry is returned without
// network; a stale entry is shown through observe and, unless
// stale-while-revalidate is off, revalidated; a pending call for the key is
// joined; otherwise a conditional request is sent with retries.
//
// The returned error is ErrCancelled, ErrProtocolViolation or
// ErrRetriesExhausted. On failure the stored entry is left untouched.
func (m *Manager) Fetch(ctx context.Context, req Request, opts Options, observe Observer) (State, error) {
	key := m.Key(req)
	state := State{Key: key, From: FromIdle}
	if opts.Disabled {
		return state, nil
	}
	if err := ctx.Err(); err != nil {
		return state, cancelled(err)
	}
	logger := m.log.With().Str("key", key).Logger()
	emit := func(s State) {
		if observe != nil && ctx.Err() == nil {
			observe(s)
		}
	}

	unlock := m.locks.Lock(key)
	entry, cached, err := m.load(ctx, key)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not read stored entry")
	}
	now := m.now()

	if cached && entry.IsFresh(now) {
		unlock()
		logger.Trace().Msg("Fresh hit")
		state.Data, state.From, state.ttl = entry.Data, FromFresh, entry.TTL(now)
		m.metrics.Fetch(state.From)
		return state, nil
	}
	if cached {
		state.Data, state.From, state.stale, state.ttl = entry.Data, FromStale, true, entry.TTL(now)
		if !opts.StaleWhileRevalidate {
			unlock()
			logger.Trace().Msg("Stale, not revalidating")
			state.From = FromStaleNoRevalidate
			m.metrics.Fetch(state.From)
			return state, nil
		}
	}

	state.Pending = true
	shown := state
	progress := func(from string) {
		s := shown
		s.From = from
		emit(s)
	}

	call := m.inflight.Lookup(key)
	joined := call != nil && call.join(ctx, progress)
	var gen generation
	var prev rfc9111.Validators
	if !joined {
		if call != nil {
			// abandoned by all of its callers, already leaving the registry
			m.inflight.remove(call)
		}
		call = m.inflight.Register(key)
		call.join(ctx, progress)
		gen = m.generation(key)
		if cached {
			prev = entry.Validators()
		}
	}
	unlock()

	if cached {
		emit(state)
	}
	if joined {
		logger.Trace().Msg("Joining pending call")
		state.From = FromDedupe
		emit(state)
	} else {
		go m.run(call, req, opts, prev, gen, cached)
	}

	result, err := call.Wait(ctx)
	state.Pending = false
	switch {
	case errors.Is(err, ErrCancelled):
		logger.Trace().Msg("Cancelled")
		state.Err = err
		return state, err
	case err != nil:
		state.From, state.IsError, state.Err = FromError, true, err
		state.fwdStatus = result.fwdStatus
	default:
		state.Data = result.Data
		state.fwdStatus, state.stored = result.fwdStatus, result.stored
		if !joined {
			state.From = result.From
		}
	}
	m.metrics.Fetch(state.From)
	return state, err
}

// run performs the network call of c and publishes its outcome.
func (m *Manager) run(c *Call, req Request, opts Options, prev rfc9111.Validators, gen generation, stale bool) {
	res, fallback, err := m.attempts(c.ctx, c.Key, req, opts.Retry, prev, c.notify)

	result := State{Key: c.Key, stale: stale, fwdStatus: res.status}
	var entry Entry
	if err == nil {
		m.checkVary(c.Key, req, res.header)
		now := m.now()
		if res.status == http.StatusNotModified {
			validators := rfc9111.Freshen(fallback.Validators(), res.header)
			entry = newEntry(fallback.Data, now, freshness(opts, res.header), validators, res.header)
			result.From = FromNetwork304
		} else {
			entry = newEntry(res.body, now, freshness(opts, res.header), rfc9111.ValidatorsFromHeader(res.header), res.header)
			result.From = FromNetwork200
		}
		result.Data = entry.Data
		result.ttl = entry.StaleTime
	}

	unlock := m.locks.Lock(c.Key)
	defer unlock()
	if err == nil {
		switch {
		case c.ctx.Err() != nil:
			err = cancelled(c.ctx.Err())
		case m.generation(c.Key) != gen:
			m.log.Debug().Str("key", c.Key).Msg("Entry removed during call, not storing")
		default:
			if saveErr := m.save(context.WithoutCancel(c.ctx), c.Key, entry); saveErr != nil {
				m.log.Error().Err(saveErr).Str("key", c.Key).Msg("Could not store entry")
			} else {
				result.stored = true
			}
		}
	}
	m.inflight.Complete(c, result, err)
}

// checkVary compares key with the key the response's Vary field derives
// from the request attributes. A difference means the key carries
// attributes the response does not vary on.
func (m *Manager) checkVary(key string, req Request, header http.Header) {
	attrs := cachekey.GetVaryHeaders(cachekey.NormalizeAttrs(req.Attrs))
	varyKey := m.keyer.AddVaryKeys(m.keyer.GetKeyPrefix(req.URL), attrs, header)
	if varyKey != key {
		m.log.Debug().Str("key", key).Str("varyKey", varyKey).Strs("vary", header.Values("Vary")).Msg("Response does not vary on every request attribute")
	}
}

// Lookup returns the stored entry for req.
func (m *Manager) Lookup(ctx context.Context, req Request) (Entry, bool, error) {
	return m.load(ctx, m.Key(req))
}

// Invalidate removes the stored entry for req. A call in flight for it
// will not store its result.
func (m *Manager) Invalidate(ctx context.Context, req Request) error {
	key := m.Key(req)
	unlock := m.locks.Lock(key)
	defer unlock()
	m.gensMu.Lock()
	m.gens[key]++
	m.gensMu.Unlock()
	return m.cache.Purge(ctx, key)
}

// Clear removes every entry in the manager's namespace. Calls in flight
// will not store their results.
func (m *Manager) Clear(ctx context.Context) error {
	m.gensMu.Lock()
	m.epoch++
	m.gens = make(map[string]uint64)
	m.gensMu.Unlock()

	keys := make([]string, 0)
	if err := m.cache.AllKeys(ctx, m.keyer.Prefix, func(key string) {
		keys = append(keys, key)
	}); err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	var errs []error
	for _, key := range keys {
		unlock := m.locks.Lock(key)
		if err := m.cache.Purge(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("purge %s: %w", key, err))
		}
		unlock()
	}
	m.log.Debug().Int("entries", len(keys)).Msg("Cleared cache")
	return errors.Join(errs...)
}

func (m *Manager) generation(key string) generation {
	m.gensMu.Lock()
	defer m.gensMu.Unlock()
	return generation{epoch: m.epoch, key: m.gens[key]}
}

// load reads and decodes an entry. Undecodable entries are dropped.
func (m *Manager) load(ctx context.Context, key string) (Entry, bool, error) {
	b, ok, err := m.cache.Get(ctx, key)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	entry, err := m.codec.Decode(b)
	if err != nil {
		m.log.Warn().Err(err).Str("key", key).Msg("Dropping undecodable entry")
		if err := m.cache.Purge(ctx, key); err != nil {
			return Entry{}, false, err
		}
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (m *Manager) save(ctx context.Context, key string, entry Entry) error {
	b, err := m.codec.Encode(entry)
	if err != nil {
		return err
	}
	return m.cache.Put(ctx, key, b)
}
