// Package authority owns the canonical resources, their validators and the
// decision whether a conditional read can be answered "not modified".
package authority

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/always-cache/condfetch/rfc9111"
)

var (
	ErrUnknownResource = errors.New("unknown resource")
	ErrReadOnly        = errors.New("resource is read-only")
	ErrInvalidPatch    = errors.New("patch must be a JSON object")
)

// VersionHeader carries the server version on every read.
const VersionHeader = "X-Server-Version"

type Config struct {
	// Storage for resource content. Required.
	Store Store
	// Server version counter. A local counter is used if nil.
	Counter Counter
	// Served resources. DefaultResources are used if empty.
	Resources []Resource
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Clock used for last-modified timestamps and the "now" member.
	Clock func() time.Time
	// Reload re-reads the store on every read, so edits made to it directly
	// are served. Content is otherwise read once.
	Reload bool
}

type Authority struct {
	store     Store
	counter   Counter
	resources map[string]Resource
	log       zerolog.Logger
	now       func() time.Time
	reload    bool

	mu      sync.Mutex
	records map[string]*record
	loads   singleflight.Group
}

// record is the state of one resource. Content and lastModified are only
// changed together under the write lock.
type record struct {
	mu           sync.RWMutex
	loaded       bool
	content      json.RawMessage
	lastModified time.Time
}

func New(cfg Config) (*Authority, error) {
	if cfg.Store == nil {
		return nil, errors.New("authority: store is required")
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	a := &Authority{
		store:     cfg.Store,
		counter:   cfg.Counter,
		resources: make(map[string]Resource),
		log:       logger.With().Str("component", "authority").Logger(),
		now:       cfg.Clock,
		reload:    cfg.Reload,
		records:   make(map[string]*record),
	}
	if a.counter == nil {
		a.counter = NewLocalCounter()
	}
	if a.now == nil {
		a.now = time.Now
	}
	resources := cfg.Resources
	if len(resources) == 0 {
		resources = DefaultResources()
	}
	for _, r := range resources {
		if r.Name == "" {
			return nil, errors.New("authority: resource without a name")
		}
		if _, dup := a.resources[r.Name]; dup {
			return nil, fmt.Errorf("authority: resource %q defined twice", r.Name)
		}
		a.resources[r.Name] = r
	}
	return a, nil
}

// Resource returns the definition of the named resource.
func (a *Authority) Resource(name string) (Resource, bool) {
	r, ok := a.resources[name]
	return r, ok
}

type ReadRequest struct {
	Resource      string
	Preconditions rfc9111.Preconditions
	// Header holds the request fields the representation may vary on.
	Header http.Header
}

type Response struct {
	// Status is 200 or 304.
	Status int
	// Body is the JSON representation; nil for 304.
	Body         []byte
	Validators   rfc9111.Validators
	CacheControl string
	Vary         []string
	Version      int64
}

// WriteHeaders sets the validator and caching fields of the response.
func (r Response) WriteHeaders(h http.Header) {
	rfc9111.SetValidatorHeaders(h, r.Validators)
	h.Set("Cache-Control", r.CacheControl)
	for _, name := range r.Vary {
		h.Add("Vary", name)
	}
	h.Set(VersionHeader, strconv.FormatInt(r.Version, 10))
	if r.Body != nil {
		h.Set("Content-Type", "application/json")
	}
}

// Read answers a possibly conditional read. The only side effects are
// loading the resource and its lazy last-modified timestamp.
func (a *Authority) Read(ctx context.Context, req ReadRequest) (Response, error) {
	res, ok := a.resources[req.Resource]
	if !ok {
		return Response{}, fmt.Errorf("%w: %s", ErrUnknownResource, req.Resource)
	}
	logger := a.log.With().Str("resource", res.Name).Logger()

	rec, err := a.record(ctx, res)
	if err != nil {
		return Response{}, err
	}
	rec.mu.RLock()
	content, lastModified := rec.content, rec.lastModified
	rec.mu.RUnlock()

	rep := res.representation(content, req.Header.Get("Accept-Language"))
	etag, err := fingerprint(rep)
	if err != nil {
		return Response{}, err
	}
	version, err := a.counter.Current(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("read server version: %w", err)
	}
	response := Response{
		Status:       http.StatusOK,
		Validators:   rfc9111.Validators{ETag: etag, LastModified: lastModified},
		CacheControl: res.Policy.String(),
		Vary:         res.Vary,
		Version:      version,
	}

	if req.Preconditions.NotModified(response.Validators) {
		logger.Debug().Str("etag", etag).Msg("Not modified")
		response.Status = http.StatusNotModified
		return response, nil
	}

	rep["serverVersion"] = version
	rep["now"] = a.now().UnixMilli()
	if response.Body, err = json.Marshal(rep); err != nil {
		return Response{}, err
	}
	logger.Debug().Str("etag", etag).Msg("Sending representation")
	return response, nil
}

type UpdateResult struct {
	Resource     Resource
	Content      json.RawMessage
	LastModified time.Time
	Version      int64
	Now          time.Time
}

// Update shallow-merges patch into the resource content. The new
// last-modified timestamp is at least one second past the previous one.
func (a *Authority) Update(ctx context.Context, name string, patch json.RawMessage) (UpdateResult, error) {
	res, ok := a.resources[name]
	if !ok {
		return UpdateResult{}, fmt.Errorf("%w: %s", ErrUnknownResource, name)
	}
	if !res.Writable {
		return UpdateResult{}, fmt.Errorf("%w: %s", ErrReadOnly, name)
	}
	fields, err := object(patch)
	if err != nil {
		return UpdateResult{}, err
	}
	rec, err := a.record(ctx, res)
	if err != nil {
		return UpdateResult{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	merged, err := object(rec.content)
	if err != nil {
		a.log.Warn().Str("resource", name).Msg("Stored content is not an object, replacing it")
		merged = make(map[string]json.RawMessage)
	}
	for k, v := range fields {
		merged[k] = v
	}
	content, err := json.Marshal(merged)
	if err != nil {
		return UpdateResult{}, err
	}
	version, err := a.counter.Bump(ctx)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("bump server version: %w", err)
	}
	if err := a.store.Put(ctx, name, content); err != nil {
		return UpdateResult{}, fmt.Errorf("store %s: %w", name, err)
	}

	now := a.now()
	lastModified := rec.next(now)
	rec.content = content
	rec.lastModified = lastModified

	a.log.Info().Str("resource", name).Int64("version", version).Time("lastModified", lastModified).Msg("Updated")
	return UpdateResult{
		Resource:     res,
		Content:      content,
		LastModified: lastModified,
		Version:      version,
		Now:          now,
	}, nil
}

// record returns the loaded record of a resource. Concurrent loads of one
// resource share a single store read. With reload on, every call reads
// the store and a change of content is a new version.
func (a *Authority) record(ctx context.Context, res Resource) (*record, error) {
	a.mu.Lock()
	rec, ok := a.records[res.Name]
	if !ok {
		rec = &record{}
		a.records[res.Name] = rec
	}
	a.mu.Unlock()

	rec.mu.RLock()
	loaded := rec.loaded
	rec.mu.RUnlock()
	if loaded && !a.reload {
		return rec, nil
	}

	_, err, _ := a.loads.Do(res.Name, func() (interface{}, error) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		if rec.loaded && !a.reload {
			return nil, nil
		}
		content, ok, err := a.store.Get(ctx, res.Name)
		if err != nil {
			return nil, err
		}
		if !ok {
			content = json.RawMessage("null")
		}
		content = compact(content)
		if !rec.loaded {
			rec.content = content
			rec.lastModified = rfc9111.Coarsen(a.now())
			rec.loaded = true
			a.log.Trace().Str("resource", res.Name).Time("lastModified", rec.lastModified).Msg("Loaded")
			return nil, nil
		}
		if bytes.Equal(content, rec.content) {
			return nil, nil
		}
		version, err := a.counter.Bump(ctx)
		if err != nil {
			return nil, fmt.Errorf("bump server version: %w", err)
		}
		rec.content = content
		rec.lastModified = rec.next(a.now())
		a.log.Info().Str("resource", res.Name).Int64("version", version).Time("lastModified", rec.lastModified).Msg("Reloaded changed content")
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", res.Name, err)
	}
	return rec, nil
}

// next is the last-modified timestamp of a change made at now: at least
// one second past the current one. Callers hold the write lock.
func (r *record) next(now time.Time) time.Time {
	lastModified := rfc9111.Coarsen(now)
	if !lastModified.After(r.lastModified) {
		lastModified = r.lastModified.Add(time.Second)
	}
	return lastModified
}

func compact(b json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return b
	}
	return buf.Bytes()
}

func object(b json.RawMessage) (map[string]json.RawMessage, error) {
	if !bytes.HasPrefix(bytes.TrimSpace(b), []byte("{")) {
		return nil, ErrInvalidPatch
	}
	m := make(map[string]json.RawMessage)
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	return m, nil
}

// fingerprint is a strong entity tag over the representation.
func fingerprint(rep map[string]any) (string, error) {
	b, err := json.Marshal(rep)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(b)
	return `"` + hex.EncodeToString(sum[:]) + `"`, nil
}
