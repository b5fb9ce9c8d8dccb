package client

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/always-cache/condfetch/rfc9111"
)

// Entry is a stored response. It is replaced by a 200, and refreshed by a
// 304 which keeps Data. Reads never change it.
type Entry struct {
	Data         json.RawMessage `json:"data" msgpack:"data" cbor:"data"`
	CachedAt     time.Time       `json:"cachedAt" msgpack:"cachedAt" cbor:"cachedAt"`
	StaleTime    time.Duration   `json:"staleTime" msgpack:"staleTime" cbor:"staleTime"`
	ETag         string          `json:"etag,omitempty" msgpack:"etag,omitempty" cbor:"etag,omitempty"`
	LastModified time.Time       `json:"lastModified" msgpack:"lastModified" cbor:"lastModified"`
	CacheControl string          `json:"cacheControl,omitempty" msgpack:"cacheControl,omitempty" cbor:"cacheControl,omitempty"`
}

// IsFresh reports whether the entry may be served without the network.
func (e Entry) IsFresh(now time.Time) bool {
	return now.Sub(e.CachedAt) < e.StaleTime
}

// TTL is the remaining freshness lifetime; negative once stale.
func (e Entry) TTL(now time.Time) time.Duration {
	return e.StaleTime - now.Sub(e.CachedAt)
}

func (e Entry) Validators() rfc9111.Validators {
	return rfc9111.Validators{ETag: e.ETag, LastModified: e.LastModified}
}

func newEntry(data json.RawMessage, now time.Time, staleTime time.Duration, v rfc9111.Validators, header http.Header) Entry {
	return Entry{
		Data:         data,
		CachedAt:     now,
		StaleTime:    staleTime,
		ETag:         v.ETag,
		LastModified: v.LastModified,
		CacheControl: header.Get("Cache-Control"),
	}
}
