// Package rfc9211 renders the Cache-Status response field (RFC 9211), used
// to report how a fetch was satisfied.
package rfc9211

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// §  2.  The Cache-Status HTTP Response Header Field
// §
// §     Cache-Status   = sf-list
// §
// §     Each member of the list represents a cache that has handled the
// §     request.  The first member of the list represents the cache closest
// §     to the origin server, and the last member of the list represents the
// §     cache closest to the user.
const FieldName = "Cache-Status"

type FwdReason string

// §  2.2.  The fwd Parameter
// §
// §     "fwd" indicates that the request went forward towards the origin,
// §     and why.
const (
	// The cache was configured to not handle this request.
	FwdBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdUriMiss FwdReason = "uri-miss"

	// The cache contained a response that matched the request
	// URI, but it could not select a response based upon this request's
	// header fields and stored Vary header fields.
	FwdVaryMiss FwdReason = "vary-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdMiss FwdReason = "miss"

	// The cache was able to select a fresh response for the
	// request, but the request's semantics did not allow its use.
	FwdRequest FwdReason = "request"

	// The cache was able to select a response for the request, but
	// it was stale.
	FwdStale FwdReason = "stale"
)

// CacheStatus is one member of a Cache-Status field.
// The zero value with a Cache name renders as a bare member.
type CacheStatus struct {
	Cache string

	hit       bool
	fwdReason FwdReason
	fwdStatus int
	stored    bool
	collapsed bool
	ttl       *time.Duration
	detail    string
}

// New returns an empty status for the named cache.
func New(cache string) *CacheStatus {
	return &CacheStatus{Cache: cache}
}

// §  2.1.  The hit Parameter
// §
// §     "hit", when true, indicates that the request was satisfied by the
// §     cache; that is, it was not forwarded, and the response was obtained
// §     from the cache.
func (cs *CacheStatus) Hit() *CacheStatus {
	cs.hit = true
	cs.fwdReason = ""
	return cs
}

func (cs *CacheStatus) Forward(reason FwdReason) *CacheStatus {
	cs.hit = false
	cs.fwdReason = reason
	return cs
}

// §  2.3.  The fwd-status Parameter
// §
// §     "fwd-status" indicates what status code the next hop server returned
// §     in response to the forwarded request.
func (cs *CacheStatus) FwdStatus(code int) *CacheStatus {
	cs.fwdStatus = code
	return cs
}

// §  2.5.  The stored Parameter
// §
// §     "stored" indicates whether the cache stored the response.
func (cs *CacheStatus) Stored() *CacheStatus {
	cs.stored = true
	return cs
}

// §  2.6.  The collapsed Parameter
// §
// §     "collapsed" indicates whether this request was collapsed together
// §     with one or more other forward requests.
func (cs *CacheStatus) Collapsed() *CacheStatus {
	cs.collapsed = true
	return cs
}

// §  2.4.  The ttl Parameter
// §
// §     "ttl" indicates the response's remaining freshness lifetime as
// §     calculated by the cache, as an integer number of seconds.
// §     This value can be negative, in which case the response is stale.
func (cs *CacheStatus) TTL(d time.Duration) *CacheStatus {
	cs.ttl = &d
	return cs
}

// §  2.8.  The detail Parameter
func (cs *CacheStatus) Detail(detail string) *CacheStatus {
	cs.detail = detail
	return cs
}

func (cs *CacheStatus) String() string {
	var b strings.Builder
	b.WriteString(cs.Cache)
	if cs.hit {
		b.WriteString("; hit")
	} else if cs.fwdReason != "" {
		fmt.Fprintf(&b, "; fwd=%s", cs.fwdReason)
	}
	if cs.fwdStatus != 0 {
		fmt.Fprintf(&b, "; fwd-status=%d", cs.fwdStatus)
	}
	if cs.stored {
		b.WriteString("; stored")
	}
	if cs.collapsed {
		b.WriteString("; collapsed")
	}
	if cs.ttl != nil {
		fmt.Fprintf(&b, "; ttl=%d", int64(cs.ttl.Truncate(time.Second)/time.Second))
	}
	if cs.detail != "" {
		fmt.Fprintf(&b, "; detail=%q", cs.detail)
	}
	return b.String()
}

// Append adds this member to the Cache-Status field of h.
// §     Caches determine when it is appropriate to add the Cache-Status
// §     header field to a response.  Some might add it to all responses,
// §     whereas others might only do so when specifically configured to, or
// §     when the request contains a header field that activates a debugging
// §     mode.
func (cs *CacheStatus) Append(h http.Header) {
	if prev := h.Get(FieldName); prev != "" {
		h.Set(FieldName, prev+", "+cs.String())
		return
	}
	h.Set(FieldName, cs.String())
}
