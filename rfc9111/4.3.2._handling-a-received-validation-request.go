package rfc9111

import (
	"net/http"
	"strings"
	"time"
)

// §  4.3.2.  Handling a Received Validation Request
// §
// §     A request containing an If-None-Match header field (Section 13.1.2 of
// §     [HTTP]) indicates that the client wants to validate one or more of
// §     its own stored responses in comparison to the stored response chosen
// §     by the cache (as per Section 4).
// §
// §     If an If-None-Match header field is not present, a request containing
// §     an If-Modified-Since header field (Section 13.1.3 of [HTTP])
// §     indicates that the client wants to validate one or more of its own
// §     stored responses by modification date.
//
// The authority evaluates both preconditions independently and answers
// "not modified" when either of them matches. A client that stored both
// validators from one response always sends a consistent pair, and an
// authority that only moves Last-Modified forward on change cannot
// produce a false match from the date alone.

// Preconditions are the conditional request fields of a validation request.
// A zero IfModifiedSince means the field was absent or malformed.
type Preconditions struct {
	IfNoneMatch     string
	IfModifiedSince time.Time
}

// ReadPreconditions extracts the preconditions from a request header.
// A malformed If-Modified-Since is treated as absent.
func ReadPreconditions(h http.Header) Preconditions {
	p := Preconditions{IfNoneMatch: strings.TrimSpace(h.Get("If-None-Match"))}
	if ims := h.Get("If-Modified-Since"); ims != "" {
		if t, err := HttpDate(ims); err == nil {
			p.IfModifiedSince = t
		}
	}
	return p
}

// NotModified reports whether the current validators satisfy the
// preconditions, i.e. whether a 304 (Not Modified) may be sent.
func (p Preconditions) NotModified(current Validators) bool {
	return p.etagMatches(current.ETag) || p.notModifiedSince(current.LastModified)
}

// §  13.1.2.  If-None-Match (RFC 9110)
// §
// §     If-None-Match = "*" / #entity-tag
// §
// §     A recipient MUST use the weak comparison function when comparing
// §     entity tags for If-None-Match (Section 8.8.3.2), since weak entity
// §     tags can be used for cache validation even if there have been
// §     changes to the representation data.
func (p Preconditions) etagMatches(current string) bool {
	if p.IfNoneMatch == "" || current == "" {
		return false
	}
	if p.IfNoneMatch == "*" {
		return true
	}
	for _, candidate := range strings.Split(p.IfNoneMatch, ",") {
		if weakEqual(strings.TrimSpace(candidate), current) {
			return true
		}
	}
	return false
}

// §  13.1.3.  If-Modified-Since (RFC 9110)
// §
// §     If the selected representation's last modification date is earlier or
// §     equal to the date provided in the field value, the condition is false.
func (p Preconditions) notModifiedSince(lastModified time.Time) bool {
	if p.IfModifiedSince.IsZero() || lastModified.IsZero() {
		return false
	}
	return !Coarsen(lastModified).After(p.IfModifiedSince)
}

func weakEqual(a, b string) bool {
	return strings.TrimPrefix(a, "W/") == strings.TrimPrefix(b, "W/")
}
