package rfc9111

import (
	"strings"
	"time"
)

// CacheControl implements parsing of the "Cache-Control" header (/field).
//
// §  5.2. Cache-Control
// §
// §  The "Cache-Control" header field is used to list directives for caches along
// §  the request/response chain. [...] Cache directives are identified by a token, to
// §  be compared case-insensitively, and have an optional argument that can use both
// §  token and quoted-string syntax.
// §
// §    Cache-Control   = #cache-directive
// §
// §    cache-directive = token [ "=" ( token / quoted-string ) ]
type CacheControl struct {
	directives map[string]string
}

// Get returns the value (/argument) of the specified directive,
// along with a boolean indicating whether this directive is present
func (c CacheControl) Get(directive string) (string, bool) {
	val, ok := c.directives[getCacheControlDirectiveName(directive)]
	return val, ok
}

// HasDirective returns whether the specified directive is present
func (c CacheControl) HasDirective(directive string) bool {
	_, ok := c.Get(directive)
	return ok
}

// Seconds returns the delta-seconds argument of a directive such as max-age.
// The boolean is false if the directive is missing or its argument is invalid.
func (c CacheControl) Seconds(directive string) (time.Duration, bool) {
	val, ok := c.Get(directive)
	if !ok {
		return 0, false
	}
	return deltaSeconds(val)
}

// ParseCacheControl takes Cache-Control headers as a slice of strings
// and returns an instance of `CacheControl`.
func ParseCacheControl(headers []string) CacheControl {
	m := make(map[string]string)
	// last defined directive wins
	for _, header := range headers {
		for _, directive := range strings.Split(header, ",") {
			directive = strings.TrimSpace(directive)
			if directive == "" {
				continue
			}
			name, arg, _ := strings.Cut(directive, "=")
			m[getCacheControlDirectiveName(name)] = getCacheControlDirectiveArgument(arg)
		}
	}
	return CacheControl{m}
}

func getCacheControlDirectiveName(token string) string {
	// §  [...] to be compared case-insensitively [...]
	return strings.ToLower(strings.TrimSpace(token))
}

func getCacheControlDirectiveArgument(arg string) string {
	// §  [...] argument that can use both token and quoted-string syntax. [...]
	return strings.Trim(strings.TrimSpace(arg), "\"")
}

// Policy is the caching policy an origin attaches to a representation.
//
// §  5.2.2.1. max-age
// §  The max-age response directive indicates that the response is to be
// §  considered stale after its age is greater than the specified number of
// §  seconds.
//
// §  5.2.2.2. must-revalidate
// §  The must-revalidate response directive indicates that once the response
// §  has become stale, a cache MUST NOT reuse that response to satisfy another
// §  request until it has been successfully validated by the origin.
//
// StaleWhileRevalidate is the RFC 5861 extension directive.
type Policy struct {
	MaxAge               time.Duration `yaml:"maxAge"`
	Private              bool          `yaml:"private"`
	MustRevalidate       bool          `yaml:"mustRevalidate"`
	StaleWhileRevalidate time.Duration `yaml:"staleWhileRevalidate"`
}

// String renders the policy as a Cache-Control field value.
func (p Policy) String() string {
	parts := make([]string, 0, 4)
	if p.Private {
		parts = append(parts, "private")
	} else {
		parts = append(parts, "public")
	}
	parts = append(parts, "max-age="+toDeltaSeconds(p.MaxAge))
	if p.StaleWhileRevalidate > 0 {
		parts = append(parts, "stale-while-revalidate="+toDeltaSeconds(p.StaleWhileRevalidate))
	}
	if p.MustRevalidate {
		parts = append(parts, "must-revalidate")
	}
	return strings.Join(parts, ", ")
}
