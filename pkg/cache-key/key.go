package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/always-cache/condfetch/rfc9111"
)

const (
	namespaceSeparator = ":"
	varySeparator      = "::"
	attrSeparator      = "&"
)

// DefaultNamespace is the key namespace used by the client cache.
const DefaultNamespace = "httpcache"

// ErrMalformedKey is returned when a key cannot be turned back into a request.
var ErrMalformedKey = fmt.Errorf("malformed cache key")

type CacheKeyer struct {
	// Namespace of all keys generated by this keyer.
	Namespace string
	// Prefix shared by all keys of the namespace.
	Prefix string
}

func NewCacheKeyer(namespace string) CacheKeyer {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return CacheKeyer{
		Namespace: namespace,
		Prefix:    namespace + namespaceSeparator,
	}
}

// Key returns the cache key for a URL and the request attributes the
// response varies on. Attribute names are request header names and are
// compared case-insensitively; empty values count as absent.
func (c CacheKeyer) Key(target string, attrs map[string]string) string {
	return c.GetKeyPrefix(target) + encodeAttrs(attrs)
}

// GetKeyPrefix returns the key for target without any attributes. All
// variants of one URL share it.
func (c CacheKeyer) GetKeyPrefix(target string) string {
	return c.Prefix + target + varySeparator
}

// AddVaryKeys appends to prefix the request fields nominated by the Vary
// field of a response, keeping only fields present in the request header.
func (c CacheKeyer) AddVaryKeys(prefix string, reqHeader, resHeader http.Header) string {
	attrs := make(map[string]string)
	for _, name := range rfc9111.GetListHeader(resHeader, "Vary") {
		if name == "*" {
			continue
		}
		if !rfc9111.FieldAbsent(reqHeader, name) {
			attrs[name] = reqHeader.Get(name)
		}
	}
	return prefix + encodeAttrs(attrs)
}

// Parse splits a key into its URL and attributes.
func (c CacheKeyer) Parse(key string) (string, map[string]string, error) {
	if !strings.HasPrefix(key, c.Prefix) {
		return "", nil, fmt.Errorf("%w: %q is not in namespace %s", ErrMalformedKey, key, c.Namespace)
	}
	rest := strings.TrimPrefix(key, c.Prefix)
	i := strings.LastIndex(rest, varySeparator)
	if i < 0 {
		return "", nil, fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	attrs, err := decodeAttrs(rest[i+len(varySeparator):])
	if err != nil {
		return "", nil, fmt.Errorf("%w: %q: %v", ErrMalformedKey, key, err)
	}
	return rest[:i], attrs, nil
}

// GetRequestFromKey generates a caching-wise equal GET request to the one
// that produced key, with the varying attributes set as request headers.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	target, attrs, err := c.Parse(key)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header = GetVaryHeaders(attrs)
	return req, nil
}

// GetVaryHeaders creates a http.Header holding the given attributes.
func GetVaryHeaders(attrs map[string]string) http.Header {
	header := make(http.Header, len(attrs))
	for name, value := range attrs {
		header.Set(name, value)
	}
	return header
}

// NormalizeAttrs canonicalises attribute names as header names and drops
// empty values. Of names differing only in case, the one sorting first
// with a non-empty value wins.
func NormalizeAttrs(attrs map[string]string) map[string]string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	normalized := make(map[string]string, len(attrs))
	for _, name := range names {
		value := rfc9111.NormalizeFieldValue(attrs[name])
		canonical := http.CanonicalHeaderKey(strings.TrimSpace(name))
		if value == "" || canonical == "" {
			continue
		}
		if _, taken := normalized[canonical]; !taken {
			normalized[canonical] = value
		}
	}
	return normalized
}

func encodeAttrs(attrs map[string]string) string {
	normalized := NormalizeAttrs(attrs)
	names := make([]string, 0, len(normalized))
	for name := range normalized {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, url.QueryEscape(strings.ToLower(name))+"="+url.QueryEscape(normalized[name]))
	}
	return strings.Join(parts, attrSeparator)
}

func decodeAttrs(s string) (map[string]string, error) {
	attrs := make(map[string]string)
	if s == "" {
		return attrs, nil
	}
	for _, part := range strings.Split(s, attrSeparator) {
		rawName, rawValue, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("attribute %q has no value", part)
		}
		name, err := url.QueryUnescape(rawName)
		if err != nil {
			return nil, err
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, err
		}
		attrs[name] = value
	}
	return attrs, nil
}
