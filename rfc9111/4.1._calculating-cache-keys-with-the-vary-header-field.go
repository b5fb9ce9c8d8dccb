package rfc9111

import (
	"net/http"
	"strings"
)

// §  4.1.  Calculating Cache Keys with the Vary Header Field
// §
// §     When a cache receives a request that can be satisfied by a stored
// §     response and that stored response contains a Vary header field
// §     (Section 12.5.5 of [HTTP]), the cache MUST NOT use that stored
// §     response without revalidation unless all the presented request header
// §     fields nominated by that Vary field value match those fields in the
// §     original request (i.e., the request that caused the cached response
// §     to be stored).

// GetListHeader returns the members of a comma-separated list field,
// combining all field lines with that name.
func GetListHeader(h http.Header, name string) []string {
	members := make([]string, 0)
	for _, line := range h.Values(name) {
		for _, member := range strings.Split(line, ",") {
			if member = strings.TrimSpace(member); member != "" {
				members = append(members, member)
			}
		}
	}
	return members
}

// FieldAbsent reports whether the named field is missing from the header.
//
// §     If (after any normalization that might take place) a header field is
// §     absent from a request, it can only match another request if it is
// §     also absent there.
func FieldAbsent(h http.Header, name string) bool {
	return len(h.Values(name)) == 0
}

// NormalizeFieldValue drops the surrounding whitespace of a nominated request
// field. Case is preserved since not every nominated field is case-insensitive.
//
// §     The header fields from two requests are defined to match if and only
// §     if those in the first request can be transformed to those in the
// §     second request by applying any of the following:
// §
// §     *  adding or removing whitespace, where allowed in the header field's
// §        syntax
func NormalizeFieldValue(value string) string {
	return strings.TrimSpace(value)
}
