package rfc9111

import "net/http"

// §  4.3.1.  Sending a Validation Request
// §
// §     When generating a conditional request for validation, a cache:
// §
// §     *  MUST send the relevant entity tags (using If-Match, If-None-Match,
// §        or If-Range) if the entity tags were provided in the stored
// §        response(s) being validated.
// §
// §     *  SHOULD send the Last-Modified value (using If-Modified-Since) if
// §        the request is not for a subrange, a single stored response is
// §        being validated, and that response contains a Last-Modified value.
// §
// §     In most cases, both validators are generated in cache validation
// §     requests, even when entity tags are clearly superior, to allow old
// §     intermediaries that do not understand entity tag preconditions to
// §     respond appropriately.

// AddPreconditions turns r into a validation request for a stored
// response with the given validators. It returns whether any precondition
// was added.
func AddPreconditions(r *http.Request, stored Validators) bool {
	added := false
	if stored.ETag != "" {
		r.Header.Set("If-None-Match", stored.ETag)
		added = true
	}
	if !stored.LastModified.IsZero() {
		r.Header.Set("If-Modified-Since", ToHttpDate(stored.LastModified))
		added = true
	}
	return added
}
