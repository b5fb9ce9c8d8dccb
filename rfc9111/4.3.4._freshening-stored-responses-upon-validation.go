package rfc9111

import "net/http"

// §  4.3.4.  Freshening Stored Responses upon Validation
// §
// §     When a cache receives a 304 (Not Modified) response, it needs to
// §     identify stored responses that are suitable for updating with the new
// §     information provided, and then do so.
// §
// §     For each stored response identified, the cache MUST update its header
// §     fields with the header fields provided in the 304 (Not Modified)
// §     response, as per Section 3.2.

// Freshen returns the validators of a stored response after it was
// validated by a 304 response carrying header. Validators missing from the
// 304 are kept from the stored response.
func Freshen(stored Validators, header http.Header) Validators {
	received := ValidatorsFromHeader(header)
	if received.ETag == "" {
		received.ETag = stored.ETag
	}
	if received.LastModified.IsZero() {
		received.LastModified = stored.LastModified
	}
	return received
}
