// Package rfc9111 implements the parts of HTTP caching (RFC 9111, with the
// HTTP-date and conditional request rules it borrows from RFC 9110) that are
// shared by the resource authority and the client cache manager.
//
// Files are named after the section of the RFC they implement. Quoted RFC text
// is prefixed with "§".
package rfc9111

import (
	"net/http"
	"time"
)

// Validators are the cache validators of a stored or current representation.
// A zero LastModified means the validator is absent.
type Validators struct {
	ETag         string
	LastModified time.Time
}

// ValidatorsFromHeader reads the ETag and Last-Modified fields of a response.
// An unparseable Last-Modified is ignored.
func ValidatorsFromHeader(h http.Header) Validators {
	v := Validators{ETag: h.Get("ETag")}
	if lm := h.Get("Last-Modified"); lm != "" {
		if t, err := HttpDate(lm); err == nil {
			v.LastModified = t
		}
	}
	return v
}

// SetValidatorHeaders writes the validators onto a response header.
func SetValidatorHeaders(h http.Header, v Validators) {
	if v.ETag != "" {
		h.Set("ETag", v.ETag)
	}
	if !v.LastModified.IsZero() {
		h.Set("Last-Modified", ToHttpDate(v.LastModified))
	}
}
