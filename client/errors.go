package client

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned when the caller withdrew interest. It wraps
	// the context error and is never reported as a failed state.
	ErrCancelled = errors.New("cancellation requested")
	// ErrProtocolViolation is returned when the authority answers 304 but
	// nothing is stored to fall back on. It is not retried.
	ErrProtocolViolation = errors.New("not modified without a stored response")
	// ErrRetriesExhausted wraps the last TransportError once every attempt
	// has failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// TransportError is a failed network attempt: either no response was
// received, or the status was neither 2xx nor 304.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("transport failure: HTTP %d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("transport failure: HTTP %d", e.StatusCode)
	default:
		return fmt.Sprintf("transport failure: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

func cancelled(cause error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}
