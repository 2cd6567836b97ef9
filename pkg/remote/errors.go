package remote

import "errors"

var (
	// ErrFetch is returned when the backend could not be reached or its reply
	// could not be decoded.
	ErrFetch = errors.New("remote fetch failed")
	// ErrStatus is returned for a non-retryable HTTP status.
	ErrStatus = errors.New("unexpected status")
)
