package regionkey

import "errors"

// ErrMalformedQuery indicates invalid coordinates, radius, text or id supplied by the caller.
var ErrMalformedQuery = errors.New("malformed query")
