package store

import "errors"

// ErrUnavailable marks a failure of the durable medium: the database could not
// be reached or a transaction aborted. Callers treat it as a miss.
var ErrUnavailable = errors.New("durable store unavailable")

// ErrInvalidFilter marks a StationFilter that cannot be turned into a query.
var ErrInvalidFilter = errors.New("invalid station filter")
