package cache

import "errors"

// ErrUnknownKind is returned when writing a payload of an unregistered kind.
var ErrUnknownKind = errors.New("unknown data kind")
