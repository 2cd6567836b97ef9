package stationcache

import (
	"errors"

	"github.com/elSilveira/gaser/pkg/regionkey"
)

var (
	// ErrMalformedQuery is returned for invalid coordinates, radius, text, id, kind or limit.
	ErrMalformedQuery = regionkey.ErrMalformedQuery
	// ErrSynthetic is returned when committing generated sample data.
	ErrSynthetic = errors.New("synthetic snapshot cannot be committed")
)
