// Package regionkey turns station queries into stable cache keys.
//
// Coordinate queries are quantised to a ~1.1 km grid (two decimal places) so that
// nearby lookups share a key. Free-text queries are hashed with xxhash64; a collision
// only ever serves another query's still-valid data and never corrupts an entry.
package regionkey

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/elSilveira/gaser/pkg/geo"
)

// Precision is the number of decimal places kept for coordinates.
const Precision = 2

// MaxRadiusKm bounds coordinate queries. The ring walk behind a radius grows
// quadratically, so larger scopes are refused outright.
const MaxRadiusKm = 50.0

// Key identifies a cached query scope.
type Key string

func (k Key) String() string { return string(k) }

// Type is the kind of query a key was derived from.
type Type string

const (
	TypeCoord Type = "geo"
	TypeText  Type = "text"
	TypeID    Type = "id"
)

// Query describes a station lookup.
type Query struct {
	Type   Type
	Lat    float64
	Lon    float64
	Radius float64 // km
	Text   string
	ID     string
}

// Coord builds a coordinate query.
func Coord(lat, lon, radiusKm float64) Query {
	return Query{Type: TypeCoord, Lat: lat, Lon: lon, Radius: radiusKm}
}

// Text builds a free-text query.
func Text(q string) Query {
	return Query{Type: TypeText, Text: q}
}

// ID builds an entity-id query.
func ID(id string) Query {
	return Query{Type: TypeID, ID: id}
}

// Point returns the query's center.
func (q Query) Point() geo.Point {
	return geo.Point{Lat: q.Lat, Lon: q.Lon}
}

// Validate reports ErrMalformedQuery for input that cannot produce a meaningful key.
func (q Query) Validate() error {
	switch q.Type {
	case TypeCoord:
		if !q.Point().Valid() {
			return fmt.Errorf("%w: coordinates %v,%v out of range", ErrMalformedQuery, q.Lat, q.Lon)
		}
		if math.IsNaN(q.Radius) || math.IsInf(q.Radius, 0) || q.Radius <= 0 {
			return fmt.Errorf("%w: radius %v must be positive", ErrMalformedQuery, q.Radius)
		}
		if q.Radius > MaxRadiusKm {
			return fmt.Errorf("%w: radius %v exceeds %v km", ErrMalformedQuery, q.Radius, MaxRadiusKm)
		}
	case TypeText:
		if Normalize(q.Text) == "" {
			return fmt.Errorf("%w: empty text query", ErrMalformedQuery)
		}
	case TypeID:
		if strings.TrimSpace(q.ID) == "" {
			return fmt.Errorf("%w: empty id", ErrMalformedQuery)
		}
	default:
		return fmt.Errorf("%w: unknown query type %q", ErrMalformedQuery, q.Type)
	}
	return nil
}

// Encode validates q and returns its key.
func Encode(q Query) (Key, error) {
	if err := q.Validate(); err != nil {
		return "", err
	}
	return MustEncode(q), nil
}

// MustEncode returns the key of an already validated query.
// Unknown types map to an id-style key of the raw text so the function stays total.
func MustEncode(q Query) Key {
	switch q.Type {
	case TypeCoord:
		return Key(fmt.Sprintf("%s:%s:%s:%s", TypeCoord,
			formatCoord(q.Lat), formatCoord(q.Lon), formatRadius(q.Radius)))
	case TypeText:
		return Key(fmt.Sprintf("%s:%016x", TypeText, xxhash.Sum64String(Normalize(q.Text))))
	default:
		return Key(fmt.Sprintf("%s:%s:0.00:0.00:0", TypeID, strings.TrimSpace(q.ID)))
	}
}

// TypeOf returns the query type a key was derived from.
func TypeOf(k Key) Type {
	prefix, _, _ := strings.Cut(string(k), ":")
	return Type(prefix)
}

// Quantize rounds a coordinate to the key precision.
func Quantize(v float64) float64 {
	scale := math.Pow10(Precision)
	r := math.Round(v*scale) / scale
	if r == 0 {
		return 0 // drop negative zero
	}
	return r
}

// Normalize trims, case-folds and NFC-normalises s, collapsing inner whitespace.
func Normalize(s string) string {
	// Casers are stateful; one per call.
	s = norm.NFC.String(cases.Fold().String(strings.TrimSpace(s)))
	return strings.Join(strings.Fields(s), " ")
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(Quantize(v), 'f', Precision, 64)
}

func formatRadius(r float64) string {
	return strconv.FormatFloat(r, 'f', -1, 64)
}
