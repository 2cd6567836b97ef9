package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/uber/h3-go/v4"
)

// Point represents a geographic coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// Orb converts the point to an orb.Point (which uses [lon, lat] order).
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// Valid reports whether the point is a finite coordinate on the globe.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Distance calculates the Haversine distance between two points in meters.
func Distance(p1, p2 Point) float64 {
	return orbgeo.DistanceHaversine(p1.Orb(), p2.Orb())
}

// DistanceKm is Distance in kilometers.
func DistanceKm(p1, p2 Point) float64 {
	return Distance(p1, p2) / 1000.0
}

// Offset shifts a point by the given degrees.
// Latitude is clamped to the poles and longitude wraps around the antimeridian.
func Offset(p Point, dLat, dLon float64) Point {
	lat := math.Max(-90.0, math.Min(90.0, p.Lat+dLat))
	lon := p.Lon + dLon
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return Point{Lat: lat, Lon: lon}
}

// CardinalNeighbors returns the points one step north, south, east and west of p.
func CardinalNeighbors(p Point, stepDeg float64) []Point {
	return []Point{
		Offset(p, stepDeg, 0),
		Offset(p, -stepDeg, 0),
		Offset(p, 0, stepDeg),
		Offset(p, 0, -stepDeg),
	}
}

// BoundAround returns the bounding box covering radiusKm around center.
func BoundAround(center Point, radiusKm float64) orb.Bound {
	return orbgeo.NewBoundAroundPoint(center.Orb(), radiusKm*1000.0)
}

// Within reports whether p lies within radiusKm of center.
func Within(center, p Point, radiusKm float64) bool {
	if !BoundAround(center, radiusKm).Contains(p.Orb()) {
		return false
	}
	return DistanceKm(center, p) <= radiusKm
}

// Cell returns the H3 cell index (hex string) containing p at the given resolution.
func Cell(p Point, resolution int) (string, error) {
	c, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lon), resolution)
	if err != nil {
		return "", fmt.Errorf("h3 cell for %.5f,%.5f: %w", p.Lat, p.Lon, err)
	}
	return c.String(), nil
}

// CellDisk returns the H3 cells within k rings of the cell containing p.
func CellDisk(p Point, resolution, k int) ([]string, error) {
	c, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lon), resolution)
	if err != nil {
		return nil, fmt.Errorf("h3 cell for %.5f,%.5f: %w", p.Lat, p.Lon, err)
	}
	disk, err := h3.GridDisk(c, k)
	if err != nil {
		return nil, fmt.Errorf("h3 grid disk: %w", err)
	}
	out := make([]string, 0, len(disk))
	for _, d := range disk {
		out = append(out, d.String())
	}
	return out, nil
}

// RingsForRadius returns how many H3 rings at the given resolution cover radiusKm.
// One extra edge length accounts for the query point sitting off its cell center.
func RingsForRadius(resolution int, radiusKm float64) int {
	edge := edgeLengthKm(resolution)
	if edge <= 0 {
		return 1
	}
	k := int(math.Ceil((radiusKm + edge) / (edge * 1.5)))
	if k < 1 {
		k = 1
	}
	return k
}

// Average hexagon edge lengths in km, indexed by resolution.
var h3EdgeKm = []float64{
	1281.256011, 483.0568391, 182.5129565, 68.97922179, 26.07175968,
	9.854090990, 3.724532667, 1.406475763, 0.531414010, 0.200786148,
	0.075863783, 0.028663897, 0.010830188, 0.004092010, 0.001546100, 0.000584169,
}

func edgeLengthKm(resolution int) float64 {
	if resolution < 0 || resolution >= len(h3EdgeKm) {
		return 0
	}
	return h3EdgeKm[resolution]
}
