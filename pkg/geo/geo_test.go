package geo

import (
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		p1   Point
		p2   Point
		want float64
	}{
		{
			name: "Same Point",
			p1:   Point{Lat: 0, Lon: 0},
			p2:   Point{Lat: 0, Lon: 0},
			want: 0,
		},
		{
			name: "Sao Paulo to Rio",
			p1:   Point{Lat: -23.5505, Lon: -46.6333},
			p2:   Point{Lat: -22.9068, Lon: -43.1729},
			want: 360000, // Approx 360km
		},
		{
			name: "Equator 1 degree",
			p1:   Point{Lat: 0, Lon: 0},
			p2:   Point{Lat: 0, Lon: 1},
			want: 111319, // Approx 111km
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.p1, tt.p2)
			// Allow 1% margin of error due to float precision/earth radius var
			margin := tt.want * 0.01
			if tt.want == 0 && got != 0 {
				t.Errorf("Distance() = %v, want 0", got)
			}
			if math.Abs(got-tt.want) > margin && tt.want != 0 {
				t.Errorf("Distance() = %v, want %v (+/- %v)", got, tt.want, margin)
			}
		})
	}
}

func TestOffset(t *testing.T) {
	tests := []struct {
		name       string
		p          Point
		dLat, dLon float64
		want       Point
	}{
		{"plain", Point{Lat: -23.55, Lon: -46.63}, 0.02, 0, Point{Lat: -23.53, Lon: -46.63}},
		{"clamp north pole", Point{Lat: 89.99, Lon: 10}, 0.02, 0, Point{Lat: 90, Lon: 10}},
		{"wrap east", Point{Lat: 0, Lon: 179.99}, 0, 0.02, Point{Lat: 0, Lon: -179.99}},
		{"wrap west", Point{Lat: 0, Lon: -179.99}, 0, -0.02, Point{Lat: 0, Lon: 179.99}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Offset(tt.p, tt.dLat, tt.dLon)
			if math.Abs(got.Lat-tt.want.Lat) > 1e-9 || math.Abs(got.Lon-tt.want.Lon) > 1e-9 {
				t.Errorf("Offset() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCardinalNeighbors(t *testing.T) {
	p := Point{Lat: -23.55, Lon: -46.63}
	got := CardinalNeighbors(p, 0.02)
	if len(got) != 4 {
		t.Fatalf("expected 4 neighbors, got %d", len(got))
	}
	// N, S, E, W
	if got[0].Lat <= p.Lat || got[1].Lat >= p.Lat || got[2].Lon <= p.Lon || got[3].Lon >= p.Lon {
		t.Errorf("unexpected neighbor layout: %+v", got)
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		p    Point
		want bool
	}{
		{Point{Lat: 0, Lon: 0}, true},
		{Point{Lat: -90, Lon: 180}, true},
		{Point{Lat: 90.1, Lon: 0}, false},
		{Point{Lat: 0, Lon: -180.5}, false},
		{Point{Lat: math.NaN(), Lon: 0}, false},
		{Point{Lat: 0, Lon: math.Inf(1)}, false},
	}
	for _, tt := range tests {
		if got := tt.p.Valid(); got != tt.want {
			t.Errorf("Valid(%+v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestWithin(t *testing.T) {
	center := Point{Lat: -23.5505, Lon: -46.6333}
	near := Offset(center, 0.01, 0) // ~1.1km
	far := Offset(center, 0.1, 0)   // ~11km

	if !Within(center, near, 5) {
		t.Error("expected near point within 5km")
	}
	if Within(center, far, 5) {
		t.Error("expected far point outside 5km")
	}
}

func TestCellDisk(t *testing.T) {
	p := Point{Lat: -23.5505, Lon: -46.6333}
	cell, err := Cell(p, 7)
	if err != nil {
		t.Fatalf("Cell() error = %v", err)
	}
	disk, err := CellDisk(p, 7, 1)
	if err != nil {
		t.Fatalf("CellDisk() error = %v", err)
	}
	if len(disk) != 7 {
		t.Errorf("expected 7 cells in a 1-ring disk, got %d", len(disk))
	}
	found := false
	for _, c := range disk {
		if c == cell {
			found = true
		}
	}
	if !found {
		t.Error("disk does not contain origin cell")
	}
}

func TestRingsForRadius(t *testing.T) {
	if k := RingsForRadius(7, 0.1); k != 1 {
		t.Errorf("RingsForRadius small = %d, want 1", k)
	}
	if k := RingsForRadius(7, 10); k < 4 {
		t.Errorf("RingsForRadius 10km = %d, want >= 4", k)
	}
}
