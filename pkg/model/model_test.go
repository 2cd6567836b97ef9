package model

import (
	"testing"
)

func TestStation_Price(t *testing.T) {
	s := Station{
		ID:     "42",
		Prices: map[FuelType]float64{FuelGasoline: 5.49, FuelEthanol: 3.79},
	}

	tests := []struct {
		fuel   FuelType
		want   float64
		wantOK bool
	}{
		{FuelGasoline, 5.49, true},
		{FuelEthanol, 3.79, true},
		{FuelDiesel, 0, false},
		{FuelCNG, 0, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.fuel), func(t *testing.T) {
			got, ok := s.Price(tt.fuel)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Price(%s) = %v, %v; want %v, %v", tt.fuel, got, ok, tt.want, tt.wantOK)
			}
		})
	}

	var empty Station
	if _, ok := empty.Price(FuelGasoline); ok {
		t.Error("station without prices reported a price")
	}
}

func TestSnapshot_StationIDs(t *testing.T) {
	snap := Snapshot{Stations: []Station{{ID: "b"}, {ID: "a"}, {ID: "c"}}}
	ids := snap.StationIDs()
	want := []string{"b", "a", "c"}
	if len(ids) != len(want) {
		t.Fatalf("got %d ids, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}

	if ids := (&Snapshot{}).StationIDs(); ids == nil || len(ids) != 0 {
		t.Errorf("empty snapshot ids = %v, want empty non-nil slice", ids)
	}
}

func TestParseFuelType(t *testing.T) {
	tests := []struct {
		in     string
		want   FuelType
		wantOK bool
	}{
		{"gasoline", FuelGasoline, true},
		{" Diesel ", FuelDiesel, true},
		{"gasolina", FuelGasoline, true},
		{"Etanol", FuelEthanol, true},
		{"álcool", FuelEthanol, true},
		{"GNV", FuelCNG, true},
		{"kerosene", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseFuelType(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ParseFuelType(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}

	if FuelType("todas").Valid() {
		t.Error("unknown fuel reported valid")
	}
}
