package model

import (
	"strings"
	"time"
)

// FuelType identifies a fuel sold at a station.
type FuelType string

const (
	FuelGasoline FuelType = "gasoline"
	FuelEthanol  FuelType = "ethanol"
	FuelDiesel   FuelType = "diesel"
	FuelCNG      FuelType = "cng"
)

// FuelTypes lists every fuel type in display order.
var FuelTypes = []FuelType{FuelGasoline, FuelEthanol, FuelDiesel, FuelCNG}

var fuelAliases = map[string]FuelType{
	"gasolina": FuelGasoline,
	"alcool":   FuelEthanol,
	"álcool":   FuelEthanol,
	"etanol":   FuelEthanol,
	"gnv":      FuelCNG,
}

// Valid reports whether f is one of FuelTypes.
func (f FuelType) Valid() bool {
	for _, t := range FuelTypes {
		if f == t {
			return true
		}
	}
	return false
}

// ParseFuelType accepts a fuel name or one of its Portuguese aliases, case-insensitively.
func ParseFuelType(s string) (FuelType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if f := FuelType(s); f.Valid() {
		return f, true
	}
	f, ok := fuelAliases[s]
	return f, ok
}

// Station is the canonical fuel station record.
type Station struct {
	ID           string `json:"id"` // Primary Key
	Name         string `json:"name,omitempty"`
	Brand        string `json:"brand,omitempty"`
	Address      string `json:"address,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"` // Two-letter code, e.g. "SP"

	// Coordinates
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`

	// Prices per fuel. A missing fuel means the station does not sell it.
	Prices      map[FuelType]float64 `json:"prices,omitempty"`
	CollectedAt time.Time            `json:"collected_at"`

	// Ephemeral, only set on coordinate query results.
	DistanceKm float64 `json:"distance_km,omitempty"`
}

// Price returns the price of the given fuel, if sold.
func (s *Station) Price(f FuelType) (float64, bool) {
	p, ok := s.Prices[f]
	return p, ok
}

// Snapshot is the result of a single fetch for one region.
type Snapshot struct {
	Stations  []Station         `json:"stations"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	FetchedAt time.Time         `json:"fetched_at"`

	// Synthetic marks generated sample data. It is never persisted.
	Synthetic bool `json:"synthetic,omitempty"`
}

// StationIDs returns the ids of the snapshot's stations in order.
func (s *Snapshot) StationIDs() []string {
	ids := make([]string, 0, len(s.Stations))
	for i := range s.Stations {
		ids = append(ids, s.Stations[i].ID)
	}
	return ids
}

// Region is the durable membership record of a cached query scope.
type Region struct {
	Key        string            `json:"key"`
	StationIDs []string          `json:"station_ids"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}
