package store

import (
	"context"
	"time"

	"github.com/elSilveira/gaser/pkg/geo"
	"github.com/elSilveira/gaser/pkg/model"
)

// RegionResult is the outcome of a region lookup. A region that does not
// exist yields a zero RegionResult with Found == false.
type RegionResult struct {
	Key       string
	Stations  []model.Station
	Metadata  map[string]string
	UpdatedAt time.Time
	IsExpired bool
	Found     bool
}

// StoreStats is a read-only summary of the durable tier.
type StoreStats struct {
	RegionCount  int       `json:"region_count"`
	StationCount int       `json:"station_count"`
	SizeBytes    int64     `json:"size_bytes"`
	Oldest       time.Time `json:"oldest,omitempty"`
	Newest       time.Time `json:"newest,omitempty"`
}

// Sort orders for Filter.
const (
	SortName  = "name"
	SortPrice = "price"
)

// StationFilter selects stored stations by attribute. Empty fields match
// everything. Brand and City compare case-insensitively; State is a two-letter
// code. MaxPrice and SortPrice both need Fuel.
type StationFilter struct {
	Brand    string
	City     string
	State    string
	Fuel     model.FuelType
	MaxPrice float64
	SortBy   string
}

// RegionStore persists region snapshots.
type RegionStore interface {
	SaveRegion(ctx context.Context, key string, stations []model.Station, meta map[string]string) error
	SaveRegionAt(ctx context.Context, key string, stations []model.Station, meta map[string]string, updatedAt time.Time) error
	GetRegion(ctx context.Context, key string) (RegionResult, error)
	PurgeStale(ctx context.Context, maxAge time.Duration) (int, error)
	ListRegions(ctx context.Context) ([]model.Region, error)
}

// StationStore queries station records directly.
type StationStore interface {
	SearchByText(ctx context.Context, query string, limit int) ([]model.Station, error)
	StationsNear(ctx context.Context, center geo.Point, radiusKm float64, limit int) ([]model.Station, error)
	Filter(ctx context.Context, f StationFilter, limit int) ([]model.Station, error)
	PurgeOrphans(ctx context.Context) (int, error)
}

// MetadataStore holds small singleton values.
type MetadataStore interface {
	GetMeta(ctx context.Context, key string) (string, bool)
	SetMeta(ctx context.Context, key, val string) error
}
