package cache

import (
	"encoding/json"
	"time"

	"github.com/elSilveira/gaser/pkg/config"
)

// Kind is the category of a cached payload. Each kind has its own TTL.
type Kind string

const (
	KindPrices      Kind = "prices"
	KindBasicInfo   Kind = "basic_info"
	KindCoordinates Kind = "coordinates"
	KindSnapshot    Kind = "snapshot"
)

// Kinds lists every known kind, shortest-lived first.
var Kinds = []Kind{KindPrices, KindSnapshot, KindBasicInfo, KindCoordinates}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPrices, KindBasicInfo, KindCoordinates, KindSnapshot:
		return true
	}
	return false
}

// TTLs maps each kind to its time-to-live.
type TTLs map[Kind]time.Duration

// DefaultTTLs returns the built-in TTLs.
func DefaultTTLs() TTLs {
	return TTLs{
		KindPrices:      24 * time.Hour,
		KindBasicInfo:   config.Week,
		KindCoordinates: 30 * config.Day,
		KindSnapshot:    24 * time.Hour,
	}
}

// TTLsFromConfig converts the configured TTLs.
func TTLsFromConfig(c *config.TTLConfig) TTLs {
	return TTLs{
		KindPrices:      c.Prices.Std(),
		KindBasicInfo:   c.BasicInfo.Std(),
		KindCoordinates: c.Coordinates.Std(),
		KindSnapshot:    c.Snapshot.Std(),
	}
}

// Entry is one cached payload and the time it was written.
type Entry struct {
	Payload   json.RawMessage `json:"payload"`
	WrittenAt time.Time       `json:"written_at"`
}

// Expired reports whether the entry is older than ttl at now.
func (e Entry) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.WrittenAt) > ttl
}
