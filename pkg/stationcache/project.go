package stationcache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/elSilveira/gaser/pkg/cache"
	"github.com/elSilveira/gaser/pkg/model"
)

// Per-kind views of a station. Each kind caches only the fields it owns so
// prices can expire while addresses and coordinates stay resident.
type priceRecord struct {
	ID          string                     `json:"id"`
	Prices      map[model.FuelType]float64 `json:"prices,omitempty"`
	CollectedAt time.Time                  `json:"collected_at"`
}

type basicRecord struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	Brand        string `json:"brand,omitempty"`
	Address      string `json:"address,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
}

type coordRecord struct {
	ID  string  `json:"id"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// project encodes the part of snap owned by kind.
func project(kind cache.Kind, snap *model.Snapshot) (json.RawMessage, error) {
	var v any
	switch kind {
	case cache.KindSnapshot:
		v = snap
	case cache.KindPrices:
		recs := make([]priceRecord, len(snap.Stations))
		for i, s := range snap.Stations {
			recs[i] = priceRecord{ID: s.ID, Prices: s.Prices, CollectedAt: s.CollectedAt}
		}
		v = recs
	case cache.KindBasicInfo:
		recs := make([]basicRecord, len(snap.Stations))
		for i, s := range snap.Stations {
			recs[i] = basicRecord{
				ID: s.ID, Name: s.Name, Brand: s.Brand, Address: s.Address,
				Neighborhood: s.Neighborhood, City: s.City, State: s.State,
			}
		}
		v = recs
	case cache.KindCoordinates:
		recs := make([]coordRecord, len(snap.Stations))
		for i, s := range snap.Stations {
			recs[i] = coordRecord{ID: s.ID, Lat: s.Lat, Lon: s.Lon}
		}
		v = recs
	default:
		return nil, fmt.Errorf("%w: %q", cache.ErrUnknownKind, kind)
	}
	return json.Marshal(v)
}

// merge rebuilds a snapshot from kind payloads. The snapshot kind, when
// present, supplies order and metadata; the other kinds overlay their fields
// by station id.
func merge(parts map[cache.Kind]json.RawMessage) (model.Snapshot, error) {
	var snap model.Snapshot
	index := make(map[string]int)

	if raw, ok := parts[cache.KindSnapshot]; ok {
		if err := json.Unmarshal(raw, &snap); err != nil {
			return model.Snapshot{}, fmt.Errorf("decode %s: %w", cache.KindSnapshot, err)
		}
		for i := range snap.Stations {
			index[snap.Stations[i].ID] = i
		}
	}

	// The snapshot's membership is authoritative; overlay records for other
	// ids are dropped.
	_, closed := parts[cache.KindSnapshot]
	station := func(id string) *model.Station {
		i, ok := index[id]
		if !ok {
			if closed {
				return nil
			}
			i = len(snap.Stations)
			snap.Stations = append(snap.Stations, model.Station{ID: id})
			index[id] = i
		}
		return &snap.Stations[i]
	}

	for _, kind := range cache.Kinds {
		raw, ok := parts[kind]
		if !ok || kind == cache.KindSnapshot {
			continue
		}
		switch kind {
		case cache.KindPrices:
			var recs []priceRecord
			if err := json.Unmarshal(raw, &recs); err != nil {
				return model.Snapshot{}, fmt.Errorf("decode %s: %w", kind, err)
			}
			for _, r := range recs {
				s := station(r.ID)
				if s == nil {
					continue
				}
				s.Prices, s.CollectedAt = r.Prices, r.CollectedAt
			}
		case cache.KindBasicInfo:
			var recs []basicRecord
			if err := json.Unmarshal(raw, &recs); err != nil {
				return model.Snapshot{}, fmt.Errorf("decode %s: %w", kind, err)
			}
			for _, r := range recs {
				s := station(r.ID)
				if s == nil {
					continue
				}
				s.Name, s.Brand, s.Address = r.Name, r.Brand, r.Address
				s.Neighborhood, s.City, s.State = r.Neighborhood, r.City, r.State
			}
		case cache.KindCoordinates:
			var recs []coordRecord
			if err := json.Unmarshal(raw, &recs); err != nil {
				return model.Snapshot{}, fmt.Errorf("decode %s: %w", kind, err)
			}
			for _, r := range recs {
				s := station(r.ID)
				if s == nil {
					continue
				}
				s.Lat, s.Lon = r.Lat, r.Lon
			}
		}
	}
	return snap, nil
}

// view reduces snap to the fields kind owns. The aggregate kind keeps everything.
func view(kind cache.Kind, snap model.Snapshot) (model.Snapshot, error) {
	if kind == "" || kind == cache.KindSnapshot {
		return snap, nil
	}
	raw, err := project(kind, &snap)
	if err != nil {
		return model.Snapshot{}, err
	}
	out, err := merge(map[cache.Kind]json.RawMessage{kind: raw})
	if err != nil {
		return model.Snapshot{}, err
	}
	out.Metadata, out.FetchedAt, out.Synthetic = snap.Metadata, snap.FetchedAt, snap.Synthetic
	return out, nil
}

// complete reports whether parts hold enough to rebuild full station records.
func complete(parts map[cache.Kind]json.RawMessage) bool {
	if _, ok := parts[cache.KindSnapshot]; ok {
		return true
	}
	for _, k := range []cache.Kind{cache.KindPrices, cache.KindBasicInfo, cache.KindCoordinates} {
		if _, ok := parts[k]; !ok {
			return false
		}
	}
	return true
}

// hasPrices reports whether results of kind carry prices.
func hasPrices(kind cache.Kind) bool {
	return kind == "" || kind == cache.KindSnapshot || kind == cache.KindPrices
}

// hasBasicInfo reports whether results of kind carry names and brands.
func hasBasicInfo(kind cache.Kind) bool {
	return kind == "" || kind == cache.KindSnapshot || kind == cache.KindBasicInfo
}

// hasCoordinates reports whether results of kind carry station positions.
func hasCoordinates(kind cache.Kind) bool {
	return kind == "" || kind == cache.KindSnapshot || kind == cache.KindCoordinates
}
