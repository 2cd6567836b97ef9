package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/elSilveira/gaser/pkg/regionkey"
)

type mirrorDoc struct {
	Version int                              `json:"version"`
	Regions map[regionkey.Key]map[Kind]Entry `json:"regions"`
}

// persist serializes the table and hands it to the mirror. Failures are
// logged; the in-memory table stays authoritative.
func (s *Store) persist() {
	if s.mirror == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	data, err := json.Marshal(mirrorDoc{Version: mirrorVersion, Regions: s.tableLocked()})
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("Failed to serialize cache table", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := s.mirror.Save(ctx, data); err != nil {
		s.logger.Warn("Failed to mirror cache table", "error", err)
	}
}

func (s *Store) tableLocked() map[regionkey.Key]map[Kind]Entry {
	out := make(map[regionkey.Key]map[Kind]Entry, len(s.table))
	for k, r := range s.table {
		out[k] = r
	}
	return out
}

// Restore loads the mirrored table, dropping expired entries and unknown
// kinds, then trims to capacity. It returns the number of regions loaded.
func (s *Store) Restore(ctx context.Context) (int, error) {
	if s.mirror == nil {
		return 0, nil
	}
	data, err := s.mirror.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load mirror: %w", err)
	}
	if len(data) == 0 {
		return 0, nil
	}

	var doc mirrorDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("decode mirror: %w", err)
	}
	if doc.Version != mirrorVersion {
		s.logger.Warn("Ignoring mirror with unknown version", "version", doc.Version)
		return 0, nil
	}

	s.mu.Lock()
	now := s.now()
	for key, entries := range doc.Regions {
		r := make(region, len(entries))
		for kind, e := range entries {
			ttl, ok := s.ttl[kind]
			if !ok || e.Expired(now, ttl) {
				continue
			}
			r[kind] = e
		}
		if len(r) > 0 {
			s.table[key] = r
		}
	}
	evicted := s.enforceCapacityLocked()
	n := len(s.table)
	s.mu.Unlock()

	s.notifyEvicted(evicted)
	s.logger.Info("Restored volatile cache", "regions", n)
	return n, nil
}
