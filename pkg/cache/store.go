// Package cache implements the volatile tier: an in-memory table of region
// key to typed entries, each expiring after its kind's TTL.
//
// Expiry is evaluated on every read; Sweep only reclaims memory. The table is
// bounded by a number of regions and evicts whole regions, oldest most-recent
// write first. After every mutation the full table is handed to a Mirror so a
// restarted process can warm itself with Restore.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/elSilveira/gaser/pkg/logging"
	"github.com/elSilveira/gaser/pkg/regionkey"
)

const (
	mirrorVersion = 1
	mirrorTimeout = 5 * time.Second
)

// Mirror receives the serialized table after each mutation.
type Mirror interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// Options configures a Store.
type Options struct {
	MaxRegions int
	TTL        TTLs
	Mirror     Mirror
	Now        func() time.Time
	// OnEvict is called (outside the lock) for every region evicted by capacity.
	OnEvict func(regionkey.Key)
}

// Stats is a point-in-time view of the table.
type Stats struct {
	Regions    int          `json:"regions"`
	MaxRegions int          `json:"max_regions"`
	Entries    int          `json:"entries"`
	Expired    int          `json:"expired"`
	ByKind     map[Kind]int `json:"by_kind"`
	Evictions  int64        `json:"evictions"`
	Oldest     time.Time    `json:"oldest,omitempty"`
	Newest     time.Time    `json:"newest,omitempty"`
}

type region map[Kind]Entry

// Store is the volatile cache. It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	table     map[regionkey.Key]region
	evictions int64

	// Sweep loop, guarded by mu.
	stopSweep context.CancelFunc
	sweepDone chan struct{}

	// saveMu orders mirror writes so an older table never overwrites a newer one.
	saveMu sync.Mutex

	max     int
	ttl     TTLs
	mirror  Mirror
	now     func() time.Time
	onEvict func(regionkey.Key)
	logger  *slog.Logger
}

// New creates an empty Store. Call Restore to load the mirrored table.
func New(opts Options) *Store {
	if opts.MaxRegions <= 0 {
		opts.MaxRegions = 100
	}
	if opts.TTL == nil {
		opts.TTL = DefaultTTLs()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		table:   make(map[regionkey.Key]region),
		max:     opts.MaxRegions,
		ttl:     opts.TTL,
		mirror:  opts.Mirror,
		now:     opts.Now,
		onEvict: opts.OnEvict,
		logger:  slog.With("component", "volatile_cache"),
	}
}

// TTL returns the time-to-live of kind.
func (s *Store) TTL(kind Kind) time.Duration {
	return s.ttl[kind]
}

// Get returns the entry for key/kind if it is present and unexpired.
// Absent and expired are both reported as a miss.
func (s *Store) Get(key regionkey.Key, kind Kind) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.table[key][kind]
	if !ok || e.Expired(s.now(), s.ttl[kind]) {
		return Entry{}, false
	}
	return e, true
}

// GetAll returns every payload stored under key, but only if all of them are
// still valid. A single expired kind turns the whole read into a miss.
func (s *Store) GetAll(key regionkey.Key) (map[Kind]json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.table[key]
	if !ok || len(r) == 0 {
		return nil, false
	}
	now := s.now()
	out := make(map[Kind]json.RawMessage, len(r))
	for kind, e := range r {
		if e.Expired(now, s.ttl[kind]) {
			return nil, false
		}
		out[kind] = e.Payload
	}
	return out, true
}

// Has reports whether key is resident with at least one valid entry.
func (s *Store) Has(key regionkey.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for kind, e := range s.table[key] {
		if !e.Expired(now, s.ttl[kind]) {
			return true
		}
	}
	return false
}

// Set stores payload under key/kind, stamped with the current time.
func (s *Store) Set(key regionkey.Key, kind Kind, payload json.RawMessage) error {
	return s.SetAt(key, kind, payload, s.now())
}

// SetAt stores payload with an explicit write time. Promotions from the
// durable tier use it so the entry keeps the age of the original fetch.
func (s *Store) SetAt(key regionkey.Key, kind Kind, payload json.RawMessage, writtenAt time.Time) error {
	if _, ok := s.ttl[kind]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	s.mu.Lock()
	r, ok := s.table[key]
	if !ok {
		r = make(region)
		s.table[key] = r
	}
	r[kind] = Entry{Payload: append(json.RawMessage(nil), payload...), WrittenAt: writtenAt}
	evicted := s.enforceCapacityLocked()
	s.mu.Unlock()

	logging.Trace(s.logger, "Set", "key", key, "kind", kind, "written_at", writtenAt)
	s.notifyEvicted(evicted)
	s.persist()
	return nil
}

// Delete removes a region and all its entries.
func (s *Store) Delete(key regionkey.Key) {
	s.mu.Lock()
	_, ok := s.table[key]
	delete(s.table, key)
	s.mu.Unlock()

	if ok {
		s.persist()
	}
}

// Clear removes every region.
func (s *Store) Clear() {
	s.mu.Lock()
	s.table = make(map[regionkey.Key]region)
	s.mu.Unlock()

	s.persist()
}

// Len returns the number of resident regions, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.table)
}

// Keys returns the resident region keys in sorted order.
func (s *Store) Keys() []regionkey.Key {
	s.mu.Lock()
	keys := make([]regionkey.Key, 0, len(s.table))
	for k := range s.table {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Stats returns counts over the current table.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Regions:    len(s.table),
		MaxRegions: s.max,
		ByKind:     make(map[Kind]int),
		Evictions:  s.evictions,
	}
	now := s.now()
	for _, r := range s.table {
		for kind, e := range r {
			st.Entries++
			st.ByKind[kind]++
			if e.Expired(now, s.ttl[kind]) {
				st.Expired++
			}
			if st.Oldest.IsZero() || e.WrittenAt.Before(st.Oldest) {
				st.Oldest = e.WrittenAt
			}
			if e.WrittenAt.After(st.Newest) {
				st.Newest = e.WrittenAt
			}
		}
	}
	return st
}

// Sweep deletes expired entries, then regions left empty. It returns the
// number of entries removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	removed := 0
	now := s.now()
	for key, r := range s.table {
		for kind, e := range r {
			if e.Expired(now, s.ttl[kind]) {
				delete(r, kind)
				removed++
			}
		}
		if len(r) == 0 {
			delete(s.table, key)
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("Sweep removed expired entries", "count", removed)
		s.persist()
	}
	return removed
}

// Start runs Sweep every interval until ctx is done or Stop is called.
// A running loop is stopped first.
func (s *Store) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.stopSweep, s.sweepDone = cancel, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Stop ends the sweep loop and waits for an in-flight sweep, including its
// mirror write, to finish. It is a no-op when no loop is running.
func (s *Store) Stop() {
	s.mu.Lock()
	cancel, done := s.stopSweep, s.sweepDone
	s.stopSweep, s.sweepDone = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// enforceCapacityLocked evicts regions until the table fits. Must hold mu.
func (s *Store) enforceCapacityLocked() []regionkey.Key {
	var evicted []regionkey.Key
	for len(s.table) > s.max {
		victim := s.oldestLocked()
		delete(s.table, victim)
		s.evictions++
		evicted = append(evicted, victim)
	}
	return evicted
}

// oldestLocked returns the region whose newest entry is the oldest.
// Ties break on key order so eviction is deterministic.
func (s *Store) oldestLocked() regionkey.Key {
	var (
		victim regionkey.Key
		best   time.Time
		found  bool
	)
	for key, r := range s.table {
		newest := newestWrite(r)
		if !found || newest.Before(best) || (newest.Equal(best) && key < victim) {
			victim, best, found = key, newest, true
		}
	}
	return victim
}

func newestWrite(r region) time.Time {
	var t time.Time
	for _, e := range r {
		if e.WrittenAt.After(t) {
			t = e.WrittenAt
		}
	}
	return t
}

func (s *Store) notifyEvicted(keys []regionkey.Key) {
	for _, k := range keys {
		s.logger.Debug("Evicted region", "key", k)
		if s.onEvict != nil {
			s.onEvict(k)
		}
	}
}
