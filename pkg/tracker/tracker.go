package tracker

import (
	"sync"
	"sync/atomic"

	"github.com/elSilveira/gaser/pkg/metrics"
)

// Tiers and sources tracked by the cache.
const (
	TierVolatile  = "volatile"
	TierDurable   = "durable"
	TierRemote    = "remote"
	TierSynthetic = "synthetic"
	TierPrefetch  = "prefetch"
)

// Tracker tracks usage statistics per tier and mirrors them to Prometheus.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*TierStats
}

// TierStats holds counters for one tier.
// Fields are accessed atomically.
type TierStats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Stale    int64 `json:"stale"`
	Writes   int64 `json:"writes"`
	Failures int64 `json:"failures"`
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*TierStats),
	}
}

// getStats returns the stats object for a tier, creating it if needed.
func (t *Tracker) getStats(tier string) *TierStats {
	t.mu.RLock()
	s, ok := t.stats[tier]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Double check
	if s, ok = t.stats[tier]; ok {
		return s
	}
	s = &TierStats{}
	t.stats[tier] = s
	return s
}

// TrackHit increments the hit counter.
func (t *Tracker) TrackHit(tier string) {
	atomic.AddInt64(&t.getStats(tier).Hits, 1)
	metrics.LookupsTotal.WithLabelValues(tier, "hit").Inc()
}

func (t *Tracker) TrackMiss(tier string) {
	atomic.AddInt64(&t.getStats(tier).Misses, 1)
	metrics.LookupsTotal.WithLabelValues(tier, "miss").Inc()
}

// TrackStale counts a durable region found past its freshness window.
func (t *Tracker) TrackStale(tier string) {
	atomic.AddInt64(&t.getStats(tier).Stale, 1)
	metrics.LookupsTotal.WithLabelValues(tier, "stale").Inc()
}

func (t *Tracker) TrackWrite(tier string) {
	atomic.AddInt64(&t.getStats(tier).Writes, 1)
	if tier == TierRemote {
		metrics.FetchesTotal.WithLabelValues("success").Inc()
	}
}

func (t *Tracker) TrackFailure(tier string) {
	atomic.AddInt64(&t.getStats(tier).Failures, 1)
	if tier == TierRemote {
		metrics.FetchesTotal.WithLabelValues("failure").Inc()
	}
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]TierStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]TierStats)
	for k, v := range t.stats {
		result[k] = TierStats{
			Hits:     atomic.LoadInt64(&v.Hits),
			Misses:   atomic.LoadInt64(&v.Misses),
			Stale:    atomic.LoadInt64(&v.Stale),
			Writes:   atomic.LoadInt64(&v.Writes),
			Failures: atomic.LoadInt64(&v.Failures),
		}
	}
	return result
}

// Reset clears all counters. Prometheus counters are monotonic and keep counting.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.stats = make(map[string]*TierStats)
	t.mu.Unlock()
}
