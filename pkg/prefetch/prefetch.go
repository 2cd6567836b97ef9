// Package prefetch populates the regions around a coordinate query in the
// background so panning the map finds them already cached.
package prefetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/elSilveira/gaser/pkg/config"
	"github.com/elSilveira/gaser/pkg/geo"
	"github.com/elSilveira/gaser/pkg/metrics"
	"github.com/elSilveira/gaser/pkg/regionkey"
	"github.com/elSilveira/gaser/pkg/tracker"
)

// DefaultOffsetDeg is the neighbor distance in degrees (~2.2 km).
const DefaultOffsetDeg = 0.02

// Populate resolves and caches a single region.
type Populate func(ctx context.Context, q regionkey.Query) error

// Resident reports whether a region is already cached.
type Resident interface {
	Has(key regionkey.Key) bool
}

// Options configures a Prefetcher.
type Options struct {
	OffsetDeg   float64
	Concurrency int
	Delay       time.Duration
	Tracker     *tracker.Tracker
}

// OptionsFromConfig converts the prefetch settings.
func OptionsFromConfig(c *config.PrefetchConfig, t *tracker.Tracker) Options {
	return Options{
		OffsetDeg:   c.OffsetDeg,
		Concurrency: c.Concurrency,
		Delay:       c.Delay.Std(),
		Tracker:     t,
	}
}

// Prefetcher schedules neighbor population. Schedule never blocks on I/O.
type Prefetcher struct {
	resident Resident
	populate Populate
	offset   float64
	delay    time.Duration
	sem      *semaphore.Weighted
	tracker  *tracker.Tracker
	logger   *slog.Logger

	inflightMu sync.Mutex
	inflight   map[regionkey.Key]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Prefetcher. Close stops pending work.
func New(resident Resident, populate Populate, opts Options) *Prefetcher {
	if opts.OffsetDeg <= 0 {
		opts.OffsetDeg = DefaultOffsetDeg
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Prefetcher{
		resident: resident,
		populate: populate,
		offset:   opts.OffsetDeg,
		delay:    opts.Delay,
		sem:      semaphore.NewWeighted(int64(opts.Concurrency)),
		tracker:  opts.Tracker,
		logger:   slog.With("component", "prefetch"),
		inflight: make(map[regionkey.Key]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Neighbors returns the queries one offset north, south, east and west of q,
// keeping its radius. Non-coordinate queries have no neighbors.
func (p *Prefetcher) Neighbors(q regionkey.Query) []regionkey.Query {
	if q.Type != regionkey.TypeCoord {
		return nil
	}
	pts := geo.CardinalNeighbors(q.Point(), p.offset)
	out := make([]regionkey.Query, 0, len(pts))
	for _, pt := range pts {
		out = append(out, regionkey.Coord(pt.Lat, pt.Lon, q.Radius))
	}
	return out
}

// Schedule starts background population of q's neighbors that are neither
// cached nor already in flight. It returns immediately.
func (p *Prefetcher) Schedule(q regionkey.Query) {
	if p.ctx.Err() != nil {
		return
	}
	for _, n := range p.Neighbors(q) {
		key, err := regionkey.Encode(n)
		if err != nil {
			continue
		}
		if p.resident.Has(key) {
			metrics.PrefetchTotal.WithLabelValues("resident").Inc()
			continue
		}
		if !p.claim(key) {
			metrics.PrefetchTotal.WithLabelValues("inflight").Inc()
			continue
		}

		p.wg.Add(1)
		go p.run(key, n)
	}
}

// Pending returns the number of neighbors currently in flight.
func (p *Prefetcher) Pending() int {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	return len(p.inflight)
}

// Wait blocks until every scheduled prefetch has finished.
func (p *Prefetcher) Wait() {
	p.wg.Wait()
}

// Close cancels pending prefetches and waits for running ones.
func (p *Prefetcher) Close() {
	p.cancel()
	p.wg.Wait()
}

func (p *Prefetcher) claim(key regionkey.Key) bool {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	if p.inflight[key] {
		return false
	}
	p.inflight[key] = true
	return true
}

func (p *Prefetcher) release(key regionkey.Key) {
	p.inflightMu.Lock()
	delete(p.inflight, key)
	p.inflightMu.Unlock()
}

func (p *Prefetcher) run(key regionkey.Key, q regionkey.Query) {
	defer p.wg.Done()
	defer p.release(key)

	if p.delay > 0 {
		t := time.NewTimer(p.delay)
		select {
		case <-t.C:
		case <-p.ctx.Done():
			t.Stop()
			return
		}
	}
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return
	}
	defer p.sem.Release(1)

	// Another caller may have filled it while we waited
	if p.resident.Has(key) {
		metrics.PrefetchTotal.WithLabelValues("resident").Inc()
		return
	}

	if err := p.safePopulate(q); err != nil {
		p.logger.Debug("Prefetch failed", "key", key, "error", err)
		metrics.PrefetchTotal.WithLabelValues("error").Inc()
		if p.tracker != nil {
			p.tracker.TrackFailure(tracker.TierPrefetch)
		}
		return
	}
	metrics.PrefetchTotal.WithLabelValues("ok").Inc()
	if p.tracker != nil {
		p.tracker.TrackWrite(tracker.TierPrefetch)
	}
}

func (p *Prefetcher) safePopulate(q regionkey.Query) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.populate(p.ctx, q)
}
