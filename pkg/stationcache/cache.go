// Package stationcache is the single entry point for station lookups. It
// routes a query through the volatile tier, then the durable tier, and tells
// the caller when a network fetch is required. Committed results are written
// through both tiers.
package stationcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/elSilveira/gaser/pkg/cache"
	"github.com/elSilveira/gaser/pkg/geo"
	"github.com/elSilveira/gaser/pkg/logging"
	"github.com/elSilveira/gaser/pkg/metrics"
	"github.com/elSilveira/gaser/pkg/model"
	"github.com/elSilveira/gaser/pkg/prefetch"
	"github.com/elSilveira/gaser/pkg/regionkey"
	"github.com/elSilveira/gaser/pkg/sample"
	"github.com/elSilveira/gaser/pkg/store"
	"github.com/elSilveira/gaser/pkg/tracker"
)

// Result sources.
const (
	SourceVolatile  = tracker.TierVolatile
	SourceDurable   = tracker.TierDurable
	SourceRemote    = tracker.TierRemote
	SourceSynthetic = tracker.TierSynthetic
)

// Query limits.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Fetcher retrieves fresh data for a query from the network.
type Fetcher interface {
	Fetch(ctx context.Context, q regionkey.Query) (model.Snapshot, error)
}

// Result orderings.
const (
	SortDistance = "distance"
	SortPrice    = "price"
)

// Query is a station lookup for one data kind. An empty Kind asks for the
// full records, assembled from every cached kind.
//
// Fuel, Brand and SortBy refine the cached result without changing its key.
// Fuel drops stations that do not sell it; Brand matches case-insensitively.
// SortPrice orders by the price of Fuel; otherwise coordinate results are
// ordered by distance.
type Query struct {
	regionkey.Query
	Kind   cache.Kind
	Limit  int
	Fuel   model.FuelType
	Brand  string
	SortBy string
}

// Resolution is the outcome of Resolve. FetchRequired is set on a full miss
// or when the durable copy is stale; Snapshot is empty in that case.
type Resolution struct {
	Key           regionkey.Key  `json:"key"`
	Kind          cache.Kind     `json:"kind,omitempty"`
	Snapshot      model.Snapshot `json:"snapshot"`
	Source        string         `json:"source,omitempty"`
	FetchRequired bool           `json:"fetch_required"`
	Stale         bool           `json:"stale,omitempty"`
}

// Options configures a Cache.
type Options struct {
	Volatile *cache.Store
	Durable  store.Store
	Fetcher  Fetcher
	Tracker  *tracker.Tracker

	// Prefetch enables neighbor population for coordinate lookups.
	Prefetch      *prefetch.Options
	SweepInterval time.Duration
	DefaultLimit  int
	MaxLimit      int
	SampleCount   int
	Now           func() time.Time
}

// Stats summarises both tiers.
type Stats struct {
	Volatile        cache.Stats                  `json:"volatile"`
	Durable         *store.StoreStats            `json:"durable,omitempty"`
	DurableError    string                       `json:"durable_error,omitempty"`
	Tiers           map[string]tracker.TierStats `json:"tiers"`
	PrefetchPending int                          `json:"prefetch_pending"`
}

// Cache is the two-tier station cache.
type Cache struct {
	volatile *cache.Store
	durable  store.Store
	fetcher  Fetcher
	tracker  *tracker.Tracker
	prefetch *prefetch.Prefetcher

	sweepInterval time.Duration
	defaultLimit  int
	maxLimit      int
	sampleCount   int
	now           func() time.Time

	tracer trace.Tracer
	logger *slog.Logger
}

// New creates a Cache. Volatile and Durable are required.
func New(opts Options) (*Cache, error) {
	if opts.Volatile == nil || opts.Durable == nil {
		return nil, errors.New("stationcache: volatile and durable stores are required")
	}
	if opts.Tracker == nil {
		opts.Tracker = tracker.New()
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = MaxLimit
	}
	if opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = opts.MaxLimit
	}
	if opts.SampleCount <= 0 {
		opts.SampleCount = sample.DefaultCount
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Cache{
		volatile:      opts.Volatile,
		durable:       opts.Durable,
		fetcher:       opts.Fetcher,
		tracker:       opts.Tracker,
		sweepInterval: opts.SweepInterval,
		defaultLimit:  opts.DefaultLimit,
		maxLimit:      opts.MaxLimit,
		sampleCount:   opts.SampleCount,
		now:           opts.Now,
		tracer:        otel.Tracer("gaser/stationcache"),
		logger:        slog.With("component", "stationcache"),
	}
	if opts.Prefetch != nil && opts.Fetcher != nil {
		po := *opts.Prefetch
		if po.Tracker == nil {
			po.Tracker = opts.Tracker
		}
		c.prefetch = prefetch.New(opts.Volatile, c.populate, po)
	}
	return c, nil
}

// Start restores the volatile mirror and starts the sweep loop.
func (c *Cache) Start(ctx context.Context) error {
	n, err := c.volatile.Restore(ctx)
	if err != nil {
		c.logger.Warn("Volatile cache restore failed, starting empty", "error", err)
	} else if n > 0 {
		c.logger.Info("Restored volatile cache", "regions", n)
	}
	c.volatile.Start(ctx, c.sweepInterval)
	return nil
}

// Close stops prefetching and the sweep loop, then releases the durable
// store. The volatile mirror is left open for its owner to close.
func (c *Cache) Close() error {
	if c.prefetch != nil {
		c.prefetch.Close()
	}
	c.volatile.Stop()
	return c.durable.Close()
}

// Tracker returns the tier counters.
func (c *Cache) Tracker() *tracker.Tracker { return c.tracker }

// Resolve looks q up in the volatile tier, then the durable tier. A fresh
// durable hit is promoted into the volatile tier. Errors are returned only for
// malformed input; storage failures are logged and reported as a miss.
func (c *Cache) Resolve(ctx context.Context, q Query) (Resolution, error) {
	start := time.Now()
	defer func() {
		metrics.ResolveDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	key, err := c.validate(&q)
	if err != nil {
		return Resolution{}, err
	}

	ctx, span := c.tracer.Start(ctx, "stationcache.Resolve", trace.WithAttributes(
		attribute.String("cache.key", key.String()),
		attribute.String("cache.kind", string(q.Kind)),
	))
	defer span.End()

	res := c.resolve(ctx, key, q)
	span.SetAttributes(
		attribute.String("cache.source", res.Source),
		attribute.Bool("cache.fetch_required", res.FetchRequired),
	)
	return res, nil
}

func (c *Cache) resolve(ctx context.Context, key regionkey.Key, q Query) Resolution {
	res := Resolution{Key: key, Kind: q.Kind}

	if snap, ok := c.fromVolatile(key, q.Kind); ok {
		c.tracker.TrackHit(tracker.TierVolatile)
		logging.Trace(c.logger, "Volatile hit", "key", key, "kind", q.Kind)
		res.Source = SourceVolatile
		res.Snapshot = c.finalize(q, snap)
		return res
	}
	c.tracker.TrackMiss(tracker.TierVolatile)

	region, err := c.durable.GetRegion(ctx, key.String())
	switch {
	case err != nil:
		c.logger.Warn("Durable lookup failed, treating as miss", "key", key, "error", err)
		c.tracker.TrackFailure(tracker.TierDurable)
		res.FetchRequired = true
		return res
	case !region.Found:
		c.tracker.TrackMiss(tracker.TierDurable)
		res.FetchRequired = true
		return res
	case region.IsExpired:
		c.tracker.TrackStale(tracker.TierDurable)
		logging.Trace(c.logger, "Durable region stale", "key", key, "updated_at", region.UpdatedAt)
		res.FetchRequired = true
		res.Stale = true
		return res
	}
	c.tracker.TrackHit(tracker.TierDurable)

	snap := model.Snapshot{
		Stations:  region.Stations,
		Metadata:  region.Metadata,
		FetchedAt: region.UpdatedAt,
	}
	c.promote(key, q.Kind, &snap)

	v, err := view(q.Kind, snap)
	if err != nil {
		c.logger.Warn("Durable region unreadable, treating as miss", "key", key, "error", err)
		res.FetchRequired = true
		return res
	}
	res.Source = SourceDurable
	res.Snapshot = c.finalize(q, v)
	return res
}

func (c *Cache) fromVolatile(key regionkey.Key, kind cache.Kind) (model.Snapshot, bool) {
	if kind == "" {
		parts, ok := c.volatile.GetAll(key)
		if !ok || !complete(parts) {
			return model.Snapshot{}, false
		}
		snap, err := merge(parts)
		if err != nil {
			c.logger.Warn("Dropping unreadable volatile entry", "key", key, "error", err)
			c.volatile.Delete(key)
			return model.Snapshot{}, false
		}
		return snap, true
	}

	e, ok := c.volatile.Get(key, kind)
	if !ok {
		return model.Snapshot{}, false
	}
	snap, err := merge(map[cache.Kind]json.RawMessage{kind: e.Payload})
	if err != nil {
		c.logger.Warn("Dropping unreadable volatile entry", "key", key, "kind", kind, "error", err)
		c.volatile.Delete(key)
		return model.Snapshot{}, false
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = e.WrittenAt
	}
	return snap, true
}

// promote writes a durable region into the volatile tier, keeping the age of
// the original fetch so the per-kind TTL still counts from it.
func (c *Cache) promote(key regionkey.Key, kind cache.Kind, snap *model.Snapshot) {
	for _, k := range kindsFor(kind) {
		payload, err := project(k, snap)
		if err == nil {
			err = c.volatile.SetAt(key, k, payload, snap.FetchedAt)
		}
		if err != nil {
			c.logger.Warn("Promotion to volatile cache failed", "key", key, "kind", k, "error", err)
		}
	}
}

// Commit stores a fetched snapshot: the projection for kind goes to the
// volatile tier (every kind when kind is empty) and the full records go to
// the durable tier. Synthetic snapshots are refused.
func (c *Cache) Commit(ctx context.Context, key regionkey.Key, kind cache.Kind, snap model.Snapshot) error {
	if snap.Synthetic {
		return ErrSynthetic
	}
	if kind != "" && !kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedQuery, kind)
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = c.now()
	}

	ctx, span := c.tracer.Start(ctx, "stationcache.Commit", trace.WithAttributes(
		attribute.String("cache.key", key.String()),
		attribute.Int("cache.stations", len(snap.Stations)),
	))
	defer span.End()

	// Distances belong to the query, not the station
	stations := make([]model.Station, len(snap.Stations))
	for i, s := range snap.Stations {
		s.DistanceKm = 0
		stations[i] = s
	}
	snap.Stations = stations

	for _, k := range kindsFor(kind) {
		payload, err := project(k, &snap)
		if err != nil {
			return err
		}
		if err := c.volatile.SetAt(key, k, payload, snap.FetchedAt); err != nil {
			return err
		}
	}

	if err := c.durable.SaveRegionAt(ctx, key.String(), snap.Stations, snap.Metadata, snap.FetchedAt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "durable write failed")
		c.tracker.TrackFailure(tracker.TierDurable)
		return fmt.Errorf("commit %s: %w", key, err)
	}
	c.tracker.TrackWrite(tracker.TierDurable)
	c.tracker.TrackWrite(tracker.TierVolatile)
	logging.Trace(c.logger, "Committed", "key", key, "kind", kind, "stations", len(snap.Stations))
	return nil
}

// Lookup resolves q and, when a fetch is required, fetches and commits the
// result. If the fetch fails a synthetic sample is returned and nothing is
// stored. Coordinate lookups schedule neighbor prefetch.
func (c *Cache) Lookup(ctx context.Context, q Query) (Resolution, error) {
	res, err := c.Resolve(ctx, q)
	if err != nil {
		return Resolution{}, err
	}
	if !res.FetchRequired {
		c.SchedulePrefetch(q.Query)
		return res, nil
	}

	// Resolve worked on a copy
	c.normalize(&q)

	var snap model.Snapshot
	if c.fetcher == nil {
		err = errors.New("no fetcher configured")
	} else {
		snap, err = c.fetcher.Fetch(ctx, q.Query)
	}
	if err != nil {
		c.tracker.TrackFailure(tracker.TierRemote)
		c.logger.Warn("Fetch failed, serving synthetic data", "key", res.Key, "error", err)
		synth := c.synthesize(q.Query)
		c.tracker.TrackWrite(tracker.TierSynthetic)
		v, _ := view(q.Kind, synth)
		return Resolution{
			Key:      res.Key,
			Kind:     q.Kind,
			Snapshot: c.finalize(q, v),
			Source:   SourceSynthetic,
		}, nil
	}
	c.tracker.TrackWrite(tracker.TierRemote)

	snap.Synthetic = false
	if err := c.Commit(ctx, res.Key, q.Kind, snap); err != nil {
		c.logger.Warn("Commit failed", "key", res.Key, "error", err)
	}

	v, err := view(q.Kind, snap)
	if err != nil {
		return Resolution{}, err
	}
	c.SchedulePrefetch(q.Query)
	return Resolution{
		Key:      res.Key,
		Kind:     q.Kind,
		Snapshot: c.finalize(q, v),
		Source:   SourceRemote,
	}, nil
}

// SchedulePrefetch queues population of the regions around a coordinate
// query. It is a no-op for other query types or when prefetch is disabled.
func (c *Cache) SchedulePrefetch(q regionkey.Query) {
	if c.prefetch == nil || q.Type != regionkey.TypeCoord {
		return
	}
	c.prefetch.Schedule(q)
}

// WaitPrefetch blocks until scheduled prefetches have finished.
func (c *Cache) WaitPrefetch() {
	if c.prefetch != nil {
		c.prefetch.Wait()
	}
}

// populate fills one neighbor region with full records.
func (c *Cache) populate(ctx context.Context, q regionkey.Query) error {
	res, err := c.Resolve(ctx, Query{Query: q})
	if err != nil || !res.FetchRequired {
		return err
	}
	snap, err := c.fetcher.Fetch(ctx, q)
	if err != nil {
		c.tracker.TrackFailure(tracker.TierRemote)
		return err
	}
	c.tracker.TrackWrite(tracker.TierRemote)
	return c.Commit(ctx, res.Key, "", snap)
}

// InvalidateAll empties both tiers.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	c.volatile.Clear()
	if err := c.durable.Clear(ctx); err != nil {
		return err
	}
	c.logger.Info("Cache invalidated")
	return nil
}

// Stats returns a summary of both tiers. A durable failure is reported in
// DurableError rather than failing the call.
func (c *Cache) Stats(ctx context.Context) Stats {
	st := Stats{
		Volatile: c.volatile.Stats(),
		Tiers:    c.tracker.Snapshot(),
	}
	if ds, err := c.durable.Stats(ctx); err != nil {
		st.DurableError = err.Error()
	} else {
		st.Durable = &ds
	}
	if c.prefetch != nil {
		st.PrefetchPending = c.prefetch.Pending()
	}
	return st
}

func (c *Cache) validate(q *Query) (regionkey.Key, error) {
	if q.Kind != "" && !q.Kind.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrMalformedQuery, q.Kind)
	}
	if q.Limit < 0 {
		return "", fmt.Errorf("%w: negative limit %d", ErrMalformedQuery, q.Limit)
	}
	if q.Fuel != "" {
		if !q.Fuel.Valid() {
			return "", fmt.Errorf("%w: unknown fuel %q", ErrMalformedQuery, q.Fuel)
		}
		if !hasPrices(q.Kind) {
			return "", fmt.Errorf("%w: kind %q carries no prices to filter by fuel", ErrMalformedQuery, q.Kind)
		}
	}
	if q.Brand != "" && !hasBasicInfo(q.Kind) {
		return "", fmt.Errorf("%w: kind %q carries no brand", ErrMalformedQuery, q.Kind)
	}
	switch q.SortBy {
	case "", SortDistance:
	case SortPrice:
		if q.Fuel == "" {
			return "", fmt.Errorf("%w: price sort needs a fuel", ErrMalformedQuery)
		}
	default:
		return "", fmt.Errorf("%w: unknown sort %q", ErrMalformedQuery, q.SortBy)
	}
	c.normalize(q)
	return regionkey.Encode(q.Query)
}

// normalize applies the limit default and cap.
func (c *Cache) normalize(q *Query) {
	if q.Limit <= 0 {
		q.Limit = c.defaultLimit
	}
	if q.Limit > c.maxLimit {
		q.Limit = c.maxLimit
	}
}

// finalize applies the fuel and brand filters, annotates distances for
// coordinate queries, drops stations outside the radius, orders the result
// and applies the limit.
func (c *Cache) finalize(q Query, snap model.Snapshot) model.Snapshot {
	withDistance := q.Type == regionkey.TypeCoord && hasCoordinates(q.Kind)
	center := q.Point()

	stations := make([]model.Station, 0, len(snap.Stations))
	for _, s := range snap.Stations {
		if q.Fuel != "" {
			if _, ok := s.Price(q.Fuel); !ok {
				continue
			}
		}
		if q.Brand != "" && !strings.EqualFold(strings.TrimSpace(s.Brand), strings.TrimSpace(q.Brand)) {
			continue
		}
		if withDistance {
			d := geo.DistanceKm(center, geo.Point{Lat: s.Lat, Lon: s.Lon})
			if d > q.Radius {
				continue
			}
			s.DistanceKm = math.Round(d*100) / 100
		}
		stations = append(stations, s)
	}

	byDistance := func(i, j int) bool {
		if stations[i].DistanceKm != stations[j].DistanceKm {
			return stations[i].DistanceKm < stations[j].DistanceKm
		}
		return stations[i].ID < stations[j].ID
	}
	switch {
	case q.SortBy == SortPrice:
		sort.SliceStable(stations, func(i, j int) bool {
			pi, pj := stations[i].Prices[q.Fuel], stations[j].Prices[q.Fuel]
			if pi != pj {
				return pi < pj
			}
			return byDistance(i, j)
		})
	case withDistance:
		sort.SliceStable(stations, byDistance)
	}

	if q.Limit > 0 && len(stations) > q.Limit {
		stations = stations[:q.Limit]
	}
	snap.Stations = stations
	return snap
}

func (c *Cache) synthesize(q regionkey.Query) model.Snapshot {
	now := c.now()
	switch q.Type {
	case regionkey.TypeCoord:
		return sample.Generate(q.Point(), q.Radius, c.sampleCount, now)
	case regionkey.TypeText:
		return sample.GenerateText(q.Text, c.sampleCount, now)
	default:
		return model.Snapshot{
			FetchedAt: now,
			Metadata:  map[string]string{sample.MetaSynthetic: "true"},
			Synthetic: true,
		}
	}
}

// kindsFor lists the kinds written for a commit of kind.
func kindsFor(kind cache.Kind) []cache.Kind {
	if kind == "" {
		return cache.Kinds
	}
	return []cache.Kind{kind}
}
