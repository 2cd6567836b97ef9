package stationcache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elSilveira/gaser/pkg/cache"
	"github.com/elSilveira/gaser/pkg/db"
	"github.com/elSilveira/gaser/pkg/model"
	"github.com/elSilveira/gaser/pkg/prefetch"
	"github.com/elSilveira/gaser/pkg/regionkey"
	"github.com/elSilveira/gaser/pkg/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeFetcher returns three stations north of the query point, at roughly
// 0.11 km, 0.55 km and 2.2 km.
type fakeFetcher struct {
	calls int32
	err   error
	clock *fakeClock
}

func (f *fakeFetcher) Fetch(ctx context.Context, q regionkey.Query) (model.Snapshot, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return model.Snapshot{}, f.err
	}
	var stations []model.Station
	for i, dLat := range []float64{0.001, 0.005, 0.02} {
		stations = append(stations, model.Station{
			ID:    fmt.Sprintf("%s-%d", regionkey.MustEncode(q), i),
			Name:  fmt.Sprintf("Posto %d", i),
			Brand: "Shell",
			City:  "São Paulo",
			State: "SP",
			Lat:   q.Lat + dLat,
			Lon:   q.Lon,
			Prices: map[model.FuelType]float64{
				model.FuelGasoline: 5.79,
				model.FuelEthanol:  3.99,
			},
			CollectedAt: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		})
	}
	return model.Snapshot{
		Stations:  stations,
		Metadata:  map[string]string{"source": "remote"},
		FetchedAt: f.clock.Now(),
	}, nil
}

func (f *fakeFetcher) Calls() int { return int(atomic.LoadInt32(&f.calls)) }

type harness struct {
	cache    *Cache
	volatile *cache.Store
	durable  *store.SQLiteStore
	fetcher  *fakeFetcher
	clock    *fakeClock
}

func newHarness(t *testing.T, withPrefetch bool) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	d, err := db.Init(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)

	volatile := cache.New(cache.Options{MaxRegions: 100, Now: clock.Now})
	durable := store.NewSQLiteStore(d, store.Options{Freshness: 24 * time.Hour, Now: clock.Now})
	fetcher := &fakeFetcher{clock: clock}

	opts := Options{
		Volatile: volatile,
		Durable:  durable,
		Fetcher:  fetcher,
		Now:      clock.Now,
	}
	if withPrefetch {
		opts.Prefetch = &prefetch.Options{Concurrency: 2}
	}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return &harness{cache: c, volatile: volatile, durable: durable, fetcher: fetcher, clock: clock}
}

func TestLookup_SecondQueryServedFromCache(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	q := Query{Query: regionkey.Coord(-23.5505, -46.6333, 1)}

	first, err := h.cache.Lookup(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, first.Source)
	require.Len(t, first.Snapshot.Stations, 2, "station 2.2 km away is outside the radius")

	second, err := h.cache.Lookup(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, SourceVolatile, second.Source)
	assert.Equal(t, 1, h.fetcher.Calls())
	assert.Equal(t, first.Snapshot.StationIDs(), second.Snapshot.StationIDs())

	// Quantised neighbor of the same query shares the key
	third, err := h.cache.Lookup(ctx, Query{Query: regionkey.Coord(-23.55051, -46.63331, 1)})
	require.NoError(t, err)
	assert.Equal(t, first.Key, third.Key)
	assert.Equal(t, 1, h.fetcher.Calls())
}

func TestLookup_DistanceAnnotation(t *testing.T) {
	h := newHarness(t, false)
	res, err := h.cache.Lookup(context.Background(), Query{Query: regionkey.Coord(-23.55, -46.63, 5)})
	require.NoError(t, err)

	stations := res.Snapshot.Stations
	require.Len(t, stations, 3)
	for i := 1; i < len(stations); i++ {
		assert.LessOrEqual(t, stations[i-1].DistanceKm, stations[i].DistanceKm)
	}
	assert.InDelta(t, 0.11, stations[0].DistanceKm, 0.001)
	assert.InDelta(t, 2.22, stations[2].DistanceKm, 0.01)

	limited, err := h.cache.Lookup(context.Background(), Query{Query: regionkey.Coord(-23.55, -46.63, 5), Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited.Snapshot.Stations, 1)
	assert.Equal(t, stations[0].ID, limited.Snapshot.Stations[0].ID)
}

func TestLookup_FetchFailureServesSynthetic(t *testing.T) {
	h := newHarness(t, false)
	h.fetcher.err = errors.New("backend offline")
	ctx := context.Background()

	res, err := h.cache.Lookup(ctx, Query{Query: regionkey.Coord(-23.55, -46.63, 5)})
	require.NoError(t, err)
	assert.Equal(t, SourceSynthetic, res.Source)
	assert.True(t, res.Snapshot.Synthetic)
	assert.NotEmpty(t, res.Snapshot.Stations)

	// Nothing was committed to either tier
	assert.Equal(t, 0, h.volatile.Len())
	region, err := h.durable.GetRegion(ctx, res.Key.String())
	require.NoError(t, err)
	assert.False(t, region.Found)

	stats := h.cache.Stats(ctx)
	assert.Equal(t, int64(1), stats.Tiers["remote"].Failures)
}

func TestResolve_DurablePromotionKeepsAge(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	q := Query{Query: regionkey.Coord(-23.55, -46.63, 5)}
	key := regionkey.MustEncode(q.Query)
	fetchedAt := h.clock.Now()

	snap, err := h.fetcher.Fetch(ctx, q.Query)
	require.NoError(t, err)
	require.NoError(t, h.cache.Commit(ctx, key, "", snap))

	// Simulate a restart without a mirror
	h.volatile.Clear()
	h.clock.Advance(20 * time.Hour)

	res, err := h.cache.Resolve(ctx, q)
	require.NoError(t, err)
	assert.False(t, res.FetchRequired)
	assert.Equal(t, SourceDurable, res.Source)
	assert.Len(t, res.Snapshot.Stations, 3)

	e, ok := h.volatile.Get(key, cache.KindPrices)
	require.True(t, ok, "durable hit should be promoted")
	assert.True(t, e.WrittenAt.Equal(fetchedAt), "promoted entry keeps the original fetch time")

	res, err = h.cache.Resolve(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, SourceVolatile, res.Source)

	// 25h after the fetch both tiers have expired
	h.clock.Advance(5 * time.Hour)
	res, err = h.cache.Resolve(ctx, q)
	require.NoError(t, err)
	assert.True(t, res.FetchRequired)
	assert.True(t, res.Stale)
	assert.Empty(t, res.Snapshot.Stations)
}

func TestResolve_KindProjections(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	q := regionkey.Text("sao paulo shell")

	_, err := h.cache.Lookup(ctx, Query{Query: q})
	require.NoError(t, err)

	prices, err := h.cache.Resolve(ctx, Query{Query: q, Kind: cache.KindPrices})
	require.NoError(t, err)
	require.Equal(t, SourceVolatile, prices.Source)
	require.Len(t, prices.Snapshot.Stations, 3)
	p, ok := prices.Snapshot.Stations[0].Price(model.FuelGasoline)
	assert.True(t, ok)
	assert.Equal(t, 5.79, p)
	assert.Empty(t, prices.Snapshot.Stations[0].Name)

	basic, err := h.cache.Resolve(ctx, Query{Query: q, Kind: cache.KindBasicInfo})
	require.NoError(t, err)
	assert.Equal(t, "Posto 0", basic.Snapshot.Stations[0].Name)
	assert.Empty(t, basic.Snapshot.Stations[0].Prices)

	// After a day prices are gone but basic info stays
	h.clock.Advance(25 * time.Hour)
	prices, err = h.cache.Resolve(ctx, Query{Query: q, Kind: cache.KindPrices})
	require.NoError(t, err)
	assert.True(t, prices.FetchRequired)

	basic, err = h.cache.Resolve(ctx, Query{Query: q, Kind: cache.KindBasicInfo})
	require.NoError(t, err)
	assert.Equal(t, SourceVolatile, basic.Source)
}

func TestResolve_PartialVolatileFallsBackToDurable(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	q := regionkey.ID("st-1")
	key := regionkey.MustEncode(q)

	snap, err := h.fetcher.Fetch(ctx, regionkey.Coord(-23.55, -46.63, 1))
	require.NoError(t, err)
	require.NoError(t, h.cache.Commit(ctx, key, cache.KindPrices, snap))

	res, err := h.cache.Resolve(ctx, Query{Query: q})
	require.NoError(t, err)
	assert.Equal(t, SourceDurable, res.Source, "prices alone cannot answer an aggregate query")
	assert.Equal(t, "Posto 0", res.Snapshot.Stations[0].Name)
}

func TestResolve_Malformed(t *testing.T) {
	h := newHarness(t, false)
	tests := []struct {
		name string
		q    Query
	}{
		{"latitude out of range", Query{Query: regionkey.Coord(91, 0, 5)}},
		{"zero radius", Query{Query: regionkey.Coord(-23.5, -46.6, 0)}},
		{"empty text", Query{Query: regionkey.Text("   ")}},
		{"empty id", Query{Query: regionkey.ID("")}},
		{"unknown kind", Query{Query: regionkey.Text("x"), Kind: "weather"}},
		{"negative limit", Query{Query: regionkey.Text("x"), Limit: -1}},
		{"radius over cap", Query{Query: regionkey.Coord(-23.5, -46.6, 5000)}},
		{"unknown fuel", Query{Query: regionkey.Text("x"), Fuel: "kerosene"}},
		{"price sort without fuel", Query{Query: regionkey.Text("x"), SortBy: SortPrice}},
		{"unknown sort", Query{Query: regionkey.Text("x"), SortBy: "rating"}},
		{"fuel on coordinates kind", Query{Query: regionkey.Text("x"), Kind: cache.KindCoordinates, Fuel: model.FuelDiesel}},
		{"brand on prices kind", Query{Query: regionkey.Text("x"), Kind: cache.KindPrices, Brand: "Shell"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.cache.Resolve(context.Background(), tt.q)
			assert.ErrorIs(t, err, ErrMalformedQuery)
			_, err = h.cache.Lookup(context.Background(), tt.q)
			assert.ErrorIs(t, err, ErrMalformedQuery)
		})
	}
	assert.Equal(t, 0, h.fetcher.Calls())
}

type brokenStore struct {
	*store.SQLiteStore
}

func (brokenStore) GetRegion(ctx context.Context, key string) (store.RegionResult, error) {
	return store.RegionResult{}, fmt.Errorf("%w: disk gone", store.ErrUnavailable)
}

func TestResolve_DurableFailureIsMiss(t *testing.T) {
	h := newHarness(t, false)
	c, err := New(Options{Volatile: h.volatile, Durable: brokenStore{h.durable}, Now: h.clock.Now})
	require.NoError(t, err)

	res, err := c.Resolve(context.Background(), Query{Query: regionkey.Text("campinas")})
	require.NoError(t, err)
	assert.True(t, res.FetchRequired)
	assert.Equal(t, int64(1), c.Tracker().Snapshot()["durable"].Failures)
}

func TestCommit_RefusesSynthetic(t *testing.T) {
	h := newHarness(t, false)
	err := h.cache.Commit(context.Background(), "text:0000000000000001", "", model.Snapshot{Synthetic: true})
	assert.ErrorIs(t, err, ErrSynthetic)
	assert.Equal(t, 0, h.volatile.Len())
}

func TestInvalidateAll(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	q := Query{Query: regionkey.Coord(-23.55, -46.63, 5)}

	_, err := h.cache.Lookup(ctx, q)
	require.NoError(t, err)
	require.NoError(t, h.cache.InvalidateAll(ctx))

	stats := h.cache.Stats(ctx)
	assert.Equal(t, 0, stats.Volatile.Regions)
	require.NotNil(t, stats.Durable)
	assert.Equal(t, 0, stats.Durable.RegionCount)
	assert.Equal(t, 0, stats.Durable.StationCount)

	res, err := h.cache.Resolve(ctx, q)
	require.NoError(t, err)
	assert.True(t, res.FetchRequired)
}

func TestLookup_PrefetchesNeighbors(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.cache.Lookup(ctx, Query{Query: regionkey.Coord(-23.55, -46.63, 2)})
	require.NoError(t, err)
	h.cache.WaitPrefetch()

	assert.Equal(t, 5, h.fetcher.Calls())
	assert.Equal(t, 5, h.volatile.Len())

	// The northern neighbor is now a volatile hit
	res, err := h.cache.Resolve(ctx, Query{Query: regionkey.Coord(-23.53, -46.63, 2)})
	require.NoError(t, err)
	assert.Equal(t, SourceVolatile, res.Source)

	// Text lookups never prefetch
	_, err = h.cache.Lookup(ctx, Query{Query: regionkey.Text("campinas")})
	require.NoError(t, err)
	h.cache.WaitPrefetch()
	assert.Equal(t, 6, h.fetcher.Calls())
}

func TestClose_StopsSweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	d, err := db.Init(filepath.Join(t.TempDir(), "close.db"))
	require.NoError(t, err)
	volatile := cache.New(cache.Options{MaxRegions: 10, Now: clock.Now})

	c, err := New(Options{
		Volatile:      volatile,
		Durable:       store.NewSQLiteStore(d, store.Options{Now: clock.Now}),
		Fetcher:       &fakeFetcher{clock: clock},
		SweepInterval: 2 * time.Millisecond,
		Now:           clock.Now,
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	_, err = c.Lookup(context.Background(), Query{Query: regionkey.Text("campinas")})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	// Everything is expired, but the loop is gone
	clock.Advance(60 * 24 * time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, volatile.Len())
}
