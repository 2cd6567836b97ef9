package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/elSilveira/gaser/pkg/model"
	"github.com/elSilveira/gaser/pkg/store"
)

func runExport(ctx context.Context, path string, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	out := fs.String("out", "stations.geojson", "Output file ('-' for stdout)")
	includeStale := fs.Bool("stale", false, "Include regions past their freshness window")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := setup(ctx, path, false)
	if err != nil {
		return err
	}
	defer a.cleanup()

	fc, err := exportStations(ctx, a.durable, *includeStale)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal GeoJSON: %w", err)
	}
	if *out == "-" {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	slog.Info("Exported stations", "count", len(fc.Features), "path", *out)
	return nil
}

// exportStations collects every station referenced by a cached region into
// one point feature each, in region order (newest region first).
func exportStations(ctx context.Context, s store.RegionStore, includeStale bool) (*geojson.FeatureCollection, error) {
	regions, err := s.ListRegions(ctx)
	if err != nil {
		return nil, err
	}

	fc := geojson.NewFeatureCollection()
	seen := make(map[string]bool)
	for _, r := range regions {
		res, err := s.GetRegion(ctx, r.Key)
		if err != nil {
			return nil, err
		}
		if !res.Found || (res.IsExpired && !includeStale) {
			continue
		}
		for i := range res.Stations {
			st := &res.Stations[i]
			if seen[st.ID] {
				continue
			}
			seen[st.ID] = true
			fc.Append(stationFeature(st, r.Key))
		}
	}
	return fc, nil
}

func stationFeature(st *model.Station, region string) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{st.Lon, st.Lat})
	f.ID = st.ID
	f.Properties["name"] = st.Name
	f.Properties["brand"] = st.Brand
	f.Properties["address"] = st.Address
	f.Properties["neighborhood"] = st.Neighborhood
	f.Properties["city"] = st.City
	f.Properties["state"] = st.State
	f.Properties["region"] = region
	for _, fuel := range model.FuelTypes {
		if p, ok := st.Price(fuel); ok {
			f.Properties["price_"+string(fuel)] = p
		}
	}
	if !st.CollectedAt.IsZero() {
		f.Properties["collected_at"] = st.CollectedAt.Format(time.DateOnly)
	}
	return f
}
