package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/elSilveira/gaser/pkg/cache"
	"github.com/elSilveira/gaser/pkg/db/maintenance"
	"github.com/elSilveira/gaser/pkg/model"
	"github.com/elSilveira/gaser/pkg/regionkey"
	"github.com/elSilveira/gaser/pkg/stationcache"
)

func runQuery(ctx context.Context, path string, args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	lat := fs.Float64("lat", 0, "Latitude")
	lon := fs.Float64("lon", 0, "Longitude")
	radius := fs.Float64("radius", 0, "Radius in km (default from config)")
	text := fs.String("q", "", "Free-text search")
	id := fs.String("id", "", "Station id")
	kind := fs.String("kind", "", "Data kind: prices, basic_info, coordinates, snapshot (empty = full records)")
	limit := fs.Int("limit", 0, "Maximum number of stations")
	fuelName := fs.String("fuel", "", "Only stations selling this fuel: gasoline, ethanol, diesel, cng")
	brand := fs.String("brand", "", "Only stations of this brand")
	sortBy := fs.String("sort", "", "Order: distance or price (price needs -fuel)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	fuel, err := parseFuelFlag(*fuelName)
	if err != nil {
		return err
	}

	a, err := setup(ctx, path, false)
	if err != nil {
		return err
	}
	defer a.cleanup()

	q, err := buildQuery(fs, *lat, *lon, *radius, a.cfg.Query.DefaultRadius.Km(), *text, *id)
	if err != nil {
		return err
	}
	res, err := a.cache.Lookup(ctx, stationcache.Query{
		Query:  q,
		Kind:   cache.Kind(*kind),
		Limit:  *limit,
		Fuel:   fuel,
		Brand:  *brand,
		SortBy: *sortBy,
	})
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, res)
}

// buildQuery picks the query type from the flags that were set.
func buildQuery(fs *flag.FlagSet, lat, lon, radius, defaultRadius float64, text, id string) (regionkey.Query, error) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	switch {
	case id != "":
		return regionkey.ID(id), nil
	case text != "":
		return regionkey.Text(text), nil
	case set["lat"] && set["lon"]:
		if radius <= 0 {
			radius = defaultRadius
		}
		return regionkey.Coord(lat, lon, radius), nil
	}
	return regionkey.Query{}, fmt.Errorf("%w: one of -lat/-lon, -q or -id is required", regionkey.ErrMalformedQuery)
}

func parseFuelFlag(s string) (model.FuelType, error) {
	if s == "" {
		return "", nil
	}
	f, ok := model.ParseFuelType(s)
	if !ok {
		return "", fmt.Errorf("%w: unknown fuel %q", regionkey.ErrMalformedQuery, s)
	}
	return f, nil
}

func runStats(ctx context.Context, path string) error {
	a, err := setup(ctx, path, false)
	if err != nil {
		return err
	}
	defer a.cleanup()

	out := struct {
		stationcache.Stats
		LastMaintenance *time.Time `json:"last_maintenance,omitempty"`
	}{Stats: a.cache.Stats(ctx)}
	if t, ok := maintenance.LastRun(ctx, a.durable); ok {
		out.LastMaintenance = &t
	}
	return printJSON(os.Stdout, out)
}

func runPurge(ctx context.Context, path string) error {
	a, err := setup(ctx, path, false)
	if err != nil {
		return err
	}
	defer a.cleanup()

	res, err := maintenance.Run(ctx, a.durable, a.cfg.DB.PurgeAfter.Std())
	if err != nil {
		return err
	}
	fmt.Printf("Purged %d regions and %d stations older than %s\n", res.Regions, res.Stations, a.cfg.DB.PurgeAfter.Std())
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
