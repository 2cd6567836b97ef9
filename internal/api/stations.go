package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elSilveira/gaser/pkg/cache"
	"github.com/elSilveira/gaser/pkg/geo"
	"github.com/elSilveira/gaser/pkg/model"
	"github.com/elSilveira/gaser/pkg/regionkey"
	"github.com/elSilveira/gaser/pkg/stationcache"
	"github.com/elSilveira/gaser/pkg/store"
)

// Looker answers cached station lookups.
type Looker interface {
	Lookup(ctx context.Context, q stationcache.Query) (stationcache.Resolution, error)
}

// StationHandler serves station lookups.
type StationHandler struct {
	cache         Looker
	durable       store.StationStore
	defaultRadius float64
	maxRadius     float64
	maxLimit      int
}

// NewStationHandler creates a new StationHandler. Requested radii above
// maxRadiusKm are clamped to it.
func NewStationHandler(c Looker, durable store.StationStore, defaultRadiusKm, maxRadiusKm float64, maxLimit int) *StationHandler {
	if maxRadiusKm <= 0 || maxRadiusKm > regionkey.MaxRadiusKm {
		maxRadiusKm = regionkey.MaxRadiusKm
	}
	if defaultRadiusKm <= 0 {
		defaultRadiusKm = 5
	}
	defaultRadiusKm = min(defaultRadiusKm, maxRadiusKm)
	if maxLimit <= 0 {
		maxLimit = stationcache.MaxLimit
	}
	return &StationHandler{
		cache:         c,
		durable:       durable,
		defaultRadius: defaultRadiusKm,
		maxRadius:     maxRadiusKm,
		maxLimit:      maxLimit,
	}
}

// StationsResponse is the body of every station endpoint.
type StationsResponse struct {
	Key       string          `json:"key,omitempty"`
	Source    string          `json:"source"`
	Synthetic bool            `json:"synthetic"`
	FetchedAt *time.Time      `json:"fetched_at,omitempty"`
	Total     int             `json:"total"`
	Stations  []model.Station `json:"stations"`
}

// HandleLookup answers ?lat=&lon=[&radius=], ?q= or ?id=, with optional kind,
// fuel, brand, sort and limit.
func (h *StationHandler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	var q stationcache.Query
	switch {
	case params.Get("id") != "":
		q.Query = regionkey.ID(params.Get("id"))
	case params.Get("q") != "":
		q.Query = regionkey.Text(params.Get("q"))
	case params.Get("lat") != "" || params.Get("lon") != "":
		center, radius, ok := h.parseCircle(w, r)
		if !ok {
			return
		}
		q.Query = regionkey.Coord(center.Lat, center.Lon, radius)
	default:
		http.Error(w, "one of lat/lon, q or id is required", http.StatusBadRequest)
		return
	}
	q.Kind = cache.Kind(params.Get("kind"))
	fuel, ok := parseFuel(w, params.Get("fuel"))
	if !ok {
		return
	}
	q.Fuel = fuel
	q.Brand = parseBrand(params.Get("brand"))
	q.SortBy = params.Get("sort")
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	q.Limit = limit

	res, err := h.cache.Lookup(r.Context(), q)
	if errors.Is(err, stationcache.ErrMalformedQuery) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Error("Station lookup failed", "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}

	resp := StationsResponse{
		Key:       res.Key.String(),
		Source:    res.Source,
		Synthetic: res.Snapshot.Synthetic,
		Total:     len(res.Snapshot.Stations),
		Stations:  res.Snapshot.Stations,
	}
	if !res.Snapshot.FetchedAt.IsZero() {
		resp.FetchedAt = &res.Snapshot.FetchedAt
	}
	writeJSON(w, resp)
}

// HandleNear queries the durable station table directly, without touching the cache.
func (h *StationHandler) HandleNear(w http.ResponseWriter, r *http.Request) {
	center, radius, ok := h.parseCircle(w, r)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	stations, err := h.durable.StationsNear(r.Context(), center, radius, h.clamp(limit))
	if err != nil {
		slog.Warn("Durable near query failed", "error", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, StationsResponse{Source: stationcache.SourceDurable, Total: len(stations), Stations: stations})
}

// HandleSearch runs a text search over every stored station.
func (h *StationHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("q")
	if regionkey.Normalize(text) == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	stations, err := h.durable.SearchByText(r.Context(), text, h.clamp(limit))
	if err != nil {
		slog.Warn("Durable search failed", "error", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, StationsResponse{Source: stationcache.SourceDurable, Total: len(stations), Stations: stations})
}

// HandleFilter selects stored stations by brand, city, state, fuel and
// maximum price, without touching the cache.
func (h *StationHandler) HandleFilter(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	fuel, ok := parseFuel(w, params.Get("fuel"))
	if !ok {
		return
	}
	f := store.StationFilter{
		Brand:  parseBrand(params.Get("brand")),
		City:   params.Get("city"),
		State:  params.Get("state"),
		Fuel:   fuel,
		SortBy: params.Get("sort"),
	}
	if s := params.Get("max_price"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			http.Error(w, "invalid max_price", http.StatusBadRequest)
			return
		}
		f.MaxPrice = v
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	stations, err := h.durable.Filter(r.Context(), f, h.clamp(limit))
	if errors.Is(err, store.ErrInvalidFilter) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Warn("Durable filter failed", "error", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, StationsResponse{Source: stationcache.SourceDurable, Total: len(stations), Stations: stations})
}

// parseCircle reads lat, lon and radius. Radii beyond the handler's maximum
// are clamped.
func (h *StationHandler) parseCircle(w http.ResponseWriter, r *http.Request) (geo.Point, float64, bool) {
	params := r.URL.Query()
	lat, err1 := strconv.ParseFloat(params.Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(params.Get("lon"), 64)
	if err1 != nil || err2 != nil {
		http.Error(w, "invalid lat/lon", http.StatusBadRequest)
		return geo.Point{}, 0, false
	}
	p := geo.Point{Lat: lat, Lon: lon}
	if !p.Valid() {
		http.Error(w, "lat/lon out of range", http.StatusBadRequest)
		return geo.Point{}, 0, false
	}

	radius := h.defaultRadius
	if s := params.Get("radius"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || v <= 0 {
			http.Error(w, "invalid radius", http.StatusBadRequest)
			return geo.Point{}, 0, false
		}
		radius = min(v, h.maxRadius)
	}
	return p, radius, true
}

func (h *StationHandler) clamp(limit int) int {
	if limit <= 0 {
		return stationcache.DefaultLimit
	}
	if limit > h.maxLimit {
		return h.maxLimit
	}
	return limit
}

// parseFuel accepts a fuel name or alias. Empty, "all" and "todas" mean no filter.
func parseFuel(w http.ResponseWriter, s string) (model.FuelType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all", "todas":
		return "", true
	}
	f, ok := model.ParseFuelType(s)
	if !ok {
		http.Error(w, "invalid fuel", http.StatusBadRequest)
		return "", false
	}
	return f, true
}

func parseBrand(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "all", "todas":
		return ""
	}
	return s
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
