package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/elSilveira/gaser/pkg/db"
	"github.com/elSilveira/gaser/pkg/geo"
	"github.com/elSilveira/gaser/pkg/model"
	"github.com/elSilveira/gaser/pkg/regionkey"
)

// Store composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	RegionStore
	StationStore
	MetadataStore

	Stats(ctx context.Context) (StoreStats, error)
	Clear(ctx context.Context) error
	Close() error
}

// Options configures a SQLiteStore.
type Options struct {
	// Freshness is the region age after which GetRegion reports IsExpired.
	Freshness    time.Duration
	H3Resolution int
	// MaxRadiusKm caps StationsNear. Defaults to regionkey.MaxRadiusKm.
	MaxRadiusKm float64
	Now         func() time.Time
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db        *db.DB
	freshness time.Duration
	h3Res     int
	maxRadius float64
	now       func() time.Time
	logger    *slog.Logger
}

// batchSize bounds the number of ids bound into one IN clause.
const batchSize = 500

const stationColumns = `id, name, brand, address, neighborhood, city, state, lat, lon, prices, collected_at`

// NewSQLiteStore creates a new store.
func NewSQLiteStore(d *db.DB, opts Options) *SQLiteStore {
	if opts.Freshness <= 0 {
		opts.Freshness = 24 * time.Hour
	}
	if opts.H3Resolution <= 0 {
		opts.H3Resolution = 7
	}
	if opts.MaxRadiusKm <= 0 || opts.MaxRadiusKm > regionkey.MaxRadiusKm {
		opts.MaxRadiusKm = regionkey.MaxRadiusKm
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SQLiteStore{
		db:        d,
		freshness: opts.Freshness,
		h3Res:     opts.H3Resolution,
		maxRadius: opts.MaxRadiusKm,
		now:       opts.Now,
		logger:    slog.With("component", "durable_store"),
	}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// --- Regions ---

// SaveRegion stores the region stamped with the current time.
func (s *SQLiteStore) SaveRegion(ctx context.Context, key string, stations []model.Station, meta map[string]string) error {
	return s.SaveRegionAt(ctx, key, stations, meta, s.now())
}

// SaveRegionAt upserts every station and replaces the region row in one
// transaction. Either all of it is written or none of it is.
func (s *SQLiteStore) SaveRegionAt(ctx context.Context, key string, stations []model.Station, meta map[string]string, updatedAt time.Time) error {
	ids := make([]string, 0, len(stations))
	for i := range stations {
		if stations[i].ID == "" {
			return fmt.Errorf("save region %s: station at index %d has no id", key, i)
		}
		ids = append(ids, stations[i].ID)
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal station ids: %w", err)
	}
	metaBlob, err := encodeMeta(meta)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin save region", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stations (id, name, brand, address, neighborhood, city, state, lat, lon, h3_cell, prices, collected_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			brand = excluded.brand,
			address = excluded.address,
			neighborhood = excluded.neighborhood,
			city = excluded.city,
			state = excluded.state,
			lat = excluded.lat,
			lon = excluded.lon,
			h3_cell = excluded.h3_cell,
			prices = excluded.prices,
			collected_at = excluded.collected_at,
			updated_at = excluded.updated_at`)
	if err != nil {
		return unavailable("prepare station upsert", err)
	}
	defer stmt.Close()

	stamp := updatedAt.UnixMilli()
	for i := range stations {
		st := &stations[i]
		prices, err := json.Marshal(st.Prices)
		if err != nil {
			return fmt.Errorf("marshal prices for %s: %w", st.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			st.ID, st.Name, st.Brand, st.Address, st.Neighborhood, st.City, st.State,
			st.Lat, st.Lon, s.cellOf(st), string(prices), toMillis(st.CollectedAt), stamp,
		); err != nil {
			return unavailable("upsert station "+st.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO regions (key, station_ids, metadata, updated_at) VALUES (?, ?, ?, ?)`,
		key, string(idsJSON), metaBlob, stamp,
	); err != nil {
		return unavailable("replace region "+key, err)
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit region "+key, err)
	}
	return nil
}

// GetRegion loads the region and resolves its stations in stored order.
// Ids whose station row is gone are skipped.
func (s *SQLiteStore) GetRegion(ctx context.Context, key string) (RegionResult, error) {
	var (
		idsJSON  string
		metaBlob []byte
		stamp    int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT station_ids, metadata, updated_at FROM regions WHERE key = ?", key,
	).Scan(&idsJSON, &metaBlob, &stamp)
	if errors.Is(err, sql.ErrNoRows) {
		return RegionResult{}, nil // Not found
	}
	if err != nil {
		return RegionResult{}, unavailable("get region "+key, err)
	}

	var ids []string
	if err := json.Unmarshal([]byte(idsJSON), &ids); err != nil {
		return RegionResult{}, fmt.Errorf("decode station ids of %s: %w", key, err)
	}
	meta, err := decodeMeta(metaBlob)
	if err != nil {
		s.logger.Warn("Dropping unreadable region metadata", "key", key, "error", err)
	}

	byID, err := s.stationsByID(ctx, ids)
	if err != nil {
		return RegionResult{}, err
	}
	stations := make([]model.Station, 0, len(ids))
	for _, id := range ids {
		if st, ok := byID[id]; ok {
			stations = append(stations, st)
		}
	}

	updatedAt := fromMillis(stamp)
	return RegionResult{
		Key:       key,
		Stations:  stations,
		Metadata:  meta,
		UpdatedAt: updatedAt,
		IsExpired: s.now().Sub(updatedAt) > s.freshness,
		Found:     true,
	}, nil
}

// ListRegions returns every region row, newest first, without resolving stations.
func (s *SQLiteStore) ListRegions(ctx context.Context) ([]model.Region, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, station_ids, metadata, updated_at FROM regions ORDER BY updated_at DESC")
	if err != nil {
		return nil, unavailable("list regions", err)
	}
	defer rows.Close()

	var out []model.Region
	for rows.Next() {
		var (
			r        model.Region
			idsJSON  string
			metaBlob []byte
			stamp    int64
		)
		if err := rows.Scan(&r.Key, &idsJSON, &metaBlob, &stamp); err != nil {
			return nil, unavailable("scan region", err)
		}
		if err := json.Unmarshal([]byte(idsJSON), &r.StationIDs); err != nil {
			return nil, fmt.Errorf("decode station ids of %s: %w", r.Key, err)
		}
		r.Metadata, _ = decodeMeta(metaBlob)
		r.UpdatedAt = fromMillis(stamp)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list regions", err)
	}
	return out, nil
}

// PurgeStale deletes regions older than maxAge. Station rows are left alone.
func (s *SQLiteStore) PurgeStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge).UnixMilli()
	res, err := s.db.ExecContext(ctx, "DELETE FROM regions WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, unavailable("purge stale regions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("purge stale regions", err)
	}
	return int(n), nil
}

// --- Stations ---

// PurgeOrphans deletes stations no longer referenced by any region.
func (s *SQLiteStore) PurgeOrphans(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM stations WHERE id NOT IN (
			SELECT DISTINCT j.value FROM regions r, json_each(r.station_ids) j
		)`)
	if err != nil {
		return 0, unavailable("purge orphan stations", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("purge orphan stations", err)
	}
	return int(n), nil
}

// SearchByText scans every station and keeps those whose name, address,
// neighborhood, city, state or brand contains the normalized query.
// Results are ordered by name; limit <= 0 means no limit.
func (s *SQLiteStore) SearchByText(ctx context.Context, query string, limit int) ([]model.Station, error) {
	needle := regionkey.Normalize(query)
	if needle == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT "+stationColumns+" FROM stations ORDER BY name, id")
	if err != nil {
		return nil, unavailable("search stations", err)
	}
	defer rows.Close()

	var out []model.Station
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		if matchesText(&st, needle) {
			out = append(out, st)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("search stations", err)
	}
	return out, nil
}

func matchesText(st *model.Station, needle string) bool {
	for _, field := range []string{st.Name, st.Address, st.Neighborhood, st.City, st.State, st.Brand} {
		if field != "" && strings.Contains(regionkey.Normalize(field), needle) {
			return true
		}
	}
	return false
}

// StationsNear returns stored stations within radiusKm of center, nearest
// first, with DistanceKm set. Candidates come from the h3_cell index.
// radiusKm is capped at the store's maximum radius.
func (s *SQLiteStore) StationsNear(ctx context.Context, center geo.Point, radiusKm float64, limit int) ([]model.Station, error) {
	if !(radiusKm > 0) {
		return nil, nil
	}
	radiusKm = min(radiusKm, s.maxRadius)

	cells, err := geo.CellDisk(center, s.h3Res, geo.RingsForRadius(s.h3Res, radiusKm))
	if err != nil {
		return nil, fmt.Errorf("cell disk: %w", err)
	}

	var out []model.Station
	for start := 0; start < len(cells); start += batchSize {
		end := min(start+batchSize, len(cells))
		chunk := cells[start:end]

		query := "SELECT " + stationColumns + " FROM stations WHERE h3_cell IN (" + placeholders(len(chunk)) + ")"
		rows, err := s.db.QueryContext(ctx, query, toArgs(chunk)...)
		if err != nil {
			return nil, unavailable("stations near", err)
		}
		for rows.Next() {
			st, err := scanStation(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			p := geo.Point{Lat: st.Lat, Lon: st.Lon}
			if geo.Within(center, p, radiusKm) {
				st.DistanceKm = geo.DistanceKm(center, p)
				out = append(out, st)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, unavailable("stations near", err)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Filter returns stored stations matching f, ordered by name or by the
// price of f.Fuel, ties broken by id. limit <= 0 means no limit.
func (s *SQLiteStore) Filter(ctx context.Context, f StationFilter, limit int) ([]model.Station, error) {
	if f.Fuel != "" && !f.Fuel.Valid() {
		return nil, fmt.Errorf("%w: unknown fuel %q", ErrInvalidFilter, f.Fuel)
	}
	if f.MaxPrice < 0 {
		return nil, fmt.Errorf("%w: negative max price", ErrInvalidFilter)
	}
	if f.MaxPrice > 0 && f.Fuel == "" {
		return nil, fmt.Errorf("%w: max price needs a fuel", ErrInvalidFilter)
	}

	var (
		where []string
		args  []any
	)
	if b := strings.TrimSpace(f.Brand); b != "" {
		where = append(where, "brand = ? COLLATE NOCASE")
		args = append(args, b)
	}
	if c := strings.TrimSpace(f.City); c != "" {
		where = append(where, "city = ? COLLATE NOCASE")
		args = append(args, c)
	}
	if st := strings.TrimSpace(f.State); st != "" {
		where = append(where, "state = ?")
		args = append(args, strings.ToUpper(st))
	}
	pricePath := "$." + string(f.Fuel)
	if f.Fuel != "" {
		where = append(where, "json_extract(prices, ?) IS NOT NULL")
		args = append(args, pricePath)
	}
	if f.MaxPrice > 0 {
		where = append(where, "json_extract(prices, ?) <= ?")
		args = append(args, pricePath, f.MaxPrice)
	}

	query := "SELECT " + stationColumns + " FROM stations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	switch f.SortBy {
	case SortPrice:
		if f.Fuel == "" {
			return nil, fmt.Errorf("%w: price sort needs a fuel", ErrInvalidFilter)
		}
		query += " ORDER BY json_extract(prices, ?), id"
		args = append(args, pricePath)
	case SortName, "":
		query += " ORDER BY name, id"
	default:
		return nil, fmt.Errorf("%w: unknown sort %q", ErrInvalidFilter, f.SortBy)
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("filter stations", err)
	}
	defer rows.Close()

	var out []model.Station
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("filter stations", err)
	}
	return out, nil
}

func (s *SQLiteStore) stationsByID(ctx context.Context, ids []string) (map[string]model.Station, error) {
	out := make(map[string]model.Station, len(ids))
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		chunk := ids[start:end]

		query := "SELECT " + stationColumns + " FROM stations WHERE id IN (" + placeholders(len(chunk)) + ")"
		rows, err := s.db.QueryContext(ctx, query, toArgs(chunk)...)
		if err != nil {
			return nil, unavailable("load stations", err)
		}
		for rows.Next() {
			st, err := scanStation(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[st.ID] = st
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, unavailable("load stations", err)
		}
	}
	return out, nil
}

func (s *SQLiteStore) cellOf(st *model.Station) string {
	cell, err := geo.Cell(geo.Point{Lat: st.Lat, Lon: st.Lon}, s.h3Res)
	if err != nil {
		s.logger.Debug("No h3 cell for station", "id", st.ID, "error", err)
		return ""
	}
	return cell
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStation(r rowScanner) (model.Station, error) {
	var (
		st        model.Station
		prices    string
		collected int64
	)
	if err := r.Scan(&st.ID, &st.Name, &st.Brand, &st.Address, &st.Neighborhood, &st.City, &st.State,
		&st.Lat, &st.Lon, &prices, &collected); err != nil {
		return model.Station{}, unavailable("scan station", err)
	}
	if prices != "" && prices != "null" {
		if err := json.Unmarshal([]byte(prices), &st.Prices); err != nil {
			return model.Station{}, fmt.Errorf("decode prices of %s: %w", st.ID, err)
		}
	}
	st.CollectedAt = fromMillis(collected)
	return st, nil
}

// --- Maintenance ---

// Stats returns counts, an on-disk size estimate and the region age range.
func (s *SQLiteStore) Stats(ctx context.Context) (StoreStats, error) {
	var (
		st             StoreStats
		oldest, newest sql.NullInt64
	)
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), MIN(updated_at), MAX(updated_at) FROM regions",
	).Scan(&st.RegionCount, &oldest, &newest); err != nil {
		return st, unavailable("region stats", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM stations").Scan(&st.StationCount); err != nil {
		return st, unavailable("station stats", err)
	}
	var pages, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return st, unavailable("page count", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return st, unavailable("page size", err)
	}
	st.SizeBytes = pages * pageSize
	if oldest.Valid {
		st.Oldest = fromMillis(oldest.Int64)
	}
	if newest.Valid {
		st.Newest = fromMillis(newest.Int64)
	}
	return st, nil
}

// Clear deletes every region and station.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin clear", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM regions"); err != nil {
		return unavailable("clear regions", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM stations"); err != nil {
		return unavailable("clear stations", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit clear", err)
	}
	return nil
}

// --- Metadata ---

func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&val)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to read metadata", "key", key, "error", err)
		}
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetMeta(ctx context.Context, key, val string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO metadata (key, value, updated_at) VALUES (?, ?, ?)",
		key, val, s.now().UnixMilli())
	if err != nil {
		return unavailable("set metadata "+key, err)
	}
	return nil
}

// --- Helpers ---

func encodeMeta(meta map[string]string) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal region metadata: %w", err)
	}
	// Transparent compression
	if compressed, err := compress(raw); err == nil {
		return compressed, nil
	}
	return raw, nil
}

func decodeMeta(blob []byte) (map[string]string, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if isGzip(blob) {
		raw, err := decompress(blob)
		if err != nil {
			return nil, err
		}
		blob = raw
	}
	var meta map[string]string
	if err := json.Unmarshal(blob, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func toArgs(vals []string) []any {
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return args
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
