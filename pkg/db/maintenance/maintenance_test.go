package maintenance

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/elSilveira/gaser/pkg/db"
	"github.com/elSilveira/gaser/pkg/model"
	"github.com/elSilveira/gaser/pkg/store"
)

func TestMaintenance(t *testing.T) {
	tempDir := t.TempDir()
	d, err := db.Init(filepath.Join(tempDir, "maint_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	s := store.NewSQLiteStore(d, store.Options{})
	ctx := context.Background()

	oldStations := []model.Station{{ID: "old-1", Lat: 1, Lon: 1}, {ID: "shared", Lat: 1, Lon: 1}}
	if err := s.SaveRegionAt(ctx, "old", oldStations, nil, time.Now().Add(-10*24*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRegion(ctx, "new", []model.Station{{ID: "shared", Lat: 1, Lon: 1}}, nil); err != nil {
		t.Fatal(err)
	}

	if _, ok := LastRun(ctx, s); ok {
		t.Error("expected no previous run")
	}

	res, err := Run(ctx, s, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Regions != 1 || res.Stations != 1 {
		t.Errorf("unexpected result %+v", res)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.RegionCount != 1 || st.StationCount != 1 {
		t.Errorf("stats after maintenance = %+v", st)
	}

	last, ok := LastRun(ctx, s)
	if !ok || time.Since(last) > time.Minute {
		t.Errorf("last run not recorded: %v %v", last, ok)
	}
}

type failingStore struct {
	store.MetadataStore
}

func (failingStore) PurgeStale(context.Context, time.Duration) (int, error) {
	return 0, store.ErrUnavailable
}

func (failingStore) PurgeOrphans(context.Context) (int, error) { return 0, nil }

func TestMaintenance_Failure(t *testing.T) {
	_, err := Run(context.Background(), failingStore{}, time.Hour)
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
