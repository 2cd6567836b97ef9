package db_test

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/elSilveira/gaser/pkg/db"
)

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db_test.db")

	d, err := db.Init(path)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	defer d.Close()

	for _, table := range []string{"stations", "regions", "metadata", "schema_migrations"} {
		var n int
		if err := d.QueryRow("SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("table %s missing", table)
		}
	}

	var idx int
	if err := d.QueryRow("SELECT count(*) FROM sqlite_master WHERE type='index' AND name='idx_stations_h3'").Scan(&idx); err != nil {
		t.Fatal(err)
	}
	if idx != 1 {
		t.Error("h3 index missing")
	}

	for name, want := range map[string]int{
		"idx_stations_brand":        0,
		"idx_stations_brand_nocase": 1,
		"idx_stations_city_nocase":  1,
	} {
		var n int
		if err := d.QueryRow("SELECT count(*) FROM sqlite_master WHERE type='index' AND name=?", name).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != want {
			t.Errorf("index %s: count %d, want %d", name, n, want)
		}
	}
}

func TestInit_MigrationsRunOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "again.db")

	for i := 0; i < 2; i++ {
		d, err := db.Init(path)
		if err != nil {
			t.Fatalf("Init() #%d failed: %v", i, err)
		}
		var n int
		if err := d.QueryRow("SELECT count(*) FROM schema_migrations").Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 3 {
			t.Errorf("expected 3 recorded migrations, got %d", n)
		}
		d.Close()
	}
}

func TestOpen_SharedHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")

	var wg sync.WaitGroup
	handles := make([]*db.DB, 8)
	errs := make([]error, 8)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = db.Open(path)
		}(i)
	}
	wg.Wait()

	for i, h := range handles {
		if errs[i] != nil {
			t.Fatalf("Open() #%d failed: %v", i, errs[i])
		}
		if h != handles[0] {
			t.Fatal("Open() returned different handles for the same path")
		}
	}

	// All but the last Close keep the connection usable
	for _, h := range handles[1:] {
		if err := h.Close(); err != nil {
			t.Fatal(err)
		}
	}
	if err := handles[0].Ping(); err != nil {
		t.Fatalf("handle closed too early: %v", err)
	}
	if err := handles[0].Close(); err != nil {
		t.Fatal(err)
	}

	// A fresh Open after the last Close gets a new handle
	d, err := db.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if d == handles[0] {
		t.Error("expected a new handle after the registry entry was released")
	}
}
