package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/elSilveira/gaser/internal/api"
	"github.com/elSilveira/gaser/pkg/cache"
	"github.com/elSilveira/gaser/pkg/config"
	"github.com/elSilveira/gaser/pkg/db"
	"github.com/elSilveira/gaser/pkg/db/maintenance"
	"github.com/elSilveira/gaser/pkg/logging"
	"github.com/elSilveira/gaser/pkg/metrics"
	"github.com/elSilveira/gaser/pkg/prefetch"
	"github.com/elSilveira/gaser/pkg/regionkey"
	"github.com/elSilveira/gaser/pkg/remote"
	"github.com/elSilveira/gaser/pkg/snapshot"
	"github.com/elSilveira/gaser/pkg/stationcache"
	"github.com/elSilveira/gaser/pkg/store"
	"github.com/elSilveira/gaser/pkg/tracker"
	"github.com/elSilveira/gaser/pkg/version"
)

const defaultConfigPath = "configs/gaser.yaml"

var (
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
	configPath = flag.String("config", defaultConfigPath, "Path to the config file")
	envFile    = flag.String("env", ".env", "Optional .env file loaded before the config")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	// Handle --init-config flag
	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config file generated: %s\n", *configPath)
		return
	}

	// A missing .env is normal
	_ = godotenv.Load(*envFile)

	cmd, args := "serve", []string(nil)
	if flag.NArg() > 0 {
		cmd, args = flag.Arg(0), flag.Args()[1:]
	}

	var err error
	ctx := context.Background()
	switch cmd {
	case "serve":
		err = runServe(ctx, *configPath)
	case "query":
		err = runQuery(ctx, *configPath, args)
	case "stats":
		err = runStats(ctx, *configPath)
	case "purge":
		err = runPurge(ctx, *configPath)
	case "export":
		err = runExport(ctx, *configPath, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `gaser %s - fuel station cache

Usage: gaser [flags] [serve|query|stats|purge|export] [command flags]

Flags:
`, version.Version)
	flag.PrintDefaults()
}

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.Config
	durable *store.SQLiteStore
	cache   *stationcache.Cache
	cleanup func()
}

func setup(ctx context.Context, path string, withPrefetch bool) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	slog.Info("Gaser Started", "version", version.Version)

	dbConn, err := db.Open(cfg.DB.Path)
	if err != nil {
		cleanupLogs()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	durable := store.NewSQLiteStore(dbConn, store.Options{
		Freshness:    cfg.DB.Freshness.Std(),
		H3Resolution: cfg.DB.H3Resolution,
		MaxRadiusKm:  cfg.Query.MaxRadius.Km(),
	})

	mirror, err := snapshot.New(&cfg.Mirror)
	if err != nil {
		slog.Warn("Volatile mirror unavailable, running memory-only", "backend", cfg.Mirror.Backend, "error", err)
		mirror = snapshot.Nop{}
	}

	metrics.Register()
	tr := tracker.New()
	volatile := cache.New(cache.Options{
		MaxRegions: cfg.Cache.MaxRegions,
		TTL:        cache.TTLsFromConfig(&cfg.Cache.TTL),
		Mirror:     mirror,
		OnEvict:    func(regionkey.Key) { metrics.EvictionsTotal.Inc() },
	})

	opts := stationcache.Options{
		Volatile:      volatile,
		Durable:       durable,
		Tracker:       tr,
		SweepInterval: cfg.Cache.SweepInterval.Std(),
		DefaultLimit:  cfg.Query.DefaultLimit,
		MaxLimit:      cfg.Query.MaxLimit,
		SampleCount:   cfg.Sample.Count,
	}
	if client, err := remote.New(&cfg.Remote); err != nil {
		slog.Warn("Remote backend disabled, lookups will serve synthetic data", "error", err)
	} else {
		opts.Fetcher = client
	}
	if withPrefetch && cfg.Prefetch.Enabled {
		po := prefetch.OptionsFromConfig(&cfg.Prefetch, tr)
		opts.Prefetch = &po
	}

	c, err := stationcache.New(opts)
	if err != nil {
		mirror.Close()
		dbConn.Close()
		cleanupLogs()
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		slog.Warn("Cache start failed", "error", err)
	}

	return &app{
		cfg:     cfg,
		durable: durable,
		cache:   c,
		cleanup: func() {
			if err := c.Close(); err != nil {
				slog.Warn("Failed to close cache", "error", err)
			}
			if err := mirror.Close(); err != nil {
				slog.Warn("Failed to close mirror", "error", err)
			}
			cleanupLogs()
		},
	}, nil
}

func runServe(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := setup(ctx, path, true)
	if err != nil {
		return err
	}
	// Background loops must see cancellation before the stores close
	defer func() {
		cancel()
		a.cleanup()
	}()

	if _, err := maintenance.Run(ctx, a.durable, a.cfg.DB.PurgeAfter.Std()); err != nil {
		slog.Error("Maintenance tasks failed", "error", err)
	}
	maintenance.Start(ctx, a.durable, a.cfg.DB.PurgeAfter.Std(), a.cfg.DB.PurgeInterval.Std())

	srv := api.NewServer(a.cfg.Server.Address,
		api.NewStationHandler(a.cache, a.durable, a.cfg.Query.DefaultRadius.Km(), a.cfg.Query.MaxRadius.Km(), a.cfg.Query.MaxLimit),
		api.NewCacheHandler(a.cache),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	return runServerLifecycle(ctx, srv, quit)
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
