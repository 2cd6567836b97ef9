package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/elSilveira/gaser/pkg/store"
)

// LastRunKey is the metadata key holding the time of the last completed run.
const LastRunKey = "maintenance_last_run"

// Store is the subset of the durable store maintenance needs.
type Store interface {
	PurgeStale(ctx context.Context, maxAge time.Duration) (int, error)
	PurgeOrphans(ctx context.Context) (int, error)
	store.MetadataStore
}

// Result summarises one maintenance run.
type Result struct {
	Regions  int
	Stations int
}

// Run purges regions older than purgeAfter, then stations no region refers to.
// It blocks until completion. Failures are logged and returned; callers at
// startup log them and continue.
func Run(ctx context.Context, s Store, purgeAfter time.Duration) (Result, error) {
	slog.Info("Starting database maintenance...")

	var res Result
	n, err := s.PurgeStale(ctx, purgeAfter)
	if err != nil {
		slog.Error("Region purge failed", "error", err)
		return res, err
	}
	res.Regions = n

	n, err = s.PurgeOrphans(ctx)
	if err != nil {
		slog.Error("Orphan station purge failed", "error", err)
		return res, err
	}
	res.Stations = n

	if err := s.SetMeta(ctx, LastRunKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("Failed to record maintenance run", "error", err)
	}

	slog.Info("Database maintenance completed", "regions_purged", res.Regions, "stations_purged", res.Stations)
	return res, nil
}

// LastRun returns the time of the last completed run, if any.
func LastRun(ctx context.Context, s store.MetadataStore) (time.Time, bool) {
	v, ok := s.GetMeta(ctx, LastRunKey)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Start runs Run every interval until ctx is done.
func Start(ctx context.Context, s Store, purgeAfter, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = Run(ctx, s, purgeAfter)
			}
		}
	}()
}
