package tracker

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/elSilveira/gaser/pkg/metrics"
)

func TestTracker(t *testing.T) {
	tr := New()

	stats := tr.Snapshot()
	if len(stats) != 0 {
		t.Errorf("Expected empty stats, got %d", len(stats))
	}

	before := testutil.ToFloat64(metrics.FetchesTotal.WithLabelValues("failure"))

	tr.TrackHit(TierVolatile)
	tr.TrackMiss(TierVolatile)
	tr.TrackStale(TierDurable)
	tr.TrackWrite(TierRemote)
	tr.TrackFailure(TierRemote)

	stats = tr.Snapshot()
	v, ok := stats[TierVolatile]
	if !ok {
		t.Fatalf("Expected stats for tier %s", TierVolatile)
	}
	if v.Hits != 1 || v.Misses != 1 {
		t.Errorf("volatile stats = %+v", v)
	}
	if stats[TierDurable].Stale != 1 {
		t.Errorf("durable stats = %+v", stats[TierDurable])
	}
	if r := stats[TierRemote]; r.Writes != 1 || r.Failures != 1 {
		t.Errorf("remote stats = %+v", r)
	}

	after := testutil.ToFloat64(metrics.FetchesTotal.WithLabelValues("failure"))
	if after-before != 1 {
		t.Errorf("prometheus fetch failures delta = %v, want 1", after-before)
	}

	tr.Reset()
	if len(tr.Snapshot()) != 0 {
		t.Error("Reset did not clear stats")
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.TrackHit(TierDurable)
			}
		}()
	}
	wg.Wait()

	if got := tr.Snapshot()[TierDurable].Hits; got != 2000 {
		t.Errorf("Expected 2000 hits, got %d", got)
	}
}
