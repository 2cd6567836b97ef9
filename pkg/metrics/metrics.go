// Package metrics exposes cache counters to Prometheus.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gaser_lookups_total",
		Help: "Cache lookups by tier and outcome",
	}, []string{"tier", "outcome"})
	FetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gaser_fetches_total",
		Help: "Remote fetches by outcome",
	}, []string{"outcome"})
	EvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gaser_evictions_total",
		Help: "Regions evicted from the volatile cache by capacity",
	})
	PrefetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gaser_prefetch_total",
		Help: "Neighbor prefetch attempts by outcome",
	}, []string{"outcome"})
	ResolveDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gaser_resolve_duration_ms",
		Help:    "Resolve duration in milliseconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500},
	})
)

var registerOnce sync.Once

// Register adds the collectors to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(LookupsTotal)
		prometheus.MustRegister(FetchesTotal)
		prometheus.MustRegister(EvictionsTotal)
		prometheus.MustRegister(PrefetchTotal)
		prometheus.MustRegister(ResolveDurationMs)
	})
}

// Handler returns the /metrics handler.
func Handler() http.Handler { return promhttp.Handler() }
