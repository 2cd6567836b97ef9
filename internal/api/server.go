package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/elSilveira/gaser/pkg/logging"
	"github.com/elSilveira/gaser/pkg/metrics"
	"github.com/elSilveira/gaser/pkg/version"
)

// NewServer creates and configures the HTTP server.
func NewServer(addr string, stations *StationHandler, cache *CacheHandler) *http.Server {
	mux := http.NewServeMux()

	// 1. Health + Version
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)

	// 2. Station Endpoints
	mux.HandleFunc("GET /api/stations", stations.HandleLookup)
	mux.HandleFunc("GET /api/stations/near", stations.HandleNear)
	mux.HandleFunc("GET /api/stations/search", stations.HandleSearch)
	mux.HandleFunc("GET /api/stations/filter", stations.HandleFilter)

	// 3. Cache Endpoints
	mux.HandleFunc("GET /api/cache/stats", cache.HandleStats)
	mux.HandleFunc("POST /api/cache/invalidate", cache.HandleInvalidate)

	// 4. Metrics
	mux.Handle("GET /metrics", metrics.Handler())

	return &http.Server{
		Addr:         addr,
		Handler:      LoggingMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// LoggingMiddleware writes one line per request to the request log.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.RequestLogger.Info("Request Processed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}
