package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/elSilveira/gaser/pkg/stationcache"
)

// CacheAdmin exposes cache statistics and invalidation.
type CacheAdmin interface {
	Stats(ctx context.Context) stationcache.Stats
	InvalidateAll(ctx context.Context) error
}

// CacheHandler handles cache inspection requests.
type CacheHandler struct {
	cache CacheAdmin
}

// NewCacheHandler creates a new CacheHandler.
func NewCacheHandler(c CacheAdmin) *CacheHandler {
	return &CacheHandler{cache: c}
}

func (h *CacheHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.cache.Stats(r.Context()))
}

func (h *CacheHandler) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.InvalidateAll(r.Context()); err != nil {
		slog.Error("Cache invalidation failed", "error", err)
		http.Error(w, "invalidation failed", http.StatusInternalServerError)
		return
	}
	slog.Info("Cache invalidated via API")
	writeJSON(w, map[string]string{"status": "ok"})
}
