package cache

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/HerbHall/winstat/internal/server"
	"go.uber.org/zap"
)

var _ server.RouteRegistrar = (*Handler)(nil)

// Handler serves cached window history over HTTP.
type Handler struct {
	cache  *RedisCache
	logger *zap.Logger
}

// NewHandler creates a Handler backed by c.
func NewHandler(c *RedisCache, logger *zap.Logger) *Handler {
	return &Handler{cache: c, logger: logger}
}

// RegisterRoutes mounts the cache endpoints on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/cache/windows/{series...}", h.handleRecent)
}

// handleRecent returns the cached snapshots of one series, newest first.
func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	series := r.PathValue("series")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	stats, err := h.cache.Recent(r.Context(), series, limit)
	if err != nil {
		h.logger.Warn("cache read failed", zap.String("series", series), zap.Error(err))
		server.Unavailable(w, r, "snapshot cache is not reachable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}
