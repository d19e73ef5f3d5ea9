// Package server is the winstat HTTP front end: operational endpoints,
// the plugin API under /api/v1 and the shared middleware chain.
package server

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/HerbHall/winstat/internal/registry"
	"github.com/HerbHall/winstat/internal/version"
	"github.com/HerbHall/winstat/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PluginSource is the registry as seen by the server.
type PluginSource interface {
	AllRoutes() map[string][]plugin.Route
	All() []plugin.Plugin
	HealthAll(ctx context.Context) map[string]plugin.HealthStatus
}

// StatusSource is optionally implemented by the PluginSource to expose
// plugin lifecycle states at /api/v1/plugins/status.
type StatusSource interface {
	Statuses() []registry.Status
}

// ReadinessChecker returns nil when the process can serve traffic.
type ReadinessChecker func(ctx context.Context) error

// RouteRegistrar mounts routes that live outside the plugin namespace,
// such as the WebSocket stream.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

type Server struct {
	httpServer *http.Server
	plugins    PluginSource
	logger     *zap.Logger
	mux        *http.ServeMux
	ready      ReadinessChecker
}

// Operational endpoints are neither logged nor rate limited.
var skipPaths = []string{"/healthz", "/readyz", "/metrics"}

func New(cfg Config, plugins PluginSource, logger *zap.Logger, ready ReadinessChecker, extraRoutes ...RouteRegistrar) *Server {
	s := &Server{
		plugins: plugins,
		logger:  logger,
		mux:     http.NewServeMux(),
		ready:   ready,
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)
	if src, ok := plugins.(StatusSource); ok {
		s.mux.HandleFunc("GET /api/v1/plugins/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, src.Statuses())
		})
	}
	for _, r := range extraRoutes {
		r.RegisterRoutes(s.mux)
	}
	s.mountPluginRoutes()

	s.httpServer = &http.Server{
		Addr: cfg.Addr(),
		Handler: Chain(s.mux,
			RecoveryMiddleware(logger),
			RequestIDMiddleware,
			LoggingMiddleware(logger, skipPaths),
			SecurityHeadersMiddleware,
			RateLimitMiddleware(cfg.RateLimits(), skipPaths),
		),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// WebSocket streams outlive any write deadline.
	}
	return s
}

// Handler is the mux wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// mountPluginRoutes serves each plugin route at /api/v1/<plugin><path>,
// in plugin name order.
func (s *Server) mountPluginRoutes() {
	all := s.plugins.AllRoutes()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	slices.Sort(names)

	mounted := 0
	for _, name := range names {
		for _, route := range all[name] {
			pattern := fmt.Sprintf("%s /api/v1/%s%s", route.Method, name, route.Path)
			s.mux.HandleFunc(pattern, route.Handler)
			s.logger.Debug("mounted route", zap.String("plugin", name), zap.String("pattern", pattern))
			mounted++
		}
	}
	s.logger.Info("plugin routes mounted", zap.Int("plugins", len(names)), zap.Int("routes", mounted))
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("http server: %w", err)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// handleHealthz is the liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			Unavailable(w, r, "not ready: "+err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Overall health values in HealthResponse.Status.
const (
	healthOK        = "ok"
	healthDegraded  = "degraded"
	healthUnhealthy = "unhealthy"
)

type HealthResponse struct {
	Status  string                         `json:"status"`
	Service string                         `json:"service"`
	Version map[string]string              `json:"version"`
	Plugins map[string]plugin.HealthStatus `json:"plugins,omitempty"`
}

// overallHealth is unhealthy if any plugin is, degraded if any plugin is
// not healthy, and ok otherwise.
func overallHealth(reports map[string]plugin.HealthStatus) string {
	status := healthOK
	for _, h := range reports {
		switch h.Status {
		case plugin.StatusHealthy:
		case plugin.StatusUnhealthy:
			return healthUnhealthy
		default:
			status = healthDegraded
		}
	}
	return status
}

// handleHealth answers 503 only when a plugin is unhealthy; a degraded
// service still serves.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reports := s.plugins.HealthAll(r.Context())
	resp := HealthResponse{
		Status:  overallHealth(reports),
		Service: "winstat",
		Version: version.Map(),
		Plugins: reports,
	}
	code := http.StatusOK
	if resp.Status == healthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type PluginResponse struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Roles       []string `json:"roles,omitempty"`
	Required    bool     `json:"required,omitempty"`
}

func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	plugins := s.plugins.All()
	out := make([]PluginResponse, 0, len(plugins))
	for _, p := range plugins {
		info := p.Info()
		out = append(out, PluginResponse{
			Name:        info.Name,
			Version:     info.Version,
			Description: info.Description,
			Roles:       info.Roles,
			Required:    info.Required,
		})
	}
	slices.SortFunc(out, func(a, b PluginResponse) int {
		return cmp.Compare(a.Name, b.Name)
	})
	writeJSON(w, http.StatusOK, out)
}
