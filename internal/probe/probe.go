// Package probe measures round-trip time to configured hosts with ICMP
// echo and publishes the results as telemetry samples.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/HerbHall/winstat/pkg/analytics"
	"github.com/HerbHall/winstat/pkg/plugin"
	"github.com/HerbHall/winstat/pkg/roles"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
	_ plugin.Validator     = (*Module)(nil)
	_ roles.TargetLister   = (*Module)(nil)
)

// Option configures a Module.
type Option func(*Module)

// WithPingFunc replaces the ICMP implementation, mainly for tests.
func WithPingFunc(fn PingFunc) Option {
	return func(m *Module) { m.ping = fn }
}

// Module implements the probe telemetry plugin.
type Module struct {
	logger    *zap.Logger
	cfg       ProbeConfig
	bus       plugin.EventBus
	ping      PingFunc
	scheduler *Scheduler

	mu   sync.RWMutex
	last map[string]Result
}

// New creates a new probe plugin instance.
func New(opts ...Option) *Module {
	m := &Module{
		ping: icmpPing,
		last: make(map[string]Result),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "probe",
		Version:     "0.1.0",
		Description: "ICMP round-trip telemetry source",
		Roles:       []string{roles.RoleTelemetry},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("unmarshal probe config: %w", err)
		}
	}

	m.logger.Info("probe module initialized",
		zap.Int("targets", len(m.cfg.Targets)),
		zap.Duration("interval", m.cfg.Interval),
		zap.Bool("privileged", m.cfg.Privileged),
	)
	return nil
}

// ValidateConfig implements plugin.Validator.
func (m *Module) ValidateConfig() error {
	return m.cfg.Validate()
}

func (m *Module) Start(ctx context.Context) error {
	if len(m.cfg.Targets) == 0 {
		m.logger.Info("probe module idle: no targets configured")
		return nil
	}
	m.scheduler = NewScheduler(m.cfg, m.ping, m.handleRound, m.logger)
	m.scheduler.Start(context.WithoutCancel(ctx))
	m.logger.Info("probe module started", zap.Strings("targets", m.cfg.Targets))
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.scheduler != nil {
		m.scheduler.Stop()
	}
	m.logger.Info("probe module stopped")
	return nil
}

// Targets implements roles.TargetLister.
func (m *Module) Targets() []string {
	return append([]string(nil), m.cfg.Targets...)
}

// handleRound records the round and publishes one batch of samples.
func (m *Module) handleRound(ctx context.Context, results []Result) {
	m.mu.Lock()
	for _, r := range results {
		if r.Target != "" {
			m.last[r.Target] = r
		}
	}
	m.mu.Unlock()

	samples := Samples(results)
	if len(samples) == 0 || m.bus == nil {
		return
	}
	_ = m.bus.Publish(ctx, plugin.Event{
		Topic:   analytics.TopicSamplesCollected,
		Source:  "probe",
		Payload: samples,
	})
}

// Samples converts a round of results into telemetry samples. Every
// answered target yields "<target>/rtt_ms"; every target that was actually
// pinged yields "<target>/loss_pct". Errored pings yield nothing.
func Samples(results []Result) []analytics.Sample {
	samples := make([]analytics.Sample, 0, 2*len(results))
	for _, r := range results {
		switch {
		case r.Target == "":
			continue
		case r.Error != "":
			pingsTotal.WithLabelValues(resultError).Inc()
			continue
		case r.Reachable():
			pingsTotal.WithLabelValues(resultReachable).Inc()
			samples = append(samples, analytics.Sample{
				Series:    r.Target + "/rtt_ms",
				Source:    "probe",
				Value:     float64(r.AvgRTT) / float64(time.Millisecond),
				Timestamp: r.At,
			})
		default:
			pingsTotal.WithLabelValues(resultUnreachable).Inc()
		}
		samples = append(samples, analytics.Sample{
			Series:    r.Target + "/loss_pct",
			Source:    "probe",
			Value:     r.LossPct,
			Timestamp: r.At,
		})
	}
	return samples
}

// lastResults returns the latest result per target in configured order.
func (m *Module) lastResults() []Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Result, 0, len(m.cfg.Targets))
	for _, t := range m.cfg.Targets {
		if r, ok := m.last[t]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	results := m.lastResults()
	reachable := 0
	for _, r := range results {
		if r.Reachable() {
			reachable++
		}
	}

	status := plugin.HealthStatus{
		Status: plugin.StatusHealthy,
		Details: map[string]string{
			"targets":   strconv.Itoa(len(m.cfg.Targets)),
			"reachable": strconv.Itoa(reachable),
			"running":   strconv.FormatBool(m.scheduler != nil && m.scheduler.Running()),
		},
	}
	if len(results) > 0 && reachable == 0 {
		status.Status = plugin.StatusDegraded
		status.Message = "no target answered the last round"
	}
	return status
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/targets", Handler: m.handleTargets},
	}
}

// handleTargets returns the latest result for each configured target.
func (m *Module) handleTargets(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.lastResults())
}
