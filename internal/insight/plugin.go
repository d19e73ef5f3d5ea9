// Package insight keeps a sliding-window mean and standard deviation for
// every telemetry series and flags samples that deviate from them.
package insight

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/HerbHall/winstat/internal/insight/anomaly"
	"github.com/HerbHall/winstat/pkg/analytics"
	"github.com/HerbHall/winstat/pkg/plugin"
	"github.com/HerbHall/winstat/pkg/roles"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.HTTPProvider    = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.Validator       = (*Module)(nil)
	_ roles.WindowProvider   = (*Module)(nil)
	_ roles.SampleSink       = (*Module)(nil)
	_ roles.AnomalyProvider  = (*Module)(nil)
)

// ErrInvalidSample is returned by Ingest for samples that cannot enter a window.
var ErrInvalidSample = errors.New("invalid sample")

const maxSeriesLen = 256

// SnapshotCache receives the latest window state of each series.
type SnapshotCache interface {
	Put(ctx context.Context, stat analytics.WindowStat) error
}

// Option configures a Module.
type Option func(*Module)

// WithCache mirrors every window update into c.
func WithCache(c SnapshotCache) Option {
	return func(m *Module) { m.cache = c }
}

// WithClock overrides the clock used to stamp samples and anomalies.
func WithClock(now func() time.Time) Option {
	return func(m *Module) { m.now = now }
}

// Module implements the Insight analytics plugin.
type Module struct {
	logger *zap.Logger
	cfg    InsightConfig
	store  *InsightStore
	bus    plugin.EventBus
	cache  SnapshotCache
	states *stateManager
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Insight plugin instance.
func New(opts ...Option) *Module {
	m := &Module{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "insight",
		Version:     "0.1.0",
		Description: "Sliding-window statistics and anomaly detection",
		Roles:       []string{roles.RoleAnalytics},
		Required:    true,
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("unmarshal insight config: %w", err)
		}
	}

	if deps.Store != nil {
		if err := deps.Store.Migrate(ctx, "insight", migrations()); err != nil {
			return fmt.Errorf("insight migrations: %w", err)
		}
		m.store = NewInsightStore(deps.Store.DB())
	}

	m.bus = deps.Bus
	m.states = newStateManager(m.cfg)

	m.logger.Info("insight module initialized",
		zap.Int("window_size", m.cfg.WindowSize),
		zap.Int("detect_after", m.cfg.detectAfter()),
		zap.Float64("zscore_threshold", m.cfg.ZScoreThreshold),
		zap.Float64("cusum_drift", m.cfg.CUSUMDrift),
		zap.Float64("cusum_threshold", m.cfg.CUSUMThreshold),
		zap.Bool("persistence", m.store != nil),
		zap.Bool("cache", m.cache != nil),
	)
	return nil
}

// ValidateConfig implements plugin.Validator.
func (m *Module) ValidateConfig() error {
	return m.cfg.Validate()
}

func (m *Module) Start(_ context.Context) error {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	if m.store != nil {
		m.warmStart(m.ctx)
	}
	m.startMaintenance()
	m.logger.Info("insight module started", zap.Int("series_restored", m.states.count()))
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	if m.store != nil && m.states != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.persistWindows(ctx)
	}
	m.logger.Info("insight module stopped")
	return nil
}

// -- plugin.HealthChecker --

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	count := 0
	if m.states != nil {
		count = m.states.count()
	}

	persistence := "disabled"
	if m.store != nil {
		persistence = "sqlite"
	}

	status := plugin.HealthStatus{
		Status: plugin.StatusHealthy,
		Details: map[string]string{
			"series_tracked": strconv.Itoa(count),
			"window_size":    strconv.Itoa(m.cfg.WindowSize),
			"persistence":    persistence,
		},
	}
	if m.cfg.MaxSeries > 0 && count >= m.cfg.MaxSeries {
		status.Status = plugin.StatusDegraded
		status.Message = "series limit reached; new series are rejected"
	}
	return status
}

// -- plugin.EventSubscriber --

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: analytics.TopicSamplesCollected, Handler: m.handleSamplesCollected},
	}
}

// handleSamplesCollected is the bus entry point of the pipeline. Invalid
// samples are counted and dropped; the rest of the batch still applies.
func (m *Module) handleSamplesCollected(ctx context.Context, event plugin.Event) {
	var samples []analytics.Sample
	switch p := event.Payload.(type) {
	case []analytics.Sample:
		samples = p
	case analytics.Sample:
		samples = []analytics.Sample{p}
	default:
		m.logger.Debug("ignored samples event: unexpected payload type",
			zap.String("source", event.Source))
		return
	}

	for i := range samples {
		if err := validateSample(&samples[i]); err != nil {
			samplesRejectedTotal.WithLabelValues(rejectInvalid).Inc()
			m.logger.Debug("dropped sample", zap.String("source", event.Source), zap.Error(err))
			continue
		}
		if samples[i].Source == "" {
			samples[i].Source = event.Source
		}
		m.processSample(ctx, samples[i])
	}
}

// -- roles.SampleSink --

// Ingest validates the whole batch, then pushes every sample in order.
// A batch with any invalid sample is rejected without side effects.
func (m *Module) Ingest(ctx context.Context, samples []analytics.Sample) ([]analytics.WindowStat, error) {
	for i := range samples {
		if err := validateSample(&samples[i]); err != nil {
			samplesRejectedTotal.WithLabelValues(rejectInvalid).Add(float64(len(samples)))
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
	}

	stats := make([]analytics.WindowStat, 0, len(samples))
	for i := range samples {
		if stat, ok := m.processSample(ctx, samples[i]); ok {
			stats = append(stats, stat)
		}
	}
	return stats, nil
}

func validateSample(p *analytics.Sample) error {
	switch {
	case p.Series == "":
		return fmt.Errorf("%w: series is required", ErrInvalidSample)
	case len(p.Series) > maxSeriesLen:
		return fmt.Errorf("%w: series longer than %d bytes", ErrInvalidSample, maxSeriesLen)
	case math.IsNaN(p.Value) || math.IsInf(p.Value, 0):
		return fmt.Errorf("%w: value for %q is not finite", ErrInvalidSample, p.Series)
	}
	return nil
}

// processSample runs one validated sample through the pipeline: claim a
// series slot, persist, push into the series window, publish and export the new statistics,
// then score the sample against the window as it was before the push.
func (m *Module) processSample(ctx context.Context, p analytics.Sample) (analytics.WindowStat, bool) {
	if p.Timestamp.IsZero() {
		p.Timestamp = m.now()
	}

	// Samples over the series cap are not stored either, or a restart
	// could replay them ahead of the series that hold the slots.
	state, err := m.states.getOrCreate(p.Series)
	if err != nil {
		samplesRejectedTotal.WithLabelValues(rejectSeriesCap).Inc()
		m.logger.Warn("sample not windowed", zap.String("series", p.Series), zap.Error(err))
		return analytics.WindowStat{}, false
	}

	if m.store != nil {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.store.InsertSample(sctx, &p)
		cancel()
		if err != nil {
			m.logger.Warn("failed to store sample", zap.String("series", p.Series), zap.Error(err))
		}
	}

	obs := state.observe(p.Value, p.Timestamp, m.cfg)
	samplesTotal.WithLabelValues(sourceLabel(p.Source)).Inc()
	seriesTracked.Set(float64(m.states.count()))
	recordWindowMetrics(p.Series, obs.stat.Mean, obs.stat.StdDev, obs.stat.Count)

	if m.bus != nil {
		_ = m.bus.Publish(ctx, plugin.Event{
			Topic:   analytics.TopicWindowUpdated,
			Source:  "insight",
			Payload: obs.stat,
		})
	}

	if m.cache != nil {
		if err := m.cache.Put(ctx, obs.stat); err != nil {
			m.logger.Debug("failed to cache window", zap.String("series", p.Series), zap.Error(err))
		}
	}

	if obs.checked {
		if obs.zscore.IsAnomaly {
			m.recordAnomaly(ctx, &p, "zscore", obs.zscore.Severity, obs.zscore.ZScore, obs.prev.Mean)
		}
		if obs.cusum.IsChangePoint {
			sum := obs.cusum.High
			if obs.cusum.Direction == anomaly.DirectionDown {
				sum = -obs.cusum.Low
			}
			m.recordAnomaly(ctx, &p, "cusum", anomaly.SeverityWarning, sum, obs.prev.Mean)
		}
	}

	return obs.stat, true
}

// recordAnomaly stores an anomaly and publishes an event.
func (m *Module) recordAnomaly(ctx context.Context, p *analytics.Sample, anomalyType, severity string, deviation, expected float64) {
	a := &analytics.Anomaly{
		ID:          uuid.NewString(),
		Series:      p.Series,
		Severity:    severity,
		Type:        anomalyType,
		Value:       p.Value,
		Expected:    expected,
		Deviation:   deviation,
		DetectedAt:  m.now(),
		Description: fmt.Sprintf("%s anomaly on %s: value=%.4g expected=%.4g deviation=%.2f", anomalyType, p.Series, p.Value, expected, deviation),
	}

	anomaliesTotal.WithLabelValues(anomalyType, severity).Inc()
	m.logger.Info("anomaly detected",
		zap.String("id", a.ID),
		zap.String("series", p.Series),
		zap.String("type", anomalyType),
		zap.String("severity", severity),
		zap.Float64("value", p.Value),
		zap.Float64("expected", expected),
		zap.Float64("deviation", deviation),
	)

	if m.store != nil {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := m.store.InsertAnomaly(sctx, a); err != nil {
			m.logger.Warn("failed to store anomaly", zap.Error(err))
		}
	}

	if m.bus != nil {
		_ = m.bus.Publish(ctx, plugin.Event{
			Topic:   analytics.TopicAnomalyDetected,
			Source:  "insight",
			Payload: a,
		})
	}
}

// warmStart rebuilds each stored series' window by replaying its newest
// samples, so a restart does not reset every baseline to empty.
func (m *Module) warmStart(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	series, err := m.store.ListSeries(ctx)
	if err != nil {
		m.logger.Warn("warm start skipped", zap.Error(err))
		return
	}
	for _, name := range series {
		samples, err := m.store.RecentSamples(ctx, name, m.cfg.WindowSize)
		if err != nil {
			m.logger.Warn("failed to load samples", zap.String("series", name), zap.Error(err))
			continue
		}
		if len(samples) == 0 {
			continue
		}
		state, err := m.states.getOrCreate(name)
		if err != nil {
			m.logger.Warn("warm start stopped", zap.Error(err))
			return
		}
		values := make([]float64, len(samples))
		for i := range samples {
			values[i] = samples[i].Value
		}
		state.replay(values, samples[len(samples)-1].Timestamp)
		stat := state.snapshot()
		recordWindowMetrics(name, stat.Mean, stat.StdDev, stat.Count)
	}
	seriesTracked.Set(float64(m.states.count()))
}

// -- roles.WindowProvider --

// Windows implements roles.WindowProvider.
func (m *Module) Windows(_ context.Context) []analytics.WindowStat {
	if m.states == nil {
		return nil
	}
	return m.states.snapshot()
}

// Window implements roles.WindowProvider.
func (m *Module) Window(_ context.Context, series string) (analytics.WindowStat, bool) {
	if m.states == nil {
		return analytics.WindowStat{}, false
	}
	return m.states.get(series)
}

// -- roles.AnomalyProvider --

// Anomalies implements roles.AnomalyProvider.
func (m *Module) Anomalies(ctx context.Context, series string, limit int) ([]analytics.Anomaly, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.ListAnomalies(ctx, AnomalyFilter{Series: series, Limit: limit})
}
