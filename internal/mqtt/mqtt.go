// Package mqtt bridges the window pipeline to an MQTT broker. Inbound
// messages on <prefix>/samples/<series> become samples; window updates and
// anomalies are published back under <prefix>/window and <prefix>/anomaly.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/HerbHall/winstat/internal/version"
	"github.com/HerbHall/winstat/pkg/analytics"
	"github.com/HerbHall/winstat/pkg/plugin"
	"github.com/HerbHall/winstat/pkg/roles"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ plugin.Validator       = (*Module)(nil)
)

// Option configures a Module.
type Option func(*Module)

// WithClientFactory replaces pahomqtt.NewClient, mainly for tests.
func WithClientFactory(fn func(*pahomqtt.ClientOptions) pahomqtt.Client) Option {
	return func(m *Module) { m.newClient = fn }
}

// Module implements the MQTT bridge plugin.
type Module struct {
	logger    *zap.Logger
	cfg       Config
	bus       plugin.EventBus
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	mu     sync.RWMutex
	client pahomqtt.Client

	seenMu    sync.Mutex
	announced map[string]bool
}

// New creates a new MQTT bridge plugin instance.
func New(opts ...Option) *Module {
	m := &Module{
		newClient: pahomqtt.NewClient,
		announced: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "mqtt",
		Version:     "0.1.0",
		Description: "Bridges samples and window statistics to an MQTT broker",
		Roles:       []string{roles.RoleIntegration},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("unmarshal mqtt config: %w", err)
		}
	}

	if m.cfg.BrokerURL == "" {
		m.logger.Warn("MQTT broker URL not configured; bridge is idle",
			zap.String("component", "mqtt"),
		)
	}

	m.logger.Info("mqtt module initialized",
		zap.String("broker_url", m.cfg.BrokerURL),
		zap.String("client_id", m.cfg.ClientID),
		zap.String("topic_prefix", m.cfg.TopicPrefix),
		zap.Uint8("qos", m.cfg.QoS),
		zap.Bool("ingest", m.cfg.Ingest),
		zap.Bool("ha_discovery", m.cfg.HADiscovery),
	)
	return nil
}

// ValidateConfig implements plugin.Validator.
func (m *Module) ValidateConfig() error {
	return m.cfg.Validate()
}

func (m *Module) Start(_ context.Context) error {
	if m.cfg.BrokerURL == "" {
		m.logger.Info("mqtt module started (no-op: no broker configured)")
		return nil
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(m.cfg.BrokerURL).
		SetClientID(m.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(m.cfg.Timeout).
		SetOnConnectHandler(m.onConnect)

	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password) //nolint:gosec // G101: config field
	}

	client := m.newClient(opts)
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	token := client.Connect()
	switch {
	case !token.WaitTimeout(m.cfg.Timeout):
		m.logger.Warn("mqtt connection timed out; will reconnect in background")
	case token.Error() != nil:
		m.logger.Warn("mqtt connection failed; will reconnect in background",
			zap.Error(token.Error()),
		)
	default:
		m.logger.Info("mqtt connected to broker",
			zap.String("broker_url", m.cfg.BrokerURL),
		)
	}
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
		m.logger.Info("mqtt disconnected")
	}
	return nil
}

// onConnect (re)subscribes to the samples topic. Paho calls it after every
// successful connect, including automatic reconnects.
func (m *Module) onConnect(c pahomqtt.Client) {
	if !m.cfg.Ingest {
		return
	}
	filter := m.cfg.TopicPrefix + "/samples/#"
	token := c.Subscribe(filter, m.cfg.QoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		m.ingest(context.Background(), msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(m.cfg.Timeout) {
		m.logger.Warn("mqtt subscribe timed out", zap.String("filter", filter))
		return
	}
	if err := token.Error(); err != nil {
		m.logger.Warn("mqtt subscribe failed", zap.String("filter", filter), zap.Error(err))
		return
	}
	m.logger.Info("mqtt subscribed", zap.String("filter", filter))
}

// ingest turns one inbound message into a sample on the bus.
func (m *Module) ingest(ctx context.Context, topic string, payload []byte) {
	s, err := ParseSample(m.cfg.TopicPrefix, topic, payload)
	if err != nil {
		messagesTotal.WithLabelValues(directionIn, resultRejected).Inc()
		m.logger.Debug("mqtt message rejected",
			zap.String("mqtt_topic", topic),
			zap.Error(err),
		)
		return
	}
	messagesTotal.WithLabelValues(directionIn, resultAccepted).Inc()
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(ctx, plugin.Event{
		Topic:   analytics.TopicSamplesCollected,
		Source:  "mqtt",
		Payload: []analytics.Sample{s},
	})
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: analytics.TopicWindowUpdated, Handler: m.publishWindow},
		{Topic: analytics.TopicAnomalyDetected, Handler: m.publishAnomaly},
		{Topic: analytics.TopicAnomalyResolved, Handler: m.publishAnomaly},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.cfg.BrokerURL == "" {
		return plugin.HealthStatus{
			Status:  plugin.StatusHealthy,
			Message: "no broker configured (no-op mode)",
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil || !m.client.IsConnected() {
		return plugin.HealthStatus{
			Status:  plugin.StatusDegraded,
			Message: "not connected to MQTT broker",
		}
	}
	return plugin.HealthStatus{
		Status:  plugin.StatusHealthy,
		Message: "connected to " + m.cfg.BrokerURL,
	}
}

func (m *Module) publishWindow(_ context.Context, event plugin.Event) {
	stat, ok := event.Payload.(analytics.WindowStat)
	if !ok {
		return
	}
	payload, err := json.Marshal(stat)
	if err != nil {
		m.logger.Warn("failed to marshal window state",
			zap.String("series", stat.Series),
			zap.Error(err),
		)
		return
	}
	if !m.publish(windowTopic(m.cfg.TopicPrefix, stat.Series), m.cfg.Retain, payload) {
		return
	}
	if m.cfg.HADiscovery {
		m.announce(stat.Series)
	}
}

func (m *Module) publishAnomaly(_ context.Context, event plugin.Event) {
	a, ok := event.Payload.(*analytics.Anomaly)
	if !ok || a == nil {
		return
	}
	payload, err := json.Marshal(a)
	if err != nil {
		m.logger.Warn("failed to marshal anomaly",
			zap.String("anomaly_id", a.ID),
			zap.Error(err),
		)
		return
	}
	m.publish(anomalyTopic(m.cfg.TopicPrefix, a.Series), false, payload)
}

// announce publishes HA discovery configs the first time a series is seen.
func (m *Module) announce(series string) {
	m.seenMu.Lock()
	if m.announced[series] {
		m.seenMu.Unlock()
		return
	}
	m.announced[series] = true
	m.seenMu.Unlock()

	// Discovery configs are always retained so HA picks them up on restart.
	for _, cfg := range BuildSeriesDiscoveryConfigs(series, m.cfg.TopicPrefix, m.cfg.HADiscoveryPrefix, version.Short()) {
		m.publish(cfg.Topic, true, cfg.Payload)
	}
}

// publish sends one message and reports whether the broker acknowledged it.
func (m *Module) publish(topic string, retained bool, payload []byte) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.client == nil || !m.client.IsConnected() {
		return false
	}

	token := m.client.Publish(topic, m.cfg.QoS, retained, payload)
	if !token.WaitTimeout(m.cfg.Timeout) {
		messagesTotal.WithLabelValues(directionOut, resultFailed).Inc()
		m.logger.Warn("mqtt publish timed out", zap.String("mqtt_topic", topic))
		return false
	}
	if err := token.Error(); err != nil {
		messagesTotal.WithLabelValues(directionOut, resultFailed).Inc()
		m.logger.Warn("mqtt publish failed",
			zap.String("mqtt_topic", topic),
			zap.Error(err),
		)
		return false
	}
	messagesTotal.WithLabelValues(directionOut, resultSent).Inc()
	m.logger.Debug("mqtt message published", zap.String("mqtt_topic", topic))
	return true
}
