package mqtt

import (
	"errors"
	"strings"
	"time"
)

// Config holds MQTT bridge configuration.
type Config struct {
	BrokerURL   string        `mapstructure:"broker_url"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"` //nolint:gosec // G101: config field name, not a credential
	ClientID    string        `mapstructure:"client_id"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	QoS         byte          `mapstructure:"qos"`
	Retain      bool          `mapstructure:"retain"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// Ingest subscribes to <topic_prefix>/samples/# and feeds every
	// message into the sample pipeline.
	Ingest bool `mapstructure:"ingest"`

	// Home Assistant MQTT auto-discovery settings.
	HADiscovery       bool   `mapstructure:"ha_discovery"`        // Announce mean/stddev sensors per series
	HADiscoveryPrefix string `mapstructure:"ha_discovery_prefix"` // HA discovery topic prefix (default: "homeassistant")
}

// DefaultConfig returns sensible defaults for the MQTT bridge.
func DefaultConfig() Config {
	return Config{
		BrokerURL:         "", // disabled by default
		ClientID:          "winstat",
		TopicPrefix:       "winstat",
		QoS:               1,
		Retain:            true,
		Timeout:           10 * time.Second,
		Ingest:            true,
		HADiscovery:       false,
		HADiscoveryPrefix: "homeassistant",
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	switch {
	case c.QoS > 2:
		return errors.New("mqtt: qos must be 0, 1 or 2")
	case c.Timeout <= 0:
		return errors.New("mqtt: timeout must be positive")
	case c.TopicPrefix == "" || strings.ContainsAny(c.TopicPrefix, "#+"):
		return errors.New("mqtt: topic_prefix must be non-empty and free of wildcards")
	case c.HADiscovery && c.HADiscoveryPrefix == "":
		return errors.New("mqtt: ha_discovery_prefix is required with ha_discovery")
	}
	return nil
}
