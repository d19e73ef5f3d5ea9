package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	Host                string  `mapstructure:"host"`
	Port                int     `mapstructure:"port"`
	RateLimitRPS        float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst      int     `mapstructure:"rate_limit_burst"`
	WriteRateLimitRPS   float64 `mapstructure:"write_rate_limit_rps"`
	WriteRateLimitBurst int     `mapstructure:"write_rate_limit_burst"`
	TrustProxy          bool    `mapstructure:"trust_proxy"`
}

// RateLimits converts the rate limit settings for RateLimitMiddleware.
func (c *Config) RateLimits() RateLimits {
	return RateLimits{
		ReadRPS:    c.RateLimitRPS,
		ReadBurst:  c.RateLimitBurst,
		WriteRPS:   c.WriteRateLimitRPS,
		WriteBurst: c.WriteRateLimitBurst,
		TrustProxy: c.TrustProxy,
	}
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_rps", 100)
	v.SetDefault("server.rate_limit_burst", 200)
	v.SetDefault("server.write_rate_limit_rps", 500)
	v.SetDefault("server.write_rate_limit_burst", 1000)
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.ws_origins", []string{})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", []string{})
	v.SetDefault("logging.sampling", true)
	v.SetDefault("database.path", "./data/winstat.db")

	// Plugin defaults
	v.SetDefault("plugins.insight.window_size", 60)
	v.SetDefault("plugins.insight.min_samples", 0)
	v.SetDefault("plugins.insight.zscore_threshold", 3.0)
	v.SetDefault("plugins.insight.cusum_drift", 0.5)
	v.SetDefault("plugins.insight.cusum_threshold", 5.0)
	v.SetDefault("plugins.insight.anomaly_retention", "720h")
	v.SetDefault("plugins.insight.sample_retention", "168h")
	v.SetDefault("plugins.insight.maintenance_interval", "1h")
	v.SetDefault("plugins.probe.enabled", true)
	v.SetDefault("plugins.probe.interval", "30s")
	v.SetDefault("plugins.probe.count", 3)
	v.SetDefault("plugins.probe.timeout", "5s")
	v.SetDefault("plugins.probe.privileged", false)
	v.SetDefault("plugins.probe.max_workers", 10)
	v.SetDefault("plugins.mqtt.enabled", true)
	v.SetDefault("plugins.mqtt.broker_url", "")
	v.SetDefault("plugins.mqtt.client_id", "winstat")
	v.SetDefault("plugins.mqtt.topic_prefix", "winstat")
	v.SetDefault("plugins.mqtt.qos", 1)
	v.SetDefault("plugins.mqtt.retain", true)
	v.SetDefault("plugins.mqtt.timeout", "10s")
	v.SetDefault("plugins.mqtt.ingest", true)
	v.SetDefault("plugins.mqtt.ha_discovery", false)
	v.SetDefault("plugins.mqtt.ha_discovery_prefix", "homeassistant")
	v.SetDefault("cache.redis.addr", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.ttl", "10m")
	v.SetDefault("cache.redis.recent_limit", 100)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("winstat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/winstat")
	}

	// Environment variable support: WS_SERVER_PORT=9090
	v.SetEnvPrefix("WS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}
