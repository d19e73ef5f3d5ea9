package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig is the logging section of the configuration.
type LogConfig struct {
	Level    string   `mapstructure:"level"`    // debug, info, warn, error
	Format   string   `mapstructure:"format"`   // json or console
	Output   []string `mapstructure:"output"`   // zap sinks; stderr when empty
	Sampling bool     `mapstructure:"sampling"` // json only
}

// NewLogger builds the process logger from the "logging" section of v.
func NewLogger(v *viper.Viper) (*zap.Logger, error) {
	var lc LogConfig
	if err := v.UnmarshalKey("logging", &lc); err != nil {
		return nil, fmt.Errorf("logging config: %w", err)
	}
	return lc.Build()
}

// Build returns a logger tagged with service=winstat. Empty fields take
// the defaults: info level, json format, stderr.
func (lc LogConfig) Build() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if lc.Level != "" {
		if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", lc.Level, err)
		}
	}

	var cfg zap.Config
	switch strings.ToLower(lc.Format) {
	case "", "json":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if !lc.Sampling {
			cfg.Sampling = nil
		}
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.Development = false
	default:
		return nil, fmt.Errorf("invalid log format %q: want json or console", lc.Format)
	}

	cfg.Level = zap.NewAtomicLevelAt(level)
	if len(lc.Output) > 0 {
		cfg.OutputPaths = lc.Output
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.With(zap.String("service", "winstat")), nil
}
