package insight

import (
	"fmt"
	"time"

	"github.com/HerbHall/winstat/pkg/winstat"
)

// InsightConfig holds configuration for the Insight analytics plugin.
type InsightConfig struct {
	WindowSize          int           `mapstructure:"window_size"`
	MinSamples          int           `mapstructure:"min_samples"` // 0 means detect once the window is full
	MaxSeries           int           `mapstructure:"max_series"`  // 0 means unlimited
	ZScoreThreshold     float64       `mapstructure:"zscore_threshold"`
	CUSUMDrift          float64       `mapstructure:"cusum_drift"`
	CUSUMThreshold      float64       `mapstructure:"cusum_threshold"`
	AnomalyRetention    time.Duration `mapstructure:"anomaly_retention"`
	SampleRetention     time.Duration `mapstructure:"sample_retention"`
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
}

// DefaultConfig returns sensible defaults for the Insight module.
func DefaultConfig() InsightConfig {
	return InsightConfig{
		WindowSize:          60,
		MaxSeries:           10000,
		ZScoreThreshold:     3.0,
		CUSUMDrift:          0.5,
		CUSUMThreshold:      5.0,
		AnomalyRetention:    30 * 24 * time.Hour,
		SampleRetention:     7 * 24 * time.Hour,
		MaintenanceInterval: 1 * time.Hour,
	}
}

// Validate reports the first invalid setting.
func (c InsightConfig) Validate() error {
	switch {
	case c.WindowSize < winstat.MinWindowSize:
		return fmt.Errorf("window_size must be at least %d, got %d", winstat.MinWindowSize, c.WindowSize)
	case c.MinSamples != 0 && (c.MinSamples < 2 || c.MinSamples > c.WindowSize):
		return fmt.Errorf("min_samples must be 0 or between 2 and window_size (%d), got %d", c.WindowSize, c.MinSamples)
	case c.MaxSeries < 0:
		return fmt.Errorf("max_series must not be negative, got %d", c.MaxSeries)
	case c.ZScoreThreshold <= 0:
		return fmt.Errorf("zscore_threshold must be positive, got %g", c.ZScoreThreshold)
	case c.CUSUMDrift < 0:
		return fmt.Errorf("cusum_drift must not be negative, got %g", c.CUSUMDrift)
	case c.CUSUMThreshold <= 0:
		return fmt.Errorf("cusum_threshold must be positive, got %g", c.CUSUMThreshold)
	case c.MaintenanceInterval <= 0:
		return fmt.Errorf("maintenance_interval must be positive, got %s", c.MaintenanceInterval)
	}
	return nil
}

// detectAfter is the number of samples a window must hold before its
// statistics are trusted as a baseline for anomaly checks.
func (c InsightConfig) detectAfter() int {
	if c.MinSamples > 0 {
		return c.MinSamples
	}
	return c.WindowSize
}
