package probe

import (
	"fmt"
	"time"
)

// ProbeConfig holds configuration for the ICMP probe plugin.
type ProbeConfig struct {
	Targets    []string      `mapstructure:"targets"`
	Interval   time.Duration `mapstructure:"interval"`
	Count      int           `mapstructure:"count"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Privileged bool          `mapstructure:"privileged"`
	MaxWorkers int           `mapstructure:"max_workers"`
}

func DefaultConfig() ProbeConfig {
	return ProbeConfig{
		Interval:   30 * time.Second,
		Count:      3,
		Timeout:    5 * time.Second,
		MaxWorkers: 10,
	}
}

// Validate reports the first invalid setting. An empty target list is
// valid and leaves the probe idle.
func (c ProbeConfig) Validate() error {
	switch {
	case c.Interval <= 0:
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	case c.Count < 1:
		return fmt.Errorf("count must be at least 1, got %d", c.Count)
	case c.Timeout <= 0:
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	case c.Timeout > c.Interval:
		return fmt.Errorf("timeout (%s) must not exceed interval (%s)", c.Timeout, c.Interval)
	case c.MaxWorkers < 1:
		return fmt.Errorf("max_workers must be at least 1, got %d", c.MaxWorkers)
	}
	for i, t := range c.Targets {
		if t == "" {
			return fmt.Errorf("targets[%d] is empty", i)
		}
	}
	return nil
}
