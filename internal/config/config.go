// Package config adapts Viper to plugin.Config and builds the Zap logger
// shared by the winstat binaries.
package config

import (
	"time"

	"github.com/HerbHall/winstat/pkg/plugin"
	"github.com/spf13/viper"
)

var _ plugin.Config = (*ViperConfig)(nil)

// ViperConfig is a plugin.Config view over one Viper tree. Plugins receive
// the subtree under plugins.<name>.
type ViperConfig struct {
	v *viper.Viper
}

// New wraps v. A nil v gives an empty config so plugins fall back to their
// defaults.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

func (c *ViperConfig) Unmarshal(target any) error           { return c.v.Unmarshal(target) }
func (c *ViperConfig) Get(key string) any                   { return c.v.Get(key) }
func (c *ViperConfig) GetString(key string) string          { return c.v.GetString(key) }
func (c *ViperConfig) GetInt(key string) int                { return c.v.GetInt(key) }
func (c *ViperConfig) GetBool(key string) bool              { return c.v.GetBool(key) }
func (c *ViperConfig) GetDuration(key string) time.Duration { return c.v.GetDuration(key) }
func (c *ViperConfig) IsSet(key string) bool                { return c.v.IsSet(key) }

// Sub scopes the config to key; a missing section is empty, never nil.
func (c *ViperConfig) Sub(key string) plugin.Config {
	return New(c.v.Sub(key))
}
