// Package plugintest holds the behavioral contract every winstat plugin
// must satisfy. Each module runs it from its own tests:
//
//	func TestContract(t *testing.T) {
//		plugintest.TestPluginContract(t, func() plugin.Plugin { return insight.New() })
//	}
package plugintest

import (
	"context"
	"testing"

	"github.com/HerbHall/winstat/pkg/plugin"
	"go.uber.org/zap/zaptest"
)

// TestPluginContract checks factory's plugin against the lifecycle rules
// the registry relies on. The plugin is initialized with a logger only, so
// it must run on its configuration defaults without a store or bus.
func TestPluginContract(t *testing.T, factory func() plugin.Plugin) {
	t.Helper()

	initialized := func(t *testing.T) plugin.Plugin {
		t.Helper()
		p := factory()
		deps := plugin.Dependencies{Logger: zaptest.NewLogger(t).Named(p.Info().Name)}
		if err := p.Init(context.Background(), deps); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		return p
	}

	t.Run("Info", func(t *testing.T) {
		p := factory()
		info := p.Info()
		switch {
		case info.Name == "":
			t.Error("Info().Name is empty")
		case info.Version == "":
			t.Error("Info().Version is empty")
		case info.APIVersion < plugin.APIVersionMin || info.APIVersion > plugin.APIVersionCurrent:
			t.Errorf("Info().APIVersion = %d, supported range is [%d, %d]",
				info.APIVersion, plugin.APIVersionMin, plugin.APIVersionCurrent)
		}
		if again := p.Info(); again.Name != info.Name || again.Version != info.Version {
			t.Error("Info() is not stable across calls")
		}
	})

	t.Run("Init_with_defaults", func(t *testing.T) {
		initialized(t)
	})

	t.Run("Defaults_validate", func(t *testing.T) {
		p := initialized(t)
		v, ok := p.(plugin.Validator)
		if !ok {
			t.Skip("plugin does not implement Validator")
		}
		if err := v.ValidateConfig(); err != nil {
			t.Errorf("ValidateConfig() with defaults = %v", err)
		}
	})

	t.Run("Start_then_Stop", func(t *testing.T) {
		p := initialized(t)
		if err := p.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if err := p.Stop(context.Background()); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	})

	t.Run("Stop_without_Start", func(t *testing.T) {
		p := initialized(t)
		if err := p.Stop(context.Background()); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	})

	t.Run("Routes", func(t *testing.T) {
		p := initialized(t)
		hp, ok := p.(plugin.HTTPProvider)
		if !ok {
			t.Skip("plugin does not implement HTTPProvider")
		}
		seen := make(map[string]bool)
		for _, r := range hp.Routes() {
			if r.Method == "" || r.Path == "" || r.Handler == nil {
				t.Errorf("incomplete route %+v", r)
			}
			key := r.Method + " " + r.Path
			if seen[key] {
				t.Errorf("duplicate route %s", key)
			}
			seen[key] = true
		}
	})

	t.Run("Subscriptions", func(t *testing.T) {
		p := initialized(t)
		es, ok := p.(plugin.EventSubscriber)
		if !ok {
			t.Skip("plugin does not implement EventSubscriber")
		}
		for _, s := range es.Subscriptions() {
			if s.Topic == "" || s.Handler == nil {
				t.Errorf("incomplete subscription for topic %q", s.Topic)
			}
		}
	})

	t.Run("Health", func(t *testing.T) {
		p := initialized(t)
		hc, ok := p.(plugin.HealthChecker)
		if !ok {
			t.Skip("plugin does not implement HealthChecker")
		}
		switch hs := hc.Health(context.Background()); hs.Status {
		case plugin.StatusHealthy, plugin.StatusDegraded, plugin.StatusUnhealthy:
		default:
			t.Errorf("Health().Status = %q, not a known state", hs.Status)
		}
	})
}
