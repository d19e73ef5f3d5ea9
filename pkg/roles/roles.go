// Package roles defines typed contracts for plugin roles.
// Plugins that fill a role (declared via PluginInfo.Roles) should implement
// the corresponding interface so callers can use type-safe access via
// PluginResolver.ResolveByRole followed by a type assertion.
//
// This package is Apache 2.0 licensed, part of the public plugin SDK.
package roles

import (
	"context"

	"github.com/HerbHall/winstat/pkg/analytics"
)

// Role name constants match the strings used in PluginInfo.Roles.
const (
	RoleAnalytics   = "analytics"
	RoleTelemetry   = "telemetry"
	RoleIntegration = "integration"
)

// WindowProvider is implemented by analytics plugins that keep a sliding
// window per series. Resolve via PluginResolver.ResolveByRole(RoleAnalytics).
type WindowProvider interface {
	// Windows returns the current state of every tracked series.
	Windows(ctx context.Context) []analytics.WindowStat

	// Window returns the current state of one series.
	Window(ctx context.Context, series string) (analytics.WindowStat, bool)
}

// SampleSink is implemented by plugins that accept samples directly,
// bypassing the event bus.
type SampleSink interface {
	Ingest(ctx context.Context, samples []analytics.Sample) ([]analytics.WindowStat, error)
}

// AnomalyProvider is implemented by plugins that record anomalies.
type AnomalyProvider interface {
	// Anomalies returns recent anomalies, newest first. An empty series
	// matches every series.
	Anomalies(ctx context.Context, series string, limit int) ([]analytics.Anomaly, error)
}

// TargetLister is implemented by telemetry plugins with a fixed target set.
type TargetLister interface {
	Targets() []string
}
