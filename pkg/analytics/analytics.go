// Package analytics provides public SDK types for the winstat analytics system.
// This package is Apache 2.0 licensed, part of the public plugin SDK.
package analytics

import "time"

// Event bus topics shared by producers and consumers of window statistics.
const (
	// TopicSamplesCollected carries a []Sample from a telemetry source.
	TopicSamplesCollected = "metrics.collected"
	// TopicWindowUpdated carries a WindowStat after every accepted sample.
	TopicWindowUpdated = "insight.window.updated"
	// TopicAnomalyDetected carries an *Anomaly.
	TopicAnomalyDetected = "insight.anomaly.detected"
	// TopicAnomalyResolved carries the resolved *Anomaly.
	TopicAnomalyResolved = "insight.anomaly.resolved"
)

// Sample is a single telemetry data point for a named series.
type Sample struct {
	Series    string            `json:"series"`           // Stream identifier, e.g. "host-1/cpu"
	Source    string            `json:"source,omitempty"` // Producer: "probe", "api", ...
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// WindowStat is the state of a series' sliding window after its latest sample.
type WindowStat struct {
	Series    string    `json:"series"`
	Window    int       `json:"window"` // Window capacity
	Count     int       `json:"count"`  // Samples currently in the window
	Last      float64   `json:"last"`   // Most recently pushed value
	Mean      float64   `json:"mean"`
	StdDev    float64   `json:"std_dev"`
	Full      bool      `json:"full"` // true once the window is sliding
	UpdatedAt time.Time `json:"updated_at"`
}

// Anomaly represents a sample that deviated from its window statistics.
type Anomaly struct {
	ID          string     `json:"id"`
	Series      string     `json:"series"`
	Severity    string     `json:"severity"`  // "warning", "critical"
	Type        string     `json:"type"`      // "zscore", "cusum"
	Value       float64    `json:"value"`     // Observed value
	Expected    float64    `json:"expected"`  // Window mean before the sample
	Deviation   float64    `json:"deviation"` // z-score, or the CUSUM sum that crossed
	DetectedAt  time.Time  `json:"detected_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	Description string     `json:"description"`
}

// SampleBatch is the request body for POST /insight/samples.
type SampleBatch struct {
	Samples []Sample `json:"samples"`
}

// IngestResponse is the response for POST /insight/samples.
type IngestResponse struct {
	Accepted int          `json:"accepted"`
	Windows  []WindowStat `json:"windows"`
}
