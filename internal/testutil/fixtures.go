// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/winstat/pkg/analytics"
)

// NewSample returns a Sample with sensible defaults, suitable for test fixtures.
// Override individual fields after creation as needed.
func NewSample(opts ...func(*analytics.Sample)) analytics.Sample {
	s := analytics.Sample{
		Series:    "test-host/cpu",
		Source:    "test",
		Value:     1,
		Timestamp: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithSeries sets the sample series.
func WithSeries(series string) func(*analytics.Sample) {
	return func(s *analytics.Sample) { s.Series = series }
}

// WithValue sets the sample value.
func WithValue(v float64) func(*analytics.Sample) {
	return func(s *analytics.Sample) { s.Value = v }
}

// WithTimestamp sets the sample timestamp.
func WithTimestamp(t time.Time) func(*analytics.Sample) {
	return func(s *analytics.Sample) { s.Timestamp = t }
}

// Samples returns one sample per value for series, one second apart and
// ending now.
func Samples(series string, values ...float64) []analytics.Sample {
	end := time.Now().UTC()
	out := make([]analytics.Sample, len(values))
	for i, v := range values {
		out[i] = NewSample(
			WithSeries(series),
			WithValue(v),
			WithTimestamp(end.Add(time.Duration(i-len(values)+1)*time.Second)),
		)
	}
	return out
}

// NewWindowStat returns a full window snapshot with sensible defaults.
func NewWindowStat(series string, opts ...func(*analytics.WindowStat)) analytics.WindowStat {
	w := analytics.WindowStat{
		Series:    series,
		Window:    4,
		Count:     4,
		Mean:      4.3,
		StdDev:    2.151,
		Full:      true,
		UpdatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&w)
	}
	return w
}

// WithMean sets the window mean.
func WithMean(mean float64) func(*analytics.WindowStat) {
	return func(w *analytics.WindowStat) { w.Mean = mean }
}

// NewAnomaly returns an unresolved z-score anomaly with sensible defaults.
func NewAnomaly(opts ...func(*analytics.Anomaly)) analytics.Anomaly {
	a := analytics.Anomaly{
		ID:          uuid.New().String(),
		Series:      "test-host/cpu",
		Severity:    "warning",
		Type:        "zscore",
		Value:       42,
		Expected:    10,
		Deviation:   3.5,
		DetectedAt:  time.Now().UTC(),
		Description: "test anomaly",
	}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// WithAnomalySeries sets the anomaly series.
func WithAnomalySeries(series string) func(*analytics.Anomaly) {
	return func(a *analytics.Anomaly) { a.Series = series }
}

// WithDetectedAt sets the anomaly detection time.
func WithDetectedAt(t time.Time) func(*analytics.Anomaly) {
	return func(a *analytics.Anomaly) { a.DetectedAt = t }
}
