// Package anomaly holds the detectors the insight plugin runs against a
// series' sliding-window statistics.
package anomaly

import (
	"math"

	"github.com/HerbHall/winstat/pkg/winstat"
)

// Severity levels for detected anomalies.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// ZScoreResult contains the result of a Z-score check.
type ZScoreResult struct {
	IsAnomaly bool
	ZScore    float64
	Severity  string
}

// ZScore scores value against a window's statistics from before value was
// pushed. threshold is the minimum |z| to flag; |z| >= threshold+1 is critical.
// A flat window (stddev 0) or a non-finite score never flags, except that an
// infinite value against a finite baseline is always critical.
func ZScore(value float64, baseline winstat.InstantStat, threshold float64) ZScoreResult {
	if !(baseline.StdDev > 0) || math.IsInf(baseline.StdDev, 0) || math.IsNaN(baseline.Mean) {
		return ZScoreResult{}
	}
	z := (value - baseline.Mean) / baseline.StdDev
	if math.IsNaN(z) {
		return ZScoreResult{}
	}

	absZ := math.Abs(z)
	if absZ < threshold {
		return ZScoreResult{ZScore: z}
	}

	severity := SeverityWarning
	if absZ >= threshold+1 {
		severity = SeverityCritical
	}
	return ZScoreResult{
		IsAnomaly: true,
		ZScore:    z,
		Severity:  severity,
	}
}
