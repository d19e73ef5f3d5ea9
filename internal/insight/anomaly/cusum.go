package anomaly

import (
	"math"

	"github.com/HerbHall/winstat/pkg/winstat"
)

// Change directions reported by CUSUM.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// CUSUMResult contains the result of a CUSUM observation.
type CUSUMResult struct {
	IsChangePoint bool
	Direction     string
	High          float64 // S+ before any reset
	Low           float64 // S- before any reset
}

// CUSUM is a two-sided tabular cumulative-sum change-point detector over
// values normalized by a sliding window's mean and standard deviation.
type CUSUM struct {
	Drift     float64 // Allowable slack k, in standard deviations
	Threshold float64 // Decision interval h, in standard deviations
	High      float64
	Low       float64
}

// NewCUSUM creates a new CUSUM detector.
func NewCUSUM(drift, threshold float64) *CUSUM {
	return &CUSUM{Drift: drift, Threshold: threshold}
}

// Observe normalizes value against baseline and folds it into the sums.
// Observations against a flat or non-finite baseline are skipped. A side
// that crosses the threshold reports a change point and restarts from zero.
func (c *CUSUM) Observe(value float64, baseline winstat.InstantStat) CUSUMResult {
	if !(baseline.StdDev > 0) || math.IsInf(baseline.StdDev, 0) {
		return CUSUMResult{High: c.High, Low: c.Low}
	}
	normalized := (value - baseline.Mean) / baseline.StdDev
	if math.IsNaN(normalized) || math.IsInf(normalized, 0) {
		return CUSUMResult{High: c.High, Low: c.Low}
	}
	return c.update(normalized)
}

func (c *CUSUM) update(normalized float64) CUSUMResult {
	c.High = math.Max(0, c.High+normalized-c.Drift)
	c.Low = math.Max(0, c.Low-normalized-c.Drift)

	result := CUSUMResult{High: c.High, Low: c.Low}
	if c.High > c.Threshold {
		result.IsChangePoint = true
		result.Direction = DirectionUp
		c.High = 0
	}
	if c.Low > c.Threshold {
		result.IsChangePoint = true
		result.Direction = DirectionDown
		c.Low = 0
	}
	return result
}

// Reset clears both accumulators.
func (c *CUSUM) Reset() {
	c.High = 0
	c.Low = 0
}
