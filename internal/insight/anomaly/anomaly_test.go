package anomaly

import (
	"math"
	"testing"

	"github.com/HerbHall/winstat/pkg/winstat"
)

var baseline = winstat.InstantStat{Mean: 100, StdDev: 10}

func TestZScore(t *testing.T) {
	tests := []struct {
		name         string
		value        float64
		baseline     winstat.InstantStat
		wantAnomaly  bool
		wantZ        float64
		wantSeverity string
	}{
		{"value at mean", 100, baseline, false, 0, ""},
		{"within one stddev", 105, baseline, false, 0.5, ""},
		{"just under threshold", 129.9, baseline, false, 2.99, ""},
		{"exactly at threshold", 130, baseline, true, 3, SeverityWarning},
		{"just under critical", 139.9, baseline, true, 3.99, SeverityWarning},
		{"exactly critical", 140, baseline, true, 4, SeverityCritical},
		{"negative warning", 70, baseline, true, -3, SeverityWarning},
		{"negative critical", 60, baseline, true, -4, SeverityCritical},
		{"flat window", 500, winstat.InstantStat{Mean: 100}, false, 0, ""},
		{"nan value", math.NaN(), baseline, false, 0, ""},
		{"nan baseline", 100, winstat.InstantStat{Mean: math.NaN(), StdDev: math.NaN()}, false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ZScore(tt.value, tt.baseline, 3.0)
			if got.IsAnomaly != tt.wantAnomaly {
				t.Errorf("IsAnomaly = %v, want %v", got.IsAnomaly, tt.wantAnomaly)
			}
			if math.Abs(got.ZScore-tt.wantZ) > 0.01 {
				t.Errorf("ZScore = %v, want %v", got.ZScore, tt.wantZ)
			}
			if got.Severity != tt.wantSeverity {
				t.Errorf("Severity = %q, want %q", got.Severity, tt.wantSeverity)
			}
		})
	}
}

func TestZScore_InfiniteValueIsCritical(t *testing.T) {
	got := ZScore(math.Inf(1), baseline, 3.0)
	if !got.IsAnomaly || got.Severity != SeverityCritical {
		t.Errorf("ZScore(+Inf) = %+v, want critical anomaly", got)
	}
}

func TestCUSUM_StepChange(t *testing.T) {
	tests := []struct {
		name          string
		shift         float64
		wantDirection string
	}{
		{"upward shift", 1, DirectionUp},
		{"downward shift", -1, DirectionDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCUSUM(0.5, 5.0)
			value := baseline.Mean + tt.shift*baseline.StdDev
			for i := range 20 {
				r := c.Observe(value, baseline)
				if !r.IsChangePoint {
					continue
				}
				if r.Direction != tt.wantDirection {
					t.Errorf("Direction = %q, want %q", r.Direction, tt.wantDirection)
				}
				// 0.5 per step above drift crosses h=5 on the 11th observation.
				if i != 10 {
					t.Errorf("change detected at step %d, want 10", i)
				}
				return
			}
			t.Error("no change point detected")
		})
	}
}

func TestCUSUM_FluctuationsWithinDrift(t *testing.T) {
	c := NewCUSUM(0.5, 5.0)
	for i, z := range []float64{0.3, -0.2, 0.4, -0.1, 0.2, -0.3, 0.1, 0.45, -0.45} {
		if r := c.Observe(baseline.Mean+z*baseline.StdDev, baseline); r.IsChangePoint {
			t.Errorf("change point at step %d for in-drift fluctuation", i)
		}
	}
	if c.High != 0 || c.Low != 0 {
		t.Errorf("sums = (%v, %v), want (0, 0)", c.High, c.Low)
	}
}

func TestCUSUM_SkipsFlatAndNonFinite(t *testing.T) {
	c := NewCUSUM(0.5, 5.0)
	c.Observe(120, baseline)
	high := c.High

	c.Observe(1e9, winstat.InstantStat{Mean: 100})
	c.Observe(math.NaN(), baseline)
	c.Observe(math.Inf(-1), baseline)

	if c.High != high || c.Low != 0 {
		t.Errorf("sums changed to (%v, %v), want (%v, 0)", c.High, c.Low, high)
	}
}

func TestCUSUM_Reset(t *testing.T) {
	c := NewCUSUM(0.5, 5.0)
	for range 5 {
		c.Observe(108, baseline)
	}
	if c.High == 0 {
		t.Fatal("High should be non-zero after updates")
	}

	c.Reset()
	if c.High != 0 || c.Low != 0 {
		t.Errorf("sums = (%v, %v) after Reset, want (0, 0)", c.High, c.Low)
	}
}
