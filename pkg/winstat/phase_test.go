package winstat

import (
	"math"
	"testing"
)

func TestGrowingPhase_FirstElementDiscardsState(t *testing.T) {
	mean, varSum, stddev := growingPhase(99, 1234, 7, 1)
	if mean != 7 || varSum != 0 || stddev != 0 {
		t.Errorf("growingPhase(count=1) = (%v, %v, %v), want (7, 0, 0)", mean, varSum, stddev)
	}
}

func TestGrowingPhase(t *testing.T) {
	tests := []struct {
		name       string
		mean       float64
		varSum     float64
		x          float64
		count      int
		wantMean   float64
		wantVarSum float64
		wantStdDev float64
	}{
		{
			name: "second element", mean: 1, varSum: 0, x: 3, count: 2,
			wantMean: 2, wantVarSum: 2, wantStdDev: math.Sqrt(2),
		},
		{
			name: "third element equal to mean", mean: 2, varSum: 2, x: 2, count: 3,
			wantMean: 2, wantVarSum: 2, wantStdDev: 1,
		},
		{
			name: "negative values", mean: -4, varSum: 0, x: -6, count: 2,
			wantMean: -5, wantVarSum: 2, wantStdDev: math.Sqrt(2),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mean, varSum, stddev := growingPhase(tt.mean, tt.varSum, tt.x, tt.count)
			if !inDelta(mean, tt.wantMean, maxErr) {
				t.Errorf("mean = %v, want %v", mean, tt.wantMean)
			}
			if !inDelta(varSum, tt.wantVarSum, maxErr) {
				t.Errorf("varSum = %v, want %v", varSum, tt.wantVarSum)
			}
			if !inDelta(stddev, tt.wantStdDev, maxErr) {
				t.Errorf("stddev = %v, want %v", stddev, tt.wantStdDev)
			}
		})
	}
}

func TestSlidingPhase(t *testing.T) {
	// Window [1 2 3] -> [2 3 4]: mean 2 -> 3, varSum stays 2.
	mean, varSum, stddev := slidingPhase(2, 2, 4, 1, 3)
	if !inDelta(mean, 3, maxErr) || !inDelta(varSum, 2, maxErr) || !inDelta(stddev, 1, maxErr) {
		t.Errorf("slidingPhase = (%v, %v, %v), want (3, 2, 1)", mean, varSum, stddev)
	}

	// Replacing a value with itself leaves the state untouched.
	mean, varSum, _ = slidingPhase(5.5, 8.25, 3, 3, 4)
	if mean != 5.5 || varSum != 8.25 {
		t.Errorf("identity slide = (%v, %v), want (5.5, 8.25)", mean, varSum)
	}
}

func TestSampleStdDev(t *testing.T) {
	tests := []struct {
		name    string
		varSum  float64
		count   int
		want    float64
		wantNaN bool
	}{
		{name: "exact", varSum: 8, count: 3, want: 2},
		{name: "zero", varSum: 0, count: 5, want: 0},
		{name: "+Inf", varSum: math.Inf(1), count: 4, want: math.Inf(1)},
		{name: "-Inf", varSum: math.Inf(-1), count: 4, wantNaN: true},
		{name: "negative", varSum: -1e-16, count: 4, wantNaN: true},
		{name: "NaN", varSum: math.NaN(), count: 4, wantNaN: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sampleStdDev(tt.varSum, tt.count)
			if tt.wantNaN {
				if !math.IsNaN(got) {
					t.Errorf("sampleStdDev(%v, %d) = %v, want NaN", tt.varSum, tt.count, got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("sampleStdDev(%v, %d) = %v, want %v", tt.varSum, tt.count, got, tt.want)
			}
		})
	}
}
