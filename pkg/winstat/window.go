package winstat

import (
	"errors"
	"fmt"
)

// MinWindowSize is the smallest window for which a sample variance exists.
const MinWindowSize = 2

// ErrInvalidWindowSize is returned by New when the requested size is below
// MinWindowSize.
var ErrInvalidWindowSize = errors.New("invalid window size")

// InstantStat holds the window statistics produced by a single Push.
type InstantStat struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// StatWindow computes mean and sample standard deviation over the last
// Cap() pushed values.
type StatWindow struct {
	values []float64 // ring buffer, len == capacity
	idx    int       // next write position
	count  int       // pushes so far, saturates at len(values)
	mean   float64
	varSum float64 // sum of squared deviations from mean
}

// New creates an empty window holding up to windowSize samples.
func New(windowSize int) (*StatWindow, error) {
	if windowSize < MinWindowSize {
		return nil, fmt.Errorf("%w: %d (minimum %d)", ErrInvalidWindowSize, windowSize, MinWindowSize)
	}
	return &StatWindow{
		values: make([]float64, windowSize),
	}, nil
}

// Push adds value to the window, evicting the oldest sample once the window
// is full, and returns the statistics of the resulting window.
func (w *StatWindow) Push(value float64) InstantStat {
	// ejected is only consulted in the sliding phase, when every slot has
	// been written at least once.
	ejected := w.values[w.idx]
	w.values[w.idx] = value
	w.idx = (w.idx + 1) % len(w.values)

	var mean, varSum, stddev float64
	if w.count < len(w.values) {
		w.count++
		mean, varSum, stddev = growingPhase(w.mean, w.varSum, value, w.count)
	} else {
		mean, varSum, stddev = slidingPhase(w.mean, w.varSum, value, ejected, w.count)
	}

	w.mean = mean
	w.varSum = varSum

	return InstantStat{Mean: mean, StdDev: stddev}
}

// Cap returns the window capacity.
func (w *StatWindow) Cap() int {
	return len(w.values)
}

// Len returns the number of samples currently in the window.
func (w *StatWindow) Len() int {
	return w.count
}

// Full reports whether the window has entered the sliding phase.
func (w *StatWindow) Full() bool {
	return w.count == len(w.values)
}
