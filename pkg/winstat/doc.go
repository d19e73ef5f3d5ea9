// Package winstat computes second-order statistics online over a sliding
// window of float64 samples.
//
// A StatWindow holds a fixed number of the most recent samples in a ring
// buffer together with a running mean and a running sum of squared
// deviations. Every Push returns the mean and sample standard deviation of
// the current window contents in O(1) time. Memory is proportional to the
// window size and no allocation takes place after New.
//
// # Quick Start
//
//	sw, err := winstat.New(5)
//	if err != nil {
//	    return err // window sizes below 2 are rejected
//	}
//	for _, v := range []float64{1, 2, 3, 4, 5, 6, 7, 8} {
//	    s := sw.Push(v)
//	    fmt.Printf("add %v => mean=%.3f stddev=%.3f\n", v, s.Mean, s.StdDev)
//	}
//
// # Phases
//
// The estimator runs in two phases:
//
//  1. Growing: the window has seen fewer than its capacity of samples and its
//     logical size increases with every push. Statistics follow Welford's
//     online recurrence.
//  2. Sliding: the window is full and every push evicts the oldest sample. A
//     modified recurrence removes the evicted sample's contribution and adds
//     the new one in a single step.
//
// Standard deviation is the sample (n-1) estimator. A window holding a single
// sample reports a standard deviation of zero.
//
// # Concurrency
//
// StatWindow is not safe for concurrent use. Callers that share a window
// across goroutines must serialize access.
//
// # Non-finite input
//
// NaN and ±Inf are not filtered. They propagate through the arithmetic with
// IEEE-754 semantics and, once in the window, poison the running state.
package winstat
