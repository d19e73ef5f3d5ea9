package winstat

import "math"

// growingPhase applies Welford's recurrence for a window that has just grown
// to count elements.
func growingPhase(mean, varSum, x float64, count int) (newMean, newVarSum, stddev float64) {
	if count < 2 {
		return x, 0, 0
	}

	newMean = mean + (x-mean)/float64(count)
	newVarSum = varSum + (x-mean)*(x-newMean)
	return newMean, newVarSum, sampleStdDev(newVarSum, count)
}

// slidingPhase replaces ejected with x in a full window of count elements.
// The sum of squared deviations changes by
// (x-ejected)*(x+ejected-mean-newMean).
func slidingPhase(mean, varSum, x, ejected float64, count int) (newMean, newVarSum, stddev float64) {
	newMean = mean + (x-ejected)/float64(count)
	newVarSum = varSum + (x-ejected)*(x+ejected-mean-newMean)
	return newMean, newVarSum, sampleStdDev(newVarSum, count)
}

// sampleStdDev returns sqrt(varSum/(count-1)). A negative or NaN varSum,
// as left by an overflowed window, yields NaN.
func sampleStdDev(varSum float64, count int) float64 {
	return math.Sqrt(varSum / float64(count-1))
}
