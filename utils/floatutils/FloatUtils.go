// Package floatutils provides utilities for working with floats
package floatutils

import (
	"math"
)

// Clip clips a floating point to within a minimum and maximum value.
// If the floating point exceeds max, then the function returns the max
// If min exceeds the floating point, then the function returns the min
func Clip(value, min, max float64) float64 {
	clipped := math.Min(value, max)
	return math.Max(clipped, min)
}

// ClipSlice clips every element of values into [min, max], returning
// a new slice.
func ClipSlice(values []float64, min, max float64) []float64 {
	clipped := make([]float64, len(values))
	for i, value := range values {
		clipped[i] = Clip(value, min, max)
	}
	return clipped
}

// ArgMax returns the index of the maximum value in a slice of float64.
// Ties are broken by the lowest index.
func ArgMax(values []float64) int {
	maxInd := 0
	for i, value := range values {
		if value > values[maxInd] {
			maxInd = i
		}
	}
	return maxInd
}

// Min calculates and returns the minimum float64 in a list
func Min(floats ...float64) float64 {
	min := floats[0]
	for _, val := range floats {
		if val < min {
			min = val
		}
	}
	return min
}

// Max calculates and returns the maximum float64 in a list
func Max(floats ...float64) float64 {
	max := floats[0]
	for _, val := range floats {
		if val > max {
			max = val
		}
	}
	return max
}

// Ones returns a slice of n float64 ones
func Ones(n int) []float64 {
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1.0
	}
	return ones
}

// AllFinite returns whether every element of values is finite
func AllFinite(values []float64) bool {
	for _, value := range values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return false
		}
	}
	return true
}

// LinearAnneal linearly interpolates from start to end over decaySteps
// steps, holding at end afterwards.
func LinearAnneal(step, decaySteps int, start, end float64) float64 {
	if step >= decaySteps {
		return end
	}
	frac := float64(step) / float64(decaySteps)
	return start + frac*(end-start)
}
