// Package intutils provides utilities for working with ints
package intutils

// FromFloats converts a slice of float64 action indices to ints by
// truncation.
func FromFloats(floats []float64) []int {
	ints := make([]int, len(floats))
	for i, f := range floats {
		ints[i] = int(f)
	}
	return ints
}

// Prod returns the product of a list of ints. The product of no ints
// is 1.
func Prod(ints ...int) int {
	prod := 1
	for _, i := range ints {
		prod *= i
	}
	return prod
}
