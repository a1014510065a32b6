package models

import (
	"math"
	"math/big"
)

// RiemannDivisorSum is a single computed candidate: the integer n, its sum
// of divisors, and the witness value sigma(n) / (n ln ln n).
type RiemannDivisorSum struct {
	N            *big.Int `json:"n"`
	DivisorSum   *big.Int `json:"divisorSum"`
	WitnessValue float64  `json:"witnessValue"`
}

// ApproxEqual compares two records, allowing witness values to differ by
// at most epsilon.
func (r RiemannDivisorSum) ApproxEqual(other RiemannDivisorSum, epsilon float64) bool {
	return r.N.Cmp(other.N) == 0 &&
		r.DivisorSum.Cmp(other.DivisorSum) == 0 &&
		math.Abs(r.WitnessValue-other.WitnessValue) < epsilon
}

// SummaryStats reports the two most interesting records in the store: the
// largest n computed so far, and the record with the largest witness value.
// Both are nil when the store is empty.
type SummaryStats struct {
	LargestComputedN    *RiemannDivisorSum `json:"largestComputedN"`
	LargestWitnessValue *RiemannDivisorSum `json:"largestWitnessValue"`
}
