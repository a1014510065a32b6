package divisor

import (
	"fmt"
	"math"
	"math/big"

	"github.com/rawblock/riemann-engine/pkg/models"
)

// PrimePower is one term p^e of a prime factorization.
type PrimePower struct {
	Prime    int64
	Exponent int
}

// FirstPrimes returns the first k primes in ascending order.
func FirstPrimes(k int) []int64 {
	primes := make([]int64, 0, k)
	for candidate := int64(2); len(primes) < k; candidate++ {
		isPrime := true
		for _, p := range primes {
			if p*p > candidate {
				break
			}
			if candidate%p == 0 {
				isPrime = false
				break
			}
		}
		if isPrime {
			primes = append(primes, candidate)
		}
	}
	return primes
}

// PartitionToPrimeFactorization maps a weakly-decreasing partition
// (e1 >= e2 >= ... >= ek) to the factorization 2^e1 * 3^e2 * ... * pk^ek.
func PartitionToPrimeFactorization(partition []int) []PrimePower {
	primes := FirstPrimes(len(partition))
	factorization := make([]PrimePower, len(partition))
	for i, exponent := range partition {
		factorization[i] = PrimePower{Prime: primes[i], Exponent: exponent}
	}
	return factorization
}

// ProductOfFactorization computes n = prod p^e.
func ProductOfFactorization(factorization []PrimePower) *big.Int {
	n := big.NewInt(1)
	for _, pp := range factorization {
		term := new(big.Int).Exp(big.NewInt(pp.Prime), big.NewInt(int64(pp.Exponent)), nil)
		n.Mul(n, term)
	}
	return n
}

// DivisorSumOfFactorization computes sigma(n) = prod (p^(e+1) - 1) / (p - 1)
// without materializing the divisors.
func DivisorSumOfFactorization(factorization []PrimePower) *big.Int {
	sum := big.NewInt(1)
	for _, pp := range factorization {
		numerator := new(big.Int).Exp(big.NewInt(pp.Prime), big.NewInt(int64(pp.Exponent)+1), nil)
		numerator.Sub(numerator, big.NewInt(1))
		denominator := big.NewInt(pp.Prime - 1)
		sum.Mul(sum, numerator.Quo(numerator, denominator))
	}
	return sum
}

// bigLog computes the natural log of a positive big integer via its
// mantissa and binary exponent, staying accurate far past float64 range.
func bigLog(n *big.Int) float64 {
	mantissa := new(big.Float)
	exponent := new(big.Float).SetInt(n).MantExp(mantissa)
	m, _ := mantissa.Float64()
	return math.Log(m) + float64(exponent)*math.Ln2
}

// WitnessValueBig computes sigma(n) / (n ln ln n) for arbitrary-precision n.
func WitnessValueBig(n, divisorSum *big.Int) (float64, error) {
	if n.Cmp(big.NewInt(2)) <= 0 {
		return 0, fmt.Errorf("witness value undefined for n=%s (ln ln n <= 0)", n)
	}
	lnln := math.Log(bigLog(n))
	ratio, _ := new(big.Float).Quo(
		new(big.Float).SetInt(divisorSum),
		new(big.Float).SetInt(n),
	).Float64()
	return ratio / lnln, nil
}

// ComputeFromFactorization computes the full record for a candidate given
// as a prime factorization.
func ComputeFromFactorization(factorization []PrimePower) (models.RiemannDivisorSum, error) {
	n := ProductOfFactorization(factorization)
	sum := DivisorSumOfFactorization(factorization)
	witness, err := WitnessValueBig(n, sum)
	if err != nil {
		return models.RiemannDivisorSum{}, err
	}
	return models.RiemannDivisorSum{N: n, DivisorSum: sum, WitnessValue: witness}, nil
}
