package divisor

import (
	"fmt"
	"math"
	"math/big"

	"github.com/rawblock/riemann-engine/pkg/models"
)

// DivisorSum computes sigma(n), the sum of positive divisors of n, by trial
// division up to sqrt(n). The result is exact.
func DivisorSum(n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("divisor sum undefined for n=%d", n)
	}

	var sum int64
	for i := int64(1); i*i <= n; i++ {
		if n%i == 0 {
			sum += i
			if other := n / i; other != i {
				sum += other
			}
		}
	}
	return sum, nil
}

// WitnessValue computes sigma(n) / (n ln ln n). Robin's criterion says any
// value above 1.782 for n > 5040 refutes the Riemann Hypothesis.
func WitnessValue(n, divisorSum int64) (float64, error) {
	if n <= 2 {
		return 0, fmt.Errorf("witness value undefined for n=%d (ln ln n <= 0)", n)
	}
	denominator := float64(n) * math.Log(math.Log(float64(n)))
	return float64(divisorSum) / denominator, nil
}

// ComputeBatch computes RiemannDivisorSum records for every n in the
// inclusive range [start, end], in ascending order.
func ComputeBatch(start, end int64) ([]models.RiemannDivisorSum, error) {
	if start <= 2 {
		return nil, fmt.Errorf("batch start %d must exceed 2", start)
	}
	if end < start {
		return nil, fmt.Errorf("batch range [%d, %d] is empty", start, end)
	}

	sums := make([]models.RiemannDivisorSum, 0, end-start+1)
	for n := start; n <= end; n++ {
		ds, err := DivisorSum(n)
		if err != nil {
			return nil, err
		}
		witness, err := WitnessValue(n, ds)
		if err != nil {
			return nil, err
		}
		sums = append(sums, models.RiemannDivisorSum{
			N:            big.NewInt(n),
			DivisorSum:   big.NewInt(ds),
			WitnessValue: witness,
		})
	}
	return sums, nil
}
