// Package partition enumerates integer partitions in the reverse-
// lexicographic order produced by the classical largest-part-first
// algorithm. The order is deterministic, which the block hash protocol
// depends on: two hosts enumerating the same level must agree index by
// index.
package partition

import (
	"fmt"
	"math"
	"math/big"
)

// Iterator yields the partitions of n one at a time. The zero partition
// state starts at [n] and ends at [1, 1, ..., 1].
type Iterator struct {
	p    []int
	k    int
	done bool
}

// NewIterator returns an iterator over the partitions of n.
func NewIterator(n int) (*Iterator, error) {
	if n < 1 {
		return nil, fmt.Errorf("partitions undefined for n=%d", n)
	}
	p := make([]int, n)
	p[0] = n
	return &Iterator{p: p, k: 0}, nil
}

// Next returns the next partition in order, or false when exhausted. The
// returned slice is owned by the caller.
func (it *Iterator) Next() ([]int, bool) {
	if it.done {
		return nil, false
	}

	out := make([]int, it.k+1)
	copy(out, it.p[:it.k+1])

	// Decrement the rightmost non-one part and redistribute the trailing
	// ones after it.
	rightOfNonOne := 0
	k := it.k
	for k >= 0 && it.p[k] == 1 {
		rightOfNonOne++
		k--
	}
	if k < 0 {
		it.done = true
		return out, true
	}

	it.p[k]--
	amountToSplit := rightOfNonOne + 1
	for amountToSplit > it.p[k] {
		it.p[k+1] = it.p[k]
		amountToSplit -= it.p[k]
		k++
	}
	it.p[k+1] = amountToSplit
	it.k = k + 1

	return out, true
}

var maxInt64 = big.NewInt(math.MaxInt64)

// Count returns p(n), the number of partitions of n. Counts that overflow
// int64 (n of 406 and beyond) are reported as errors rather than wrapped.
func Count(n int) (int64, error) {
	if n < 1 {
		return 0, fmt.Errorf("partitions undefined for n=%d", n)
	}

	dp := make([]*big.Int, n+1)
	dp[0] = big.NewInt(1)
	for i := 1; i <= n; i++ {
		dp[i] = new(big.Int)
	}
	for part := 1; part <= n; part++ {
		for s := part; s <= n; s++ {
			dp[s].Add(dp[s], dp[s-part])
		}
	}
	if dp[n].Cmp(maxInt64) > 0 {
		return 0, fmt.Errorf("partition count of %d overflows int64", n)
	}
	return dp[n].Int64(), nil
}

// IndexedPartition is a partition paired with its 0-based position in the
// enumeration order of its level.
type IndexedPartition struct {
	Index     int64
	Partition []int
}

// Enumerate returns the partitions of n with positions in [start, stop],
// both inclusive, clamped to [0, Count(n)-1]. Re-invocation with the same
// arguments reproduces the same result.
func Enumerate(n int, start, stop int64) ([]IndexedPartition, error) {
	count, err := Count(n)
	if err != nil {
		return nil, err
	}
	if start < 0 {
		start = 0
	}
	if stop > count-1 {
		stop = count - 1
	}
	if start > stop {
		return nil, nil
	}

	it, err := NewIterator(n)
	if err != nil {
		return nil, err
	}
	out := make([]IndexedPartition, 0, stop-start+1)
	for i := int64(0); i <= stop; i++ {
		p, ok := it.Next()
		if !ok {
			return nil, fmt.Errorf("partition iterator for n=%d exhausted at index %d", n, i)
		}
		if i >= start {
			out = append(out, IndexedPartition{Index: i, Partition: p})
		}
	}
	return out, nil
}
