package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// HashDivisorSums computes the block hash binding a finished block to its
// outputs: the lowercase hex SHA-256 of "n1,w1,n2,w2,...", with each
// witness value formatted with exactly four fractional digits. The input
// order is the enumeration order of the block; callers must not reorder.
func HashDivisorSums(sums []RiemannDivisorSum) string {
	parts := make([]string, 0, 2*len(sums))
	for _, s := range sums {
		parts = append(parts, s.N.String())
		parts = append(parts, strconv.FormatFloat(s.WitnessValue, 'f', 4, 64))
	}
	digest := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(digest[:])
}
