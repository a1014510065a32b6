// Package search maps positions in an abstract index space to finite
// blocks of candidate integers and computes the divisor-sum records for a
// block. Two strategies exist: an exhaustive integer sweep and a
// partition-based enumeration of candidate highly-composite numbers. The
// set of strategies is closed; callers dispatch by name at the CLI and
// store boundaries.
package search

import (
	"fmt"

	"github.com/rawblock/riemann-engine/pkg/models"
)

// Strategy names accepted on the CLI and stored nowhere; the persisted tag
// is the index name of the strategy's index variant.
const (
	ExhaustiveStrategyName    = "ExhaustiveSearchStrategy"
	SuperabundantStrategyName = "SuperabundantSearchStrategy"
)

// Strategy carves an infinite candidate space into finite, resumable
// blocks and computes the outputs of a block.
//
// GenerateSearchBlocks advances an internal cursor; StartingFrom rewinds
// it. ProcessBlock is independent of the cursor, so one strategy value can
// serve both a generator and a processor.
type Strategy interface {
	// IndexName returns the search_index_type tag of this strategy's
	// index variant.
	IndexName() string

	// StartingFrom rewinds the cursor so the next generated block begins
	// at idx. Idempotent.
	StartingFrom(idx models.SearchIndex) error

	// GenerateSearchBlocks produces count contiguous NOT_STARTED blocks
	// of at most batchSize candidates each, starting at the cursor, and
	// advances the cursor past the last block.
	GenerateSearchBlocks(count, batchSize int) ([]models.SearchMetadata, error)

	// ProcessBlock computes the record for every candidate in the
	// block's inclusive range, in enumeration order.
	ProcessBlock(block models.SearchMetadata) ([]models.RiemannDivisorSum, error)

	// Max returns the largest index among the given ones, per this
	// strategy's ordering.
	Max(indices []models.SearchIndex) (models.SearchIndex, error)

	// AdvancePast returns the index one candidate position after idx.
	AdvancePast(idx models.SearchIndex) (models.SearchIndex, error)

	// DefaultStartingIndex is the index the search begins at when the
	// store holds no blocks of this type.
	DefaultStartingIndex() models.SearchIndex
}

// ByName constructs the named strategy.
func ByName(name string) (Strategy, error) {
	switch name {
	case ExhaustiveStrategyName:
		return NewExhaustiveStrategy(), nil
	case SuperabundantStrategyName:
		return NewSuperabundantStrategy()
	default:
		return nil, fmt.Errorf("unknown strategy name %q, should be one of [%s, %s]",
			name, ExhaustiveStrategyName, SuperabundantStrategyName)
	}
}
