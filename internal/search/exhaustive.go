package search

import (
	"fmt"
	"time"

	"github.com/rawblock/riemann-engine/internal/divisor"
	"github.com/rawblock/riemann-engine/pkg/models"
)

// defaultExhaustiveStart skips past 5040, the largest known integer
// violating Robin's inequality; smaller n produce known-spurious witnesses.
const defaultExhaustiveStart = 5041

// ExhaustiveStrategy sweeps every positive integer from the cursor onward.
type ExhaustiveStrategy struct {
	cursor int64
}

func NewExhaustiveStrategy() *ExhaustiveStrategy {
	return &ExhaustiveStrategy{cursor: defaultExhaustiveStart}
}

func (s *ExhaustiveStrategy) IndexName() string { return models.ExhaustiveIndexName }

func (s *ExhaustiveStrategy) DefaultStartingIndex() models.SearchIndex {
	return models.ExhaustiveSearchIndex{N: defaultExhaustiveStart}
}

func (s *ExhaustiveStrategy) StartingFrom(idx models.SearchIndex) error {
	exhaustive, ok := idx.(models.ExhaustiveSearchIndex)
	if !ok {
		return fmt.Errorf("exhaustive strategy cannot start from %T index", idx)
	}
	s.cursor = exhaustive.N
	return nil
}

func (s *ExhaustiveStrategy) GenerateSearchBlocks(count, batchSize int) ([]models.SearchMetadata, error) {
	if count < 1 || batchSize < 1 {
		return nil, fmt.Errorf("block generation needs positive count and batch size, got %d and %d", count, batchSize)
	}

	blocks := make([]models.SearchMetadata, 0, count)
	for i := 0; i < count; i++ {
		start := s.cursor
		end := start + int64(batchSize) - 1
		blocks = append(blocks, models.SearchMetadata{
			SearchIndexType:     s.IndexName(),
			StartingSearchIndex: models.ExhaustiveSearchIndex{N: start},
			EndingSearchIndex:   models.ExhaustiveSearchIndex{N: end},
			State:               models.StateNotStarted,
			CreationTime:        time.Now().UTC(),
		})
		s.cursor = end + 1
	}
	return blocks, nil
}

func (s *ExhaustiveStrategy) ProcessBlock(block models.SearchMetadata) ([]models.RiemannDivisorSum, error) {
	start, ok := block.StartingSearchIndex.(models.ExhaustiveSearchIndex)
	if !ok {
		return nil, fmt.Errorf("exhaustive strategy cannot process %T index", block.StartingSearchIndex)
	}
	end, ok := block.EndingSearchIndex.(models.ExhaustiveSearchIndex)
	if !ok {
		return nil, fmt.Errorf("exhaustive strategy cannot process %T index", block.EndingSearchIndex)
	}
	return divisor.ComputeBatch(start.N, end.N)
}

func (s *ExhaustiveStrategy) Max(indices []models.SearchIndex) (models.SearchIndex, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("max of empty index list")
	}
	best, ok := indices[0].(models.ExhaustiveSearchIndex)
	if !ok {
		return nil, fmt.Errorf("exhaustive strategy cannot compare %T index", indices[0])
	}
	for _, idx := range indices[1:] {
		exhaustive, ok := idx.(models.ExhaustiveSearchIndex)
		if !ok {
			return nil, fmt.Errorf("exhaustive strategy cannot compare %T index", idx)
		}
		if exhaustive.N > best.N {
			best = exhaustive
		}
	}
	return best, nil
}

func (s *ExhaustiveStrategy) AdvancePast(idx models.SearchIndex) (models.SearchIndex, error) {
	exhaustive, ok := idx.(models.ExhaustiveSearchIndex)
	if !ok {
		return nil, fmt.Errorf("exhaustive strategy cannot advance %T index", idx)
	}
	return models.ExhaustiveSearchIndex{N: exhaustive.N + 1}, nil
}
