package search

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rawblock/riemann-engine/internal/divisor"
	"github.com/rawblock/riemann-engine/internal/partition"
	"github.com/rawblock/riemann-engine/pkg/models"
)

const (
	// levelCacheEntries bounds how many levels stay resident at once. A
	// cross-level block touches two or three adjacent levels; the claim
	// order can bounce between them.
	levelCacheEntries = 8

	// partitionWindowSize is the resident window within a single level.
	partitionWindowSize = 250000
)

// SuperabundantStrategy enumerates candidate superabundant numbers: each
// partition (e1 >= ... >= ek) of a level L maps to 2^e1 * 3^e2 * ... *
// pk^ek. Levels are traversed in ascending order, partitions within a
// level in the order produced by the partition iterator.
type SuperabundantStrategy struct {
	cursor models.SuperabundantEnumerationIndex
	levels *lru.Cache[int, *partition.CachedPartitions]
}

func NewSuperabundantStrategy() (*SuperabundantStrategy, error) {
	levels, err := lru.New[int, *partition.CachedPartitions](levelCacheEntries)
	if err != nil {
		return nil, err
	}
	return &SuperabundantStrategy{
		cursor: models.SuperabundantEnumerationIndex{Level: 1, IndexInLevel: 0},
		levels: levels,
	}, nil
}

func (s *SuperabundantStrategy) IndexName() string { return models.SuperabundantIndexName }

func (s *SuperabundantStrategy) DefaultStartingIndex() models.SearchIndex {
	return models.SuperabundantEnumerationIndex{Level: 1, IndexInLevel: 0}
}

func (s *SuperabundantStrategy) StartingFrom(idx models.SearchIndex) error {
	superabundant, ok := idx.(models.SuperabundantEnumerationIndex)
	if !ok {
		return fmt.Errorf("superabundant strategy cannot start from %T index", idx)
	}
	s.cursor = superabundant
	return nil
}

// level returns the cached partition view for L, building it on a miss.
func (s *SuperabundantStrategy) level(l int) (*partition.CachedPartitions, error) {
	if cached, ok := s.levels.Get(l); ok {
		return cached, nil
	}
	built, err := partition.NewCachedPartitions(l, partitionWindowSize)
	if err != nil {
		return nil, err
	}
	s.levels.Add(l, built)
	return built, nil
}

func (s *SuperabundantStrategy) levelCount(l int) (int64, error) {
	cached, err := s.level(l)
	if err != nil {
		return 0, err
	}
	return cached.Len(), nil
}

func (s *SuperabundantStrategy) GenerateSearchBlocks(count, batchSize int) ([]models.SearchMetadata, error) {
	if count < 1 || batchSize < 1 {
		return nil, fmt.Errorf("block generation needs positive count and batch size, got %d and %d", count, batchSize)
	}

	blocks := make([]models.SearchMetadata, 0, count)
	for i := 0; i < count; i++ {
		start := s.cursor

		// A block of batchSize candidates may spill over the end of the
		// cursor's level into one or more following levels.
		level := s.cursor.Level
		end := s.cursor.IndexInLevel + int64(batchSize) - 1
		for {
			levelCount, err := s.levelCount(level)
			if err != nil {
				return nil, err
			}
			if end < levelCount {
				break
			}
			end -= levelCount
			level++
		}

		blocks = append(blocks, models.SearchMetadata{
			SearchIndexType:     s.IndexName(),
			StartingSearchIndex: start,
			EndingSearchIndex:   models.SuperabundantEnumerationIndex{Level: level, IndexInLevel: end},
			State:               models.StateNotStarted,
			CreationTime:        time.Now().UTC(),
		})

		levelCount, err := s.levelCount(level)
		if err != nil {
			return nil, err
		}
		if end == levelCount-1 {
			s.cursor = models.SuperabundantEnumerationIndex{Level: level + 1, IndexInLevel: 0}
		} else {
			s.cursor = models.SuperabundantEnumerationIndex{Level: level, IndexInLevel: end + 1}
		}
	}
	return blocks, nil
}

func (s *SuperabundantStrategy) ProcessBlock(block models.SearchMetadata) ([]models.RiemannDivisorSum, error) {
	start, ok := block.StartingSearchIndex.(models.SuperabundantEnumerationIndex)
	if !ok {
		return nil, fmt.Errorf("superabundant strategy cannot process %T index", block.StartingSearchIndex)
	}
	end, ok := block.EndingSearchIndex.(models.SuperabundantEnumerationIndex)
	if !ok {
		return nil, fmt.Errorf("superabundant strategy cannot process %T index", block.EndingSearchIndex)
	}
	if end.Level < start.Level || (end.Level == start.Level && end.IndexInLevel < start.IndexInLevel) {
		return nil, fmt.Errorf("block range [%s, %s] is inverted", start.Serialize(), end.Serialize())
	}

	var sums []models.RiemannDivisorSum
	for level := start.Level; level <= end.Level; level++ {
		cached, err := s.level(level)
		if err != nil {
			return nil, err
		}

		lo := int64(0)
		if level == start.Level {
			lo = start.IndexInLevel
		}
		hi := cached.Len() - 1
		if level == end.Level {
			hi = end.IndexInLevel
		}
		if lo >= cached.Len() || hi >= cached.Len() {
			return nil, fmt.Errorf("index range [%d, %d] out of range for level %d (count %d)",
				lo, hi, level, cached.Len())
		}

		for i := lo; i <= hi; i++ {
			p, err := cached.At(i)
			if err != nil {
				return nil, err
			}
			record, err := divisor.ComputeFromFactorization(divisor.PartitionToPrimeFactorization(p))
			if err != nil {
				return nil, err
			}
			sums = append(sums, record)
		}
	}
	return sums, nil
}

func (s *SuperabundantStrategy) Max(indices []models.SearchIndex) (models.SearchIndex, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("max of empty index list")
	}
	best, ok := indices[0].(models.SuperabundantEnumerationIndex)
	if !ok {
		return nil, fmt.Errorf("superabundant strategy cannot compare %T index", indices[0])
	}
	for _, idx := range indices[1:] {
		superabundant, ok := idx.(models.SuperabundantEnumerationIndex)
		if !ok {
			return nil, fmt.Errorf("superabundant strategy cannot compare %T index", idx)
		}
		if superabundant.Level > best.Level ||
			(superabundant.Level == best.Level && superabundant.IndexInLevel > best.IndexInLevel) {
			best = superabundant
		}
	}
	return best, nil
}

func (s *SuperabundantStrategy) AdvancePast(idx models.SearchIndex) (models.SearchIndex, error) {
	superabundant, ok := idx.(models.SuperabundantEnumerationIndex)
	if !ok {
		return nil, fmt.Errorf("superabundant strategy cannot advance %T index", idx)
	}
	levelCount, err := s.levelCount(superabundant.Level)
	if err != nil {
		return nil, err
	}
	if superabundant.IndexInLevel+1 >= levelCount {
		return models.SuperabundantEnumerationIndex{Level: superabundant.Level + 1, IndexInLevel: 0}, nil
	}
	return models.SuperabundantEnumerationIndex{
		Level:        superabundant.Level,
		IndexInLevel: superabundant.IndexInLevel + 1,
	}, nil
}
