package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rawblock/riemann-engine/pkg/models"
)

// MemoryStore is an in-memory Store with the same claim/finish state
// machine as the Postgres backend. It backs the test suite and small
// single-host experiments.
type MemoryStore struct {
	mu        sync.Mutex
	threshold float64
	blocks    []*models.SearchMetadata
	sums      []models.RiemannDivisorSum
}

// NewMemoryStore builds an empty in-memory store with the default
// witness threshold.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threshold: DefaultWitnessThreshold}
}

// SetWitnessThreshold overrides the persistence threshold.
func (s *MemoryStore) SetWitnessThreshold(threshold float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = threshold
}

func (s *MemoryStore) InitializeSchema(ctx context.Context) error { return nil }

func (s *MemoryStore) Load(ctx context.Context) ([]models.RiemannDivisorSum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.RiemannDivisorSum, len(s.sums))
	copy(out, s.sums)
	sort.Slice(out, func(i, j int) bool { return out[i].N.Cmp(out[j].N) < 0 })
	return out, nil
}

func (s *MemoryStore) LoadMetadata(ctx context.Context) ([]models.SearchMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.SearchMetadata, 0, len(s.blocks))
	for _, block := range s.blocks {
		out = append(out, *block)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreationTime.Before(out[j].CreationTime)
	})
	return out, nil
}

func (s *MemoryStore) Summarize(ctx context.Context) (models.SummaryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sums) == 0 {
		return models.SummaryStats{}, nil
	}

	largestN := s.sums[0]
	largestWitness := s.sums[0]
	for _, sum := range s.sums[1:] {
		if sum.N.Cmp(largestN.N) > 0 {
			largestN = sum
		}
		if sum.WitnessValue > largestWitness.WitnessValue {
			largestWitness = sum
		}
	}
	return models.SummaryStats{
		LargestComputedN:    &largestN,
		LargestWitnessValue: &largestWitness,
	}, nil
}

func (s *MemoryStore) InsertSearchBlocks(ctx context.Context, blocks []models.SearchMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]bool, len(s.blocks))
	for _, block := range s.blocks {
		existing[block.Key()] = true
	}

	inserted := make([]*models.SearchMetadata, 0, len(blocks))
	for _, block := range blocks {
		if existing[block.Key()] {
			return fmt.Errorf("%w: %s", ErrUniqueViolation, block.Key())
		}
		existing[block.Key()] = true

		copied := block
		copied.State = models.StateNotStarted
		copied.StartTime = time.Time{}
		copied.EndTime = time.Time{}
		copied.BlockHash = ""
		inserted = append(inserted, &copied)
	}
	s.blocks = append(s.blocks, inserted...)
	return nil
}

func (s *MemoryStore) ClaimNextSearchBlock(ctx context.Context, searchIndexType string) (models.SearchMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidate *models.SearchMetadata
	for _, block := range s.blocks {
		if block.SearchIndexType != searchIndexType {
			continue
		}
		if block.State != models.StateNotStarted && block.State != models.StateFailed {
			continue
		}
		if candidate == nil || block.CreationTime.Before(candidate.CreationTime) {
			candidate = block
		}
	}
	if candidate == nil {
		return models.SearchMetadata{}, ErrNotAvailable
	}

	candidate.State = models.StateInProgress
	candidate.StartTime = time.Now().UTC()
	return *candidate, nil
}

func (s *MemoryStore) findBlock(key string) *models.SearchMetadata {
	for _, block := range s.blocks {
		if block.Key() == key {
			return block
		}
	}
	return nil
}

func (s *MemoryStore) FinishSearchBlock(ctx context.Context, block models.SearchMetadata, sums []models.RiemannDivisorSum) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.findBlock(block.Key())
	if stored == nil || stored.State != models.StateInProgress {
		return fmt.Errorf("%w: block [%s, %s]", ErrIllegalState,
			block.StartingSearchIndex.Serialize(), block.EndingSearchIndex.Serialize())
	}

	stored.State = models.StateFinished
	stored.EndTime = time.Now().UTC()
	stored.BlockHash = models.HashDivisorSums(sums)

	for _, sum := range sums {
		if sum.WitnessValue > s.threshold {
			s.sums = append(s.sums, sum)
		}
	}
	return nil
}

func (s *MemoryStore) MarkBlockAsFailed(ctx context.Context, block models.SearchMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored := s.findBlock(block.Key()); stored != nil {
		stored.State = models.StateFailed
	}
	return nil
}
