package search

import (
	"math/big"
	"testing"

	"github.com/rawblock/riemann-engine/pkg/models"
)

func newSuperabundant(t *testing.T) *SuperabundantStrategy {
	t.Helper()
	strategy, err := NewSuperabundantStrategy()
	if err != nil {
		t.Fatalf("NewSuperabundantStrategy() error = %v", err)
	}
	return strategy
}

func superIndex(level int, index int64) models.SuperabundantEnumerationIndex {
	return models.SuperabundantEnumerationIndex{Level: level, IndexInLevel: index}
}

func TestSuperabundantFirstCandidates(t *testing.T) {
	// From the uninitialized cursor (1,0), the first 4 candidates are
	// 2 ([1]), 4 ([2]), 6 ([1,1]) and 8 ([3]).
	strategy := newSuperabundant(t)
	blocks, err := strategy.GenerateSearchBlocks(1, 4)
	if err != nil {
		t.Fatalf("GenerateSearchBlocks() error = %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("generated %d blocks, want 1", len(blocks))
	}

	start := blocks[0].StartingSearchIndex.(models.SuperabundantEnumerationIndex)
	end := blocks[0].EndingSearchIndex.(models.SuperabundantEnumerationIndex)
	if start != superIndex(1, 0) || end != superIndex(3, 0) {
		t.Fatalf("block range [%v, %v], want [(1,0), (3,0)]", start, end)
	}
}

func TestSuperabundantCrossLevelGeneration(t *testing.T) {
	// Partitions of 4 are [[4],[3,1],[2,2],[2,1,1],[1,1,1,1]], count 5.
	// Starting at (4,1) with batch 4, the first block lands exactly on
	// the end of level 4 and the second covers (5,0)..(5,3).
	strategy := newSuperabundant(t)
	if err := strategy.StartingFrom(superIndex(4, 1)); err != nil {
		t.Fatalf("StartingFrom() error = %v", err)
	}
	blocks, err := strategy.GenerateSearchBlocks(2, 4)
	if err != nil {
		t.Fatalf("GenerateSearchBlocks() error = %v", err)
	}

	expected := []struct {
		start, end models.SuperabundantEnumerationIndex
	}{
		{superIndex(4, 1), superIndex(4, 4)},
		{superIndex(5, 0), superIndex(5, 3)},
	}
	for i, tt := range expected {
		if blocks[i].StartingSearchIndex != tt.start || blocks[i].EndingSearchIndex != tt.end {
			t.Errorf("block %d = [%v, %v], want [%v, %v]",
				i, blocks[i].StartingSearchIndex, blocks[i].EndingSearchIndex, tt.start, tt.end)
		}
	}
}

func TestSuperabundantCursorAdvancesToNextLevelOnExactBoundary(t *testing.T) {
	strategy := newSuperabundant(t)
	if err := strategy.StartingFrom(superIndex(4, 0)); err != nil {
		t.Fatalf("StartingFrom() error = %v", err)
	}
	// One block of exactly count(4) = 5 candidates ends at (4,4); the
	// next block must begin at (5,0).
	blocks, err := strategy.GenerateSearchBlocks(2, 5)
	if err != nil {
		t.Fatalf("GenerateSearchBlocks() error = %v", err)
	}
	if blocks[0].EndingSearchIndex != superIndex(4, 4) {
		t.Errorf("block 0 ends at %v, want (4,4)", blocks[0].EndingSearchIndex)
	}
	if blocks[1].StartingSearchIndex != superIndex(5, 0) {
		t.Errorf("block 1 starts at %v, want (5,0)", blocks[1].StartingSearchIndex)
	}
}

func TestSuperabundantProcessBlockKnownCandidates(t *testing.T) {
	// Partitions of 5 at indices 1 and 2 are [4,1] and [3,2], giving
	// 2^4*3 = 48 and 2^3*3^2 = 72.
	strategy := newSuperabundant(t)
	block := models.SearchMetadata{
		SearchIndexType:     models.SuperabundantIndexName,
		StartingSearchIndex: superIndex(5, 1),
		EndingSearchIndex:   superIndex(5, 2),
	}
	sums, err := strategy.ProcessBlock(block)
	if err != nil {
		t.Fatalf("ProcessBlock() error = %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("ProcessBlock() returned %d records, want 2", len(sums))
	}
	if sums[0].N.Cmp(big.NewInt(48)) != 0 || sums[1].N.Cmp(big.NewInt(72)) != 0 {
		t.Errorf("candidates = {%s, %s}, want {48, 72}", sums[0].N, sums[1].N)
	}
}

func TestSuperabundantProcessBlockSpansLevels(t *testing.T) {
	// (4,3) .. (6,1): the tail of level 4 (2 partitions), all of level 5
	// (7 partitions), and the head of level 6 (2 partitions).
	strategy := newSuperabundant(t)
	block := models.SearchMetadata{
		SearchIndexType:     models.SuperabundantIndexName,
		StartingSearchIndex: superIndex(4, 3),
		EndingSearchIndex:   superIndex(6, 1),
	}
	sums, err := strategy.ProcessBlock(block)
	if err != nil {
		t.Fatalf("ProcessBlock() error = %v", err)
	}
	if len(sums) != 11 {
		t.Fatalf("ProcessBlock() returned %d records, want 11", len(sums))
	}

	// First candidate is partition [2,1,1] of level 4: 2^2*3*5 = 60.
	// Last is partition [5,1] of level 6: 2^5*3 = 96.
	if sums[0].N.Cmp(big.NewInt(60)) != 0 {
		t.Errorf("first candidate = %s, want 60", sums[0].N)
	}
	if sums[len(sums)-1].N.Cmp(big.NewInt(96)) != 0 {
		t.Errorf("last candidate = %s, want 96", sums[len(sums)-1].N)
	}
}

func TestSuperabundantProcessBlockRejectsBadRanges(t *testing.T) {
	strategy := newSuperabundant(t)
	tests := []struct {
		name  string
		block models.SearchMetadata
	}{
		{
			"Inverted Levels",
			models.SearchMetadata{
				StartingSearchIndex: superIndex(5, 0),
				EndingSearchIndex:   superIndex(4, 0),
			},
		},
		{
			"Index Past Level End",
			models.SearchMetadata{
				StartingSearchIndex: superIndex(4, 0),
				EndingSearchIndex:   superIndex(4, 5),
			},
		},
		{
			"Foreign Index Variant",
			models.SearchMetadata{
				StartingSearchIndex: models.ExhaustiveSearchIndex{N: 1},
				EndingSearchIndex:   models.ExhaustiveSearchIndex{N: 2},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := strategy.ProcessBlock(tt.block); err == nil {
				t.Error("ProcessBlock() expected error, got nil")
			}
		})
	}
}

func TestSuperabundantMaxAndAdvancePast(t *testing.T) {
	strategy := newSuperabundant(t)
	max, err := strategy.Max([]models.SearchIndex{
		superIndex(4, 4),
		superIndex(5, 0),
		superIndex(4, 0),
	})
	if err != nil {
		t.Fatalf("Max() error = %v", err)
	}
	if max != superIndex(5, 0) {
		t.Errorf("Max() = %v, want (5,0)", max)
	}

	tests := []struct {
		name string
		idx  models.SuperabundantEnumerationIndex
		want models.SuperabundantEnumerationIndex
	}{
		{"Within Level", superIndex(5, 0), superIndex(5, 1)},
		{"Level Boundary", superIndex(4, 4), superIndex(5, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := strategy.AdvancePast(tt.idx)
			if err != nil {
				t.Fatalf("AdvancePast() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("AdvancePast(%v) = %v, want %v", tt.idx, got, tt.want)
			}
		})
	}
}

func TestSuperabundantGenerationMatchesProcessing(t *testing.T) {
	// Every candidate covered by a generated block must be produced by
	// processing it, with no gaps across consecutive blocks.
	strategy := newSuperabundant(t)
	if err := strategy.StartingFrom(superIndex(3, 0)); err != nil {
		t.Fatalf("StartingFrom() error = %v", err)
	}
	blocks, err := strategy.GenerateSearchBlocks(4, 3)
	if err != nil {
		t.Fatalf("GenerateSearchBlocks() error = %v", err)
	}

	total := 0
	var previous *big.Int
	for _, block := range blocks {
		sums, err := strategy.ProcessBlock(block)
		if err != nil {
			t.Fatalf("ProcessBlock() error = %v", err)
		}
		total += len(sums)
		for _, s := range sums {
			if previous != nil && s.N.Cmp(previous) == 0 {
				t.Errorf("candidate %s appears in two consecutive positions", s.N)
			}
			previous = s.N
		}
	}
	if total != 12 {
		t.Errorf("4 blocks of batch 3 produced %d candidates, want 12", total)
	}
}
