package generator

import (
	"context"
	"testing"
	"time"

	"github.com/rawblock/riemann-engine/internal/db"
	"github.com/rawblock/riemann-engine/internal/search"
	"github.com/rawblock/riemann-engine/pkg/models"
)

func newGenerator(t *testing.T, store db.Store, cfg Config) *Generator {
	t.Helper()
	strategy := search.NewExhaustiveStrategy()
	return New(store, strategy, cfg)
}

func TestRefreshPopulatesEmptyStore(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	g := newGenerator(t, store, Config{
		BlockSize:        10,
		RefreshCount:     3,
		RefreshThreshold: 2,
		RefreshPeriod:    time.Second,
	})

	if err := g.refreshOnce(ctx); err != nil {
		t.Fatalf("refreshOnce() error = %v", err)
	}

	metadata, err := store.LoadMetadata(ctx)
	if err != nil {
		t.Fatalf("LoadMetadata() error = %v", err)
	}
	if len(metadata) != 3 {
		t.Fatalf("generated %d blocks, want 3", len(metadata))
	}
	// The search begins at the strategy's default index.
	first := metadata[0].StartingSearchIndex.(models.ExhaustiveSearchIndex)
	if first.N != 5041 {
		t.Errorf("first block starts at %d, want 5041", first.N)
	}
}

func TestRefreshSkipsWhenBacklogSufficient(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	g := newGenerator(t, store, Config{
		BlockSize:        10,
		RefreshCount:     3,
		RefreshThreshold: 2,
		RefreshPeriod:    time.Second,
	})

	if err := g.refreshOnce(ctx); err != nil {
		t.Fatalf("refreshOnce() error = %v", err)
	}
	before, err := store.LoadMetadata(ctx)
	if err != nil {
		t.Fatalf("LoadMetadata() error = %v", err)
	}

	// 3 eligible blocks >= threshold 2: the second pass is a no-op.
	if err := g.refreshOnce(ctx); err != nil {
		t.Fatalf("refreshOnce() error = %v", err)
	}
	after, err := store.LoadMetadata(ctx)
	if err != nil {
		t.Fatalf("LoadMetadata() error = %v", err)
	}
	if len(after) != len(before) {
		t.Errorf("backlog grew from %d to %d despite sufficient eligible blocks", len(before), len(after))
	}
}

func TestRefreshResumesPastLargestEndingIndex(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	g := newGenerator(t, store, Config{
		BlockSize:        10,
		RefreshCount:     2,
		RefreshThreshold: 5,
		RefreshPeriod:    time.Second,
	})

	// Seed a finished region ending at 5140 so the backlog is empty but
	// the cursor must resume at 5141.
	seeded := models.SearchMetadata{
		SearchIndexType:     models.ExhaustiveIndexName,
		StartingSearchIndex: models.ExhaustiveSearchIndex{N: 5041},
		EndingSearchIndex:   models.ExhaustiveSearchIndex{N: 5140},
		CreationTime:        time.Now().UTC(),
	}
	if err := store.InsertSearchBlocks(ctx, []models.SearchMetadata{seeded}); err != nil {
		t.Fatalf("InsertSearchBlocks() error = %v", err)
	}
	claimed, err := store.ClaimNextSearchBlock(ctx, models.ExhaustiveIndexName)
	if err != nil {
		t.Fatalf("ClaimNextSearchBlock() error = %v", err)
	}
	if err := store.FinishSearchBlock(ctx, claimed, nil); err != nil {
		t.Fatalf("FinishSearchBlock() error = %v", err)
	}

	if err := g.refreshOnce(ctx); err != nil {
		t.Fatalf("refreshOnce() error = %v", err)
	}

	metadata, err := store.LoadMetadata(ctx)
	if err != nil {
		t.Fatalf("LoadMetadata() error = %v", err)
	}
	if len(metadata) != 3 {
		t.Fatalf("store holds %d blocks, want 3", len(metadata))
	}

	var starts []int64
	for _, block := range metadata[1:] {
		starts = append(starts, block.StartingSearchIndex.(models.ExhaustiveSearchIndex).N)
	}
	if starts[0] != 5141 || starts[1] != 5151 {
		t.Errorf("new blocks start at %v, want [5141 5151]", starts)
	}
}

func TestRefreshIgnoresOtherIndexTypes(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	g := newGenerator(t, store, Config{
		BlockSize:        10,
		RefreshCount:     1,
		RefreshThreshold: 1,
		RefreshPeriod:    time.Second,
	})

	// A healthy superabundant backlog must not stop the exhaustive
	// generator from refilling its own.
	other := models.SearchMetadata{
		SearchIndexType:     models.SuperabundantIndexName,
		StartingSearchIndex: models.SuperabundantEnumerationIndex{Level: 1, IndexInLevel: 0},
		EndingSearchIndex:   models.SuperabundantEnumerationIndex{Level: 3, IndexInLevel: 0},
		CreationTime:        time.Now().UTC(),
	}
	if err := store.InsertSearchBlocks(ctx, []models.SearchMetadata{other}); err != nil {
		t.Fatalf("InsertSearchBlocks() error = %v", err)
	}

	if err := g.refreshOnce(ctx); err != nil {
		t.Fatalf("refreshOnce() error = %v", err)
	}
	metadata, err := store.LoadMetadata(ctx)
	if err != nil {
		t.Fatalf("LoadMetadata() error = %v", err)
	}
	exhaustiveBlocks := 0
	for _, block := range metadata {
		if block.SearchIndexType == models.ExhaustiveIndexName {
			exhaustiveBlocks++
		}
	}
	if exhaustiveBlocks != 1 {
		t.Errorf("generated %d exhaustive blocks, want 1", exhaustiveBlocks)
	}
}

func TestGeneratedBlocksCoverContiguousRanges(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	g := newGenerator(t, store, Config{
		BlockSize:        7,
		RefreshCount:     4,
		RefreshThreshold: 100,
		RefreshPeriod:    time.Second,
	})

	// Threshold never satisfied: every pass refills, and the combined
	// ranges must tile the index space with no gaps or overlaps.
	for i := 0; i < 3; i++ {
		if err := g.refreshOnce(ctx); err != nil {
			t.Fatalf("refreshOnce() pass %d error = %v", i, err)
		}
	}

	metadata, err := store.LoadMetadata(ctx)
	if err != nil {
		t.Fatalf("LoadMetadata() error = %v", err)
	}
	next := int64(5041)
	for i, block := range metadata {
		start := block.StartingSearchIndex.(models.ExhaustiveSearchIndex).N
		end := block.EndingSearchIndex.(models.ExhaustiveSearchIndex).N
		if start != next {
			t.Errorf("block %d starts at %d, want %d", i, start, next)
		}
		next = end + 1
	}
}
