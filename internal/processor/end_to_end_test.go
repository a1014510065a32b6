package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rawblock/riemann-engine/internal/db"
	"github.com/rawblock/riemann-engine/internal/janitor"
	"github.com/rawblock/riemann-engine/internal/search"
	"github.com/rawblock/riemann-engine/pkg/models"
)

// TestSearchEndToEnd drives the full machine against one shared store: a
// generator fills the backlog with superabundant blocks, two processors
// drain it, and the finished blocks cover a contiguous prefix of the
// enumeration with hashes attached.
func TestSearchEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	store.SetWitnessThreshold(0)

	generatorStrategy, err := search.NewSuperabundantStrategy()
	if err != nil {
		t.Fatalf("NewSuperabundantStrategy() error = %v", err)
	}
	// Start at level 2 so every candidate has a defined witness value.
	if err := generatorStrategy.StartingFrom(models.SuperabundantEnumerationIndex{Level: 2, IndexInLevel: 0}); err != nil {
		t.Fatalf("StartingFrom() error = %v", err)
	}
	blocks, err := generatorStrategy.GenerateSearchBlocks(5, 3)
	if err != nil {
		t.Fatalf("GenerateSearchBlocks() error = %v", err)
	}
	if err := store.InsertSearchBlocks(ctx, blocks); err != nil {
		t.Fatalf("InsertSearchBlocks() error = %v", err)
	}

	// Two processors share the backlog.
	makeProcessor := func() *Processor {
		strategy, err := search.NewSuperabundantStrategy()
		if err != nil {
			t.Fatalf("NewSuperabundantStrategy() error = %v", err)
		}
		return New(store, strategy)
	}
	a, b := makeProcessor(), makeProcessor()
	for i := 0; ; i++ {
		var p *Processor
		if i%2 == 0 {
			p = a
		} else {
			p = b
		}
		if err := p.processOne(ctx); err != nil {
			if errors.Is(err, db.ErrNotAvailable) {
				break
			}
			t.Fatalf("processOne() error = %v", err)
		}
	}

	metadata, err := store.LoadMetadata(ctx)
	if err != nil {
		t.Fatalf("LoadMetadata() error = %v", err)
	}
	if len(metadata) != 5 {
		t.Fatalf("store holds %d blocks, want 5", len(metadata))
	}
	for i, block := range metadata {
		if block.State != models.StateFinished {
			t.Errorf("block %d state = %s, want FINISHED", i, block.State)
		}
		if len(block.BlockHash) != 64 {
			t.Errorf("block %d hash length = %d, want 64", i, len(block.BlockHash))
		}
		if block.EndTime.Before(block.StartTime) || block.StartTime.Before(block.CreationTime) {
			t.Errorf("block %d timestamps out of order", i)
		}
	}

	// Consecutive blocks tile the index space with no gap: each block
	// starts where AdvancePast puts the previous ending index.
	for i := 1; i < len(metadata); i++ {
		next, err := generatorStrategy.AdvancePast(metadata[i-1].EndingSearchIndex)
		if err != nil {
			t.Fatalf("AdvancePast() error = %v", err)
		}
		if metadata[i].StartingSearchIndex != next {
			t.Errorf("block %d starts at %v, want %v", i, metadata[i].StartingSearchIndex, next)
		}
	}

	// 15 candidates from (2,0) onward, all persisted under threshold 0.
	persisted, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(persisted) != 15 {
		t.Errorf("persisted %d records, want 15", len(persisted))
	}
}

// TestJanitorRecoversAbandonedBlock simulates a crashed worker: its claim
// goes stale, the janitor reverts it, and another processor finishes it.
func TestJanitorRecoversAbandonedBlock(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	seedBlocks(t, store, [][2]int64{{5041, 5044}})

	// A worker claims the block and dies.
	if _, err := store.ClaimNextSearchBlock(ctx, models.ExhaustiveIndexName); err != nil {
		t.Fatalf("ClaimNextSearchBlock() error = %v", err)
	}

	j := janitor.New(store, janitor.Config{
		SweepPeriod:       time.Second,
		StalenessDuration: time.Nanosecond,
	})
	done := make(chan error, 1)
	jctx, cancel := context.WithCancel(ctx)
	go func() { done <- j.Run(jctx) }()

	// Wait for the sweep to revert the stale claim.
	deadline := time.Now().Add(5 * time.Second)
	for {
		metadata, err := store.LoadMetadata(ctx)
		if err != nil {
			t.Fatalf("LoadMetadata() error = %v", err)
		}
		if metadata[0].State == models.StateFailed {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("janitor did not revert the stale block")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("janitor Run() error = %v", err)
	}

	// A healthy processor picks the block back up and completes it.
	p := New(store, search.NewExhaustiveStrategy())
	if err := p.processOne(ctx); err != nil {
		t.Fatalf("processOne() after recovery error = %v", err)
	}
	metadata, err := store.LoadMetadata(ctx)
	if err != nil {
		t.Fatalf("LoadMetadata() error = %v", err)
	}
	if metadata[0].State != models.StateFinished {
		t.Errorf("recovered block state = %s, want FINISHED", metadata[0].State)
	}
}
