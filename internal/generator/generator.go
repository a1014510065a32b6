// Package generator keeps the backlog of claimable search blocks topped
// up. Exactly one generator runs per strategy; processors drain the
// backlog it maintains.
package generator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/riemann-engine/internal/db"
	"github.com/rawblock/riemann-engine/internal/search"
	"github.com/rawblock/riemann-engine/pkg/models"
)

// maxConsecutiveFailures is the number of consecutive store failures
// after which the process exits and lets the supervisor restart it.
const maxConsecutiveFailures = 8

// Config tunes the refill behavior.
type Config struct {
	// BlockSize is the number of candidates per block.
	BlockSize int
	// RefreshCount is how many blocks to generate per refill.
	RefreshCount int
	// RefreshThreshold is the backlog level below which a refill runs.
	RefreshThreshold int
	// RefreshPeriod is the sleep between backlog checks.
	RefreshPeriod time.Duration
}

// Generator watches the backlog of unclaimed blocks and creates more when
// it runs low.
type Generator struct {
	store    db.Store
	strategy search.Strategy
	cfg      Config
	workerID string
}

func New(store db.Store, strategy search.Strategy, cfg Config) *Generator {
	return &Generator{
		store:    store,
		strategy: strategy,
		cfg:      cfg,
		workerID: uuid.NewString()[:8],
	}
}

// Run loops until the context is cancelled or the consecutive-failure
// limit trips.
func (g *Generator) Run(ctx context.Context) error {
	log.Printf("[Generator %s] Starting for %s (block_size=%d refresh_count=%d refresh_threshold=%d)",
		g.workerID, g.strategy.IndexName(), g.cfg.BlockSize, g.cfg.RefreshCount, g.cfg.RefreshThreshold)

	ticker := time.NewTicker(g.cfg.RefreshPeriod)
	defer ticker.Stop()

	failureCount := 0
	for {
		if err := g.refreshOnce(ctx); err != nil {
			failureCount++
			log.Printf("[Generator %s] Failed with error: %v", g.workerID, err)
			if failureCount >= maxConsecutiveFailures {
				return fmt.Errorf("generator failed %d times, quitting: %w", failureCount, err)
			}
		} else {
			failureCount = 0
		}

		select {
		case <-ctx.Done():
			log.Printf("[Generator %s] Stopping", g.workerID)
			return nil
		case <-ticker.C:
		}
	}
}

// refreshOnce runs one backlog check, inserting new blocks if the count
// of claimable ones has dropped below the threshold.
func (g *Generator) refreshOnce(ctx context.Context) error {
	start := time.Now()

	allMetadata, err := g.store.LoadMetadata(ctx)
	if err != nil {
		return err
	}

	mine := make([]models.SearchMetadata, 0, len(allMetadata))
	eligible := 0
	for _, block := range allMetadata {
		if block.SearchIndexType != g.strategy.IndexName() {
			continue
		}
		mine = append(mine, block)
		if block.State == models.StateNotStarted || block.State == models.StateFailed {
			eligible++
		}
	}

	if eligible >= g.cfg.RefreshThreshold {
		log.Printf("[Generator %s] Found %d eligible blocks. Waiting until less than %d to refresh.",
			g.workerID, eligible, g.cfg.RefreshThreshold)
		return nil
	}

	resumeIndex, err := g.resumeIndex(mine)
	if err != nil {
		return err
	}
	if err := g.strategy.StartingFrom(resumeIndex); err != nil {
		return err
	}
	newBlocks, err := g.strategy.GenerateSearchBlocks(g.cfg.RefreshCount, g.cfg.BlockSize)
	if err != nil {
		return err
	}
	if err := g.store.InsertSearchBlocks(ctx, newBlocks); err != nil {
		return err
	}

	log.Printf("[Generator %s] Computed %d new search blocks in %s",
		g.workerID, len(newBlocks), time.Since(start))
	return nil
}

// resumeIndex finds where the next batch of blocks should begin: the
// strategy's default when nothing exists yet, otherwise one candidate
// past the largest ending index already covered.
func (g *Generator) resumeIndex(blocks []models.SearchMetadata) (models.SearchIndex, error) {
	if len(blocks) == 0 {
		return g.strategy.DefaultStartingIndex(), nil
	}
	endings := make([]models.SearchIndex, 0, len(blocks))
	for _, block := range blocks {
		endings = append(endings, block.EndingSearchIndex)
	}
	last, err := g.strategy.Max(endings)
	if err != nil {
		return nil, err
	}
	return g.strategy.AdvancePast(last)
}
