// Package janitor reverts blocks stuck in IN_PROGRESS back to FAILED so
// another processor can retry them. The staleness threshold bounds the
// delay between a crashed worker and block reassignment.
package janitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/riemann-engine/internal/db"
	"github.com/rawblock/riemann-engine/pkg/models"
)

// maxConsecutiveFailures is the number of consecutive store failures
// after which the process exits and lets the supervisor restart it.
const maxConsecutiveFailures = 8

// Config tunes the sweep behavior.
type Config struct {
	// SweepPeriod is the sleep between staleness checks.
	SweepPeriod time.Duration
	// StalenessDuration is how long a block may sit IN_PROGRESS before
	// it is considered abandoned.
	StalenessDuration time.Duration
}

// Janitor periodically sweeps for stale claims.
type Janitor struct {
	store    db.Store
	cfg      Config
	workerID string
	now      func() time.Time
}

func New(store db.Store, cfg Config) *Janitor {
	return &Janitor{
		store:    store,
		cfg:      cfg,
		workerID: uuid.NewString()[:8],
		now:      time.Now,
	}
}

// Run loops until the context is cancelled or the consecutive-failure
// limit trips.
func (j *Janitor) Run(ctx context.Context) error {
	log.Printf("[Janitor %s] Starting (staleness=%s)", j.workerID, j.cfg.StalenessDuration)

	ticker := time.NewTicker(j.cfg.SweepPeriod)
	defer ticker.Stop()

	failureCount := 0
	for {
		if err := j.sweepOnce(ctx); err != nil {
			failureCount++
			log.Printf("[Janitor %s] Failed with error: %v", j.workerID, err)
			if failureCount >= maxConsecutiveFailures {
				return fmt.Errorf("janitor failed %d times, quitting: %w", failureCount, err)
			}
		} else {
			failureCount = 0
		}

		select {
		case <-ctx.Done():
			log.Printf("[Janitor %s] Stopping", j.workerID)
			return nil
		case <-ticker.C:
		}
	}
}

// sweepOnce marks every stale IN_PROGRESS block as FAILED.
func (j *Janitor) sweepOnce(ctx context.Context) error {
	allMetadata, err := j.store.LoadMetadata(ctx)
	if err != nil {
		return err
	}

	stale := staleBlocks(allMetadata, j.cfg.StalenessDuration, j.now())
	if len(stale) > 0 {
		log.Printf("[Janitor %s] Marking %d stale blocks as failed", j.workerID, len(stale))
	}
	for _, block := range stale {
		if err := j.store.MarkBlockAsFailed(ctx, block); err != nil {
			return err
		}
		log.Printf("[Janitor %s] Marked block as failed: [%s, %s]",
			j.workerID,
			block.StartingSearchIndex.Serialize(),
			block.EndingSearchIndex.Serialize())
	}
	return nil
}

// staleBlocks returns the IN_PROGRESS blocks whose claim is older than
// the staleness duration, relative to the given time.
func staleBlocks(allMetadata []models.SearchMetadata, staleness time.Duration, relativeTo time.Time) []models.SearchMetadata {
	var stale []models.SearchMetadata
	for _, block := range allMetadata {
		if block.State == models.StateInProgress && relativeTo.Sub(block.StartTime) > staleness {
			stale = append(stale, block)
		}
	}
	return stale
}
