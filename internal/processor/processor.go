// Package processor claims search blocks, computes their divisor sums,
// and finishes them. Any number of processors may run against one store;
// the claim protocol keeps their work disjoint.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/riemann-engine/internal/db"
	"github.com/rawblock/riemann-engine/internal/search"
)

// maxConsecutiveFailures is the number of consecutive failures after
// which the process exits and lets the supervisor restart it.
const maxConsecutiveFailures = 8

// Processor repeatedly claims and computes one block at a time.
type Processor struct {
	store    db.Store
	strategy search.Strategy
	workerID string
	sleep    func(ctx context.Context, d time.Duration)
}

func New(store db.Store, strategy search.Strategy) *Processor {
	return &Processor{
		store:    store,
		strategy: strategy,
		workerID: uuid.NewString()[:8],
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		},
	}
}

// Run loops until the context is cancelled or the consecutive-failure
// limit trips. NOT_AVAILABLE counts as a failure so an idle processor
// backs off and eventually exits when the generator has stopped.
func (p *Processor) Run(ctx context.Context) error {
	log.Printf("[Processor %s] Starting for %s", p.workerID, p.strategy.IndexName())

	failureCount := 0
	for {
		if ctx.Err() != nil {
			log.Printf("[Processor %s] Stopping", p.workerID)
			return nil
		}

		err := p.processOne(ctx)
		if err == nil {
			failureCount = 0
			continue
		}

		failureCount++
		if errors.Is(err, db.ErrNotAvailable) {
			log.Printf("[Processor %s] No search block available", p.workerID)
		} else {
			log.Printf("[Processor %s] Failed to claim or process search block: %v", p.workerID, err)
		}
		if failureCount >= maxConsecutiveFailures {
			return fmt.Errorf("processor failed %d times, quitting: %w", failureCount, err)
		}

		backoff := time.Duration(1+(1<<failureCount)) * time.Second
		log.Printf("[Processor %s] Sleeping and trying again in %s", p.workerID, backoff)
		p.sleep(ctx, backoff)
	}
}

// processOne claims a single block, computes it, and finishes it.
func (p *Processor) processOne(ctx context.Context) error {
	start := time.Now()
	block, err := p.store.ClaimNextSearchBlock(ctx, p.strategy.IndexName())
	if err != nil {
		return err
	}

	sums, err := p.strategy.ProcessBlock(block)
	if err != nil {
		return err
	}
	if err := p.store.FinishSearchBlock(ctx, block, sums); err != nil {
		return err
	}

	log.Printf("[Processor %s] Computed and saved [%s, %s] in %s",
		p.workerID,
		block.StartingSearchIndex.Serialize(),
		block.EndingSearchIndex.Serialize(),
		time.Since(start))
	return nil
}
