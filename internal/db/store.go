// Package db implements the durable block store: a table of search block
// records with a claim/finish state machine, plus the results table of
// interesting divisor sums. The Postgres implementation is the production
// backend; the in-memory implementation backs tests and mirrors the same
// transition rules.
package db

import (
	"context"
	"errors"

	"github.com/rawblock/riemann-engine/pkg/models"
)

// DefaultWitnessThreshold is the witness value above which a record is
// interesting enough to persist. Robin's criterion puts the fireworks at
// ~1.782; keeping a margin below it preserves near misses for auditing.
const DefaultWitnessThreshold = 1.767

var (
	// ErrNotAvailable reports that no block is eligible to claim. Expected
	// during normal operation; drives processor backoff.
	ErrNotAvailable = errors.New("no search block available to claim")

	// ErrIllegalState reports a finish attempt on a block that is not
	// IN_PROGRESS: another worker completed it, or the janitor failed it.
	ErrIllegalState = errors.New("search block is not in progress")

	// ErrUniqueViolation reports a block insert duplicating an existing
	// (search_index_type, starting, ending) triple. The whole batch is
	// rejected.
	ErrUniqueViolation = errors.New("search block range already exists")
)

// Store is the durable, concurrent-safe API shared by every worker role.
type Store interface {
	// InitializeSchema creates tables and enum types idempotently.
	InitializeSchema(ctx context.Context) error

	// Load returns every persisted divisor sum, ordered by n ascending.
	Load(ctx context.Context) ([]models.RiemannDivisorSum, error)

	// LoadMetadata returns every block, ordered by creation time ascending.
	LoadMetadata(ctx context.Context) ([]models.SearchMetadata, error)

	// Summarize reports the records with the largest n and the largest
	// witness value, or nil fields when the store is empty.
	Summarize(ctx context.Context) (models.SummaryStats, error)

	// InsertSearchBlocks inserts the blocks all-or-nothing, forcing each
	// to NOT_STARTED. A block whose (search_index_type, starting, ending)
	// triple already exists fails the batch with ErrUniqueViolation; ranges
	// that overlap an existing block without matching its triple are not
	// detected.
	InsertSearchBlocks(ctx context.Context, blocks []models.SearchMetadata) error

	// ClaimNextSearchBlock atomically transitions the oldest eligible
	// block of the given index type to IN_PROGRESS and returns it.
	// Concurrent claimers receive distinct blocks; when none is eligible
	// the error is ErrNotAvailable.
	ClaimNextSearchBlock(ctx context.Context, searchIndexType string) (models.SearchMetadata, error)

	// FinishSearchBlock transitions an IN_PROGRESS block to FINISHED,
	// records the block hash of the full output list, and persists the
	// outputs whose witness value exceeds the threshold, all in one
	// transaction. A block in any other state fails with ErrIllegalState
	// and nothing is written.
	FinishSearchBlock(ctx context.Context, block models.SearchMetadata, sums []models.RiemannDivisorSum) error

	// MarkBlockAsFailed transitions a block to FAILED regardless of its
	// current state. Idempotent; leaves block_hash untouched.
	MarkBlockAsFailed(ctx context.Context, block models.SearchMetadata) error
}
