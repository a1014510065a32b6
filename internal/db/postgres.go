package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	_ "embed"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/riemann-engine/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// pgUniqueViolation is the Postgres error code for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStore is the production Store backed by a pgx connection pool.
type PostgresStore struct {
	pool      *pgxpool.Pool
	threshold float64
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithWitnessThreshold overrides the persistence threshold. Lowering it to
// 0 persists every computed record, which auditing runs use to compare
// full outputs against block hashes.
func WithWitnessThreshold(threshold float64) PostgresOption {
	return func(s *PostgresStore) { s.threshold = threshold }
}

// Connect initializes the connection pool and verifies it with a ping,
// retrying with exponential backoff so workers survive a database that is
// still coming up.
func Connect(ctx context.Context, connStr string, opts ...PostgresOption) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	ping := func() error { return pool.Ping(ctx) }
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(ping, policy); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	store := &PostgresStore{pool: pool, threshold: DefaultWitnessThreshold}
	for _, opt := range opts {
		opt(store)
	}
	log.Println("[Store] Connected to PostgreSQL")
	return store, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitializeSchema executes the embedded schema, idempotently.
func (s *PostgresStore) InitializeSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %w", err)
	}
	log.Println("[Store] Divisor search schema initialized")
	return nil
}

func scanDivisorSum(nText, divisorSumText string, witness float64) (models.RiemannDivisorSum, error) {
	n, ok := new(big.Int).SetString(nText, 10)
	if !ok {
		return models.RiemannDivisorSum{}, fmt.Errorf("stored n %q is not an integer", nText)
	}
	divisorSum, ok := new(big.Int).SetString(divisorSumText, 10)
	if !ok {
		return models.RiemannDivisorSum{}, fmt.Errorf("stored divisor_sum %q is not an integer", divisorSumText)
	}
	return models.RiemannDivisorSum{N: n, DivisorSum: divisorSum, WitnessValue: witness}, nil
}

func (s *PostgresStore) Load(ctx context.Context) ([]models.RiemannDivisorSum, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT n::text, divisor_sum::text, witness_value
		FROM RiemannDivisorSums
		ORDER BY n ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load divisor sums: %w", err)
	}
	defer rows.Close()

	var sums []models.RiemannDivisorSum
	for rows.Next() {
		var nText, divisorSumText string
		var witness float64
		if err := rows.Scan(&nText, &divisorSumText, &witness); err != nil {
			return nil, err
		}
		record, err := scanDivisorSum(nText, divisorSumText, witness)
		if err != nil {
			return nil, err
		}
		sums = append(sums, record)
	}
	return sums, rows.Err()
}

func scanMetadata(rows pgx.Rows) ([]models.SearchMetadata, error) {
	var metadata []models.SearchMetadata
	for rows.Next() {
		var (
			startText, endText, indexType, stateText string
			creationTime, startTime, endTime         *time.Time
			blockHash                                *string
		)
		if err := rows.Scan(&startText, &endText, &indexType, &stateText,
			&creationTime, &startTime, &endTime, &blockHash); err != nil {
			return nil, err
		}

		block, err := buildMetadata(indexType, startText, endText, stateText,
			creationTime, startTime, endTime, blockHash)
		if err != nil {
			return nil, err
		}
		metadata = append(metadata, block)
	}
	return metadata, rows.Err()
}

func buildMetadata(indexType, startText, endText, stateText string,
	creationTime, startTime, endTime *time.Time, blockHash *string) (models.SearchMetadata, error) {

	startIndex, err := models.DeserializeSearchIndex(indexType, startText)
	if err != nil {
		return models.SearchMetadata{}, err
	}
	endIndex, err := models.DeserializeSearchIndex(indexType, endText)
	if err != nil {
		return models.SearchMetadata{}, err
	}
	state, err := models.ParseSearchBlockState(stateText)
	if err != nil {
		return models.SearchMetadata{}, err
	}

	block := models.SearchMetadata{
		SearchIndexType:     indexType,
		StartingSearchIndex: startIndex,
		EndingSearchIndex:   endIndex,
		State:               state,
	}
	if creationTime != nil {
		block.CreationTime = *creationTime
	}
	if startTime != nil {
		block.StartTime = *startTime
	}
	if endTime != nil {
		block.EndTime = *endTime
	}
	if blockHash != nil {
		block.BlockHash = *blockHash
	}
	return block, nil
}

func (s *PostgresStore) LoadMetadata(ctx context.Context) ([]models.SearchMetadata, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			starting_search_index,
			ending_search_index,
			search_index_type,
			state,
			creation_time,
			start_time,
			end_time,
			block_hash
		FROM SearchMetadata
		ORDER BY creation_time ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load search metadata: %w", err)
	}
	defer rows.Close()
	return scanMetadata(rows)
}

func (s *PostgresStore) summaryRecord(ctx context.Context, orderBy string) (*models.RiemannDivisorSum, error) {
	var nText, divisorSumText string
	var witness float64
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT n::text, divisor_sum::text, witness_value
		FROM RiemannDivisorSums
		ORDER BY %s DESC
		LIMIT 1;
	`, orderBy)).Scan(&nText, &divisorSumText, &witness)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record, err := scanDivisorSum(nText, divisorSumText, witness)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *PostgresStore) Summarize(ctx context.Context) (models.SummaryStats, error) {
	largestN, err := s.summaryRecord(ctx, "n")
	if err != nil {
		return models.SummaryStats{}, fmt.Errorf("failed to summarize: %w", err)
	}
	largestWitness, err := s.summaryRecord(ctx, "witness_value")
	if err != nil {
		return models.SummaryStats{}, fmt.Errorf("failed to summarize: %w", err)
	}
	return models.SummaryStats{
		LargestComputedN:    largestN,
		LargestWitnessValue: largestWitness,
	}, nil
}

func (s *PostgresStore) InsertSearchBlocks(ctx context.Context, blocks []models.SearchMetadata) error {
	if len(blocks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin insert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, block := range blocks {
		batch.Queue(`
			INSERT INTO SearchMetadata (
				creation_time,
				search_index_type,
				state,
				starting_search_index,
				ending_search_index
			)
			VALUES ($1, $2, 'NOT_STARTED', $3, $4);
		`,
			block.CreationTime,
			block.SearchIndexType,
			block.StartingSearchIndex.Serialize(),
			block.EndingSearchIndex.Serialize(),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrUniqueViolation, pgErr.Detail)
		}
		return fmt.Errorf("failed to insert search blocks: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ClaimNextSearchBlock(ctx context.Context, searchIndexType string) (models.SearchMetadata, error) {
	// The FOR UPDATE subquery row-locks the oldest eligible block before
	// the surrounding UPDATE commits, so two concurrent claimers cannot
	// receive the same block.
	rows, err := s.pool.Query(ctx, `
		UPDATE SearchMetadata
		SET
			start_time = NOW(),
			state = 'IN_PROGRESS'
		FROM (
			SELECT
				search_index_type,
				starting_search_index,
				ending_search_index
			FROM SearchMetadata
			WHERE
				search_index_type = $1
				AND (state = 'NOT_STARTED' OR state = 'FAILED')
			ORDER BY creation_time ASC
			LIMIT 1
			FOR UPDATE
		) AS m
		WHERE
			SearchMetadata.search_index_type = m.search_index_type
			AND SearchMetadata.starting_search_index = m.starting_search_index
			AND SearchMetadata.ending_search_index = m.ending_search_index
		RETURNING
			SearchMetadata.starting_search_index,
			SearchMetadata.ending_search_index,
			SearchMetadata.search_index_type,
			SearchMetadata.state,
			SearchMetadata.creation_time,
			SearchMetadata.start_time,
			SearchMetadata.end_time,
			SearchMetadata.block_hash;
	`, searchIndexType)
	if err != nil {
		return models.SearchMetadata{}, fmt.Errorf("failed to claim search block: %w", err)
	}
	defer rows.Close()

	claimed, err := scanMetadata(rows)
	if err != nil {
		return models.SearchMetadata{}, fmt.Errorf("failed to claim search block: %w", err)
	}
	if len(claimed) == 0 {
		return models.SearchMetadata{}, ErrNotAvailable
	}
	return claimed[0], nil
}

func (s *PostgresStore) FinishSearchBlock(ctx context.Context, block models.SearchMetadata, sums []models.RiemannDivisorSum) error {
	// The hash covers every computed output, including those below the
	// persistence threshold, so an auditor re-running the block can
	// verify it without knowing the deployment's threshold.
	blockHash := models.HashDivisorSums(sums)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin finish transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE SearchMetadata
		SET
			end_time = NOW(),
			state = 'FINISHED',
			block_hash = $1
		WHERE
			search_index_type = $2
			AND starting_search_index = $3
			AND ending_search_index = $4
			AND state = 'IN_PROGRESS';
	`,
		blockHash,
		block.SearchIndexType,
		block.StartingSearchIndex.Serialize(),
		block.EndingSearchIndex.Serialize(),
	)
	if err != nil {
		return fmt.Errorf("failed to finish search block: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: block [%s, %s]", ErrIllegalState,
			block.StartingSearchIndex.Serialize(), block.EndingSearchIndex.Serialize())
	}

	batch := &pgx.Batch{}
	for _, sum := range sums {
		if sum.WitnessValue > s.threshold {
			batch.Queue(`
				INSERT INTO RiemannDivisorSums (n, divisor_sum, witness_value)
				VALUES ($1::numeric, $2::numeric, $3);
			`, sum.N.String(), sum.DivisorSum.String(), sum.WitnessValue)
		}
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert divisor sums: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) MarkBlockAsFailed(ctx context.Context, block models.SearchMetadata) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE SearchMetadata
		SET state = 'FAILED'
		WHERE
			search_index_type = $1
			AND starting_search_index = $2
			AND ending_search_index = $3;
	`,
		block.SearchIndexType,
		block.StartingSearchIndex.Serialize(),
		block.EndingSearchIndex.Serialize(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark block as failed: %w", err)
	}
	return nil
}
