package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rateScope/internal/model"
)

//go:embed schema.sql
var schema string

// Store provides Postgres persistence for pools and exchange rates.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const upsertPoolSQL = `
	INSERT INTO pools (
		chain_id, pool_address, token0, token1, first_seen_block, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, now(), now())
	ON CONFLICT (chain_id, pool_address)
	DO UPDATE SET
		token0 = EXCLUDED.token0,
		token1 = EXCLUDED.token1,
		first_seen_block = LEAST(pools.first_seen_block, EXCLUDED.first_seen_block),
		updated_at = now()
`

const upsertRateSQL = `
	INSERT INTO exchange_rates (
		chain_id, block_number, pool_address,
		reserve0, reserve1, vreserve0, vreserve1, fee_in_precision,
		sell0_amount, buy1_amount, rate0to1,
		sell1_amount, buy0_amount, rate1to0,
		collected_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,now())
	ON CONFLICT (chain_id, block_number, pool_address)
	DO UPDATE SET
		reserve0 = EXCLUDED.reserve0,
		reserve1 = EXCLUDED.reserve1,
		vreserve0 = EXCLUDED.vreserve0,
		vreserve1 = EXCLUDED.vreserve1,
		fee_in_precision = EXCLUDED.fee_in_precision,
		sell0_amount = EXCLUDED.sell0_amount,
		buy1_amount = EXCLUDED.buy1_amount,
		rate0to1 = EXCLUDED.rate0to1,
		sell1_amount = EXCLUDED.sell1_amount,
		buy0_amount = EXCLUDED.buy0_amount,
		rate1to0 = EXCLUDED.rate1to0,
		collected_at = EXCLUDED.collected_at,
		updated_at = now()
`

// UpsertPools inserts or updates pool metadata.
func (s *Store) UpsertPools(ctx context.Context, pools []model.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pool := range pools {
		batch.Queue(upsertPoolSQL,
			int64(pool.ChainID),
			pool.Address,
			pool.Token0,
			pool.Token1,
			int64(pool.FirstSeenBlock),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pools {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Write upserts the record's pool and its exchange rate row in one batch.
func (s *Store) Write(ctx context.Context, record model.ExchangeRateRecord) error {
	collectedAt, err := parseCollectedAt(record.CollectedAt)
	if err != nil {
		return err
	}
	sell0, buy1, rate0 := quoteColumns(record.BestSell0Buy1)
	sell1, buy0, rate1 := quoteColumns(record.BestSell1Buy0)

	batch := &pgx.Batch{}
	batch.Queue(upsertPoolSQL,
		int64(record.ChainID),
		record.Pool,
		record.Token0,
		record.Token1,
		int64(record.BlockNumber),
	)
	batch.Queue(upsertRateSQL,
		int64(record.ChainID),
		int64(record.BlockNumber),
		record.Pool,
		record.Reserve0,
		record.Reserve1,
		record.VReserve0,
		record.VReserve1,
		record.FeeInPrecision,
		sell0, buy1, rate0,
		sell1, buy0, rate1,
		collectedAt,
	)

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < 2; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert exchange rate: %w", err)
		}
	}
	return nil
}

// LatestRate returns the newest stored record for pool.
func (s *Store) LatestRate(ctx context.Context, chainID uint64, pool string) (model.ExchangeRateRecord, bool, error) {
	var (
		record             model.ExchangeRateRecord
		blockNumber        int64
		sell0, buy1, rate0 *string
		sell1, buy0, rate1 *string
		collectedAt        time.Time
	)
	row := s.pool.QueryRow(ctx, `
		SELECT r.block_number, p.token0, p.token1,
			r.reserve0::text, r.reserve1::text, r.vreserve0::text, r.vreserve1::text, r.fee_in_precision::text,
			r.sell0_amount::text, r.buy1_amount::text, r.rate0to1::text,
			r.sell1_amount::text, r.buy0_amount::text, r.rate1to0::text,
			r.collected_at
		FROM exchange_rates r
		JOIN pools p ON p.chain_id = r.chain_id AND p.pool_address = r.pool_address
		WHERE r.chain_id = $1 AND r.pool_address = $2
		ORDER BY r.block_number DESC
		LIMIT 1
	`, int64(chainID), pool)
	err := row.Scan(
		&blockNumber, &record.Token0, &record.Token1,
		&record.Reserve0, &record.Reserve1, &record.VReserve0, &record.VReserve1, &record.FeeInPrecision,
		&sell0, &buy1, &rate0,
		&sell1, &buy0, &rate1,
		&collectedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return record, false, nil
		}
		return record, false, err
	}

	record.ChainID = chainID
	record.BlockNumber = uint64(blockNumber)
	record.Pool = pool
	record.BestSell0Buy1 = quoteFromColumns(sell0, buy1, rate0)
	record.BestSell1Buy0 = quoteFromColumns(sell1, buy0, rate1)
	record.CollectedAt = collectedAt.UTC().Format(time.RFC3339Nano)
	return record, true, nil
}

func parseCollectedAt(value string) (time.Time, error) {
	if value == "" {
		return time.Now().UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse collected_at: %w", err)
	}
	return ts, nil
}

func quoteColumns(q *model.TradeQuote) (sell, buy, rate *string) {
	if q == nil {
		return nil, nil, nil
	}
	return &q.SellAmount, &q.BuyAmount, &q.ExchangeRate
}

func quoteFromColumns(sell, buy, rate *string) *model.TradeQuote {
	if sell == nil || buy == nil || rate == nil {
		return nil
	}
	return &model.TradeQuote{SellAmount: *sell, BuyAmount: *buy, ExchangeRate: *rate}
}
