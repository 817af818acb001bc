package collector

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"rateScope/internal/amm"
	"rateScope/internal/chain"
	"rateScope/internal/model"
)

// SnapshotSource reads the chain head, the pool set and pool state.
type SnapshotSource interface {
	CurrentBlockHeight(ctx context.Context) (uint64, error)
	ListAllPools(ctx context.Context) ([]common.Address, error)
	FetchSnapshot(ctx context.Context, pool common.Address, block uint64) (model.PoolSnapshot, error)
}

// RecordWriter persists records.
type RecordWriter interface {
	Write(ctx context.Context, record model.ExchangeRateRecord) error
}

// RunConfig controls the collection loop.
type RunConfig struct {
	ChainID       uint64
	PollInterval  time.Duration
	DrainTimeout  time.Duration
	UnitTimeout   time.Duration
	QueueTimeout  time.Duration
	MaxConcurrent int64
	Probes        []*uint256.Int
	// MaxRetries and RetryBackoff apply to bootstrap queries only.
	MaxRetries   int
	RetryBackoff time.Duration
}

// Runner drives the block loop: detect a new head, fan out one unit per
// pool, drain finished units, sleep.
type Runner struct {
	cfg     RunConfig
	source  SnapshotSource
	writer  RecordWriter
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

func NewRunner(cfg RunConfig, source SnapshotSource, writer RecordWriter, logger *zap.Logger, metrics *Metrics) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil, "")
	}
	if len(cfg.Probes) == 0 {
		cfg.Probes = amm.DefaultProbes()
	}
	return &Runner{
		cfg:     cfg,
		source:  source,
		writer:  writer,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Bootstrap reads the starting head and the pool set. Any error is fatal.
func (r *Runner) Bootstrap(ctx context.Context) (*BlockCursor, []common.Address, error) {
	var height uint64
	backoff := chain.Backoff{MaxRetries: r.cfg.MaxRetries, BaseDelay: r.cfg.RetryBackoff}
	err := backoff.Do(ctx, func(ctx context.Context) error {
		var err error
		height, err = r.source.CurrentBlockHeight(ctx)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("read start block: %w", err)
	}

	pools, err := r.source.ListAllPools(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list pools: %w", err)
	}

	r.metrics.PoolsTracked.Set(float64(len(pools)))
	r.metrics.LastProcessedBlock.Set(float64(height))
	r.logger.Info("collector bootstrapped",
		zap.Uint64("start_block", height),
		zap.Int("pools", len(pools)),
	)
	return NewBlockCursor(height), pools, nil
}

// Run bootstraps and loops until ctx is done. Units still pending at
// shutdown get up to UnitTimeout to finish.
func (r *Runner) Run(ctx context.Context) error {
	cursor, pools, err := r.Bootstrap(ctx)
	if err != nil {
		return err
	}

	// Units outlive the loop's context so shutdown can let them finish.
	unitCtx, cancelUnits := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelUnits()

	orch := NewOrchestrator(OrchestratorConfig{
		MaxConcurrent: r.cfg.MaxConcurrent,
		UnitTimeout:   r.cfg.UnitTimeout,
		QueueTimeout:  r.cfg.QueueTimeout,
	}, r.Collect, r.logger, r.metrics)

	r.loop(ctx, unitCtx, cursor, pools, orch)

	pending := orch.Pending()
	if pending > 0 {
		r.logger.Info("waiting for pending units", zap.Int("pending", pending))
		waitCtx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout())
		drained := orch.Wait(waitCtx)
		cancel()
		if orch.Pending() > 0 {
			r.logger.Warn("abandoning pending units",
				zap.Int("drained", drained),
				zap.Int("abandoned", orch.Pending()),
			)
		}
	}
	r.logger.Info("collector stopped", zap.Uint64("last_block", cursor.Last()))
	return nil
}

func (r *Runner) loop(ctx, unitCtx context.Context, cursor *BlockCursor, pools []common.Address, orch *Orchestrator) {
	interval := r.pollInterval()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		r.tick(ctx, unitCtx, cursor, pools, orch)
		orch.Drain(r.cfg.DrainTimeout)
		timer.Reset(interval)
	}
}

// tick spawns a wave if the head moved past the cursor. The head query is
// bounded by the poll interval.
func (r *Runner) tick(ctx, unitCtx context.Context, cursor *BlockCursor, pools []common.Address, orch *Orchestrator) {
	headCtx, cancel := context.WithTimeout(ctx, r.pollInterval())
	height, err := r.source.CurrentBlockHeight(headCtx)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("failed to read block height", zap.Error(err))
		}
		return
	}
	block, ok := cursor.Advance(height)
	if !ok {
		return
	}

	spawned := orch.Spawn(unitCtx, block, pools)
	r.metrics.LastProcessedBlock.Set(float64(block))
	r.logger.Info("new block",
		zap.Uint64("block", block),
		zap.Int("units", spawned),
		zap.Int("pending", orch.Pending()),
	)
}

func (r *Runner) pollInterval() time.Duration {
	if r.cfg.PollInterval > 0 {
		return r.cfg.PollInterval
	}
	return 2 * time.Second
}

func (r *Runner) shutdownTimeout() time.Duration {
	if r.cfg.UnitTimeout > 0 {
		return r.cfg.UnitTimeout
	}
	return 30 * time.Second
}

// Collect is one collection unit: fetch the pool, price both directions
// and persist the record.
func (r *Runner) Collect(ctx context.Context, block uint64, pool common.Address) error {
	snapshot, err := r.source.FetchSnapshot(ctx, pool, block)
	if err != nil {
		return &SnapshotError{UnitError{Block: block, Pool: pool, Err: err}}
	}

	record, err := BuildRecord(r.cfg.ChainID, block, snapshot, r.cfg.Probes, r.now())
	if err != nil {
		return &MathError{UnitError{Block: block, Pool: pool, Err: err}}
	}
	if record.BestSell0Buy1 == nil {
		r.metrics.QuotesMissing.WithLabelValues(amm.Sell0Buy1.String()).Inc()
	}
	if record.BestSell1Buy0 == nil {
		r.metrics.QuotesMissing.WithLabelValues(amm.Sell1Buy0.String()).Inc()
	}

	if err := r.writer.Write(ctx, record); err != nil {
		return &PersistError{UnitError{Block: block, Pool: pool, Err: err}}
	}
	return nil
}

// QuoteNow prices pools at the current head without persisting. Pools that
// fail are logged and left out.
func (r *Runner) QuoteNow(ctx context.Context, pools []common.Address) (uint64, []model.ExchangeRateRecord, error) {
	block, err := r.source.CurrentBlockHeight(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("read block height: %w", err)
	}

	records := make([]model.ExchangeRateRecord, 0, len(pools))
	for _, pool := range pools {
		snapshot, err := r.source.FetchSnapshot(ctx, pool, block)
		if err != nil {
			r.logger.Warn("failed to fetch snapshot", zap.String("pool", pool.Hex()), zap.Error(err))
			continue
		}
		record, err := BuildRecord(r.cfg.ChainID, block, snapshot, r.cfg.Probes, r.now())
		if err != nil {
			r.logger.Warn("failed to price pool", zap.String("pool", pool.Hex()), zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	return block, records, nil
}

// BuildRecord prices a snapshot in both directions. A direction where no
// probe yields a trade is left empty; only unrepresentable snapshot values
// are an error.
func BuildRecord(chainID, block uint64, snapshot model.PoolSnapshot, probes []*uint256.Int, collectedAt time.Time) (model.ExchangeRateRecord, error) {
	inputs, err := amm.InputsFromSnapshot(snapshot)
	if err != nil {
		return model.ExchangeRateRecord{}, err
	}

	record := model.ExchangeRateRecord{
		ChainID:        chainID,
		BlockNumber:    block,
		Pool:           snapshot.Pool.Hex(),
		Token0:         snapshot.Token0.Hex(),
		Token1:         snapshot.Token1.Hex(),
		Reserve0:       bigString(snapshot.Reserve0),
		Reserve1:       bigString(snapshot.Reserve1),
		VReserve0:      bigString(snapshot.VReserve0),
		VReserve1:      bigString(snapshot.VReserve1),
		FeeInPrecision: bigString(snapshot.FeeInPrecision),
		CollectedAt:    collectedAt.UTC().Format(time.RFC3339Nano),
	}
	if quote, ok := amm.BestTrade(inputs, amm.Sell0Buy1, probes); ok {
		record.BestSell0Buy1 = quote.Model()
	}
	if quote, ok := amm.BestTrade(inputs, amm.Sell1Buy0, probes); ok {
		record.BestSell1Buy0 = quote.Model()
	}
	return record, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
