package dex

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rateScope/internal/chain"
	"rateScope/internal/model"
)

// DefaultFactory is the exchange's classic pool factory on Ethereum mainnet.
const DefaultFactory = "0x1c758aF0688502e49140230F6b0EBd376d429be5"

// Caller is the subset of the chain client used to read pool state.
type Caller interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// SourceConfig controls where pools come from and how they are read.
type SourceConfig struct {
	Factory common.Address
	// Pools, when non-empty, replaces factory enumeration.
	Pools         []common.Address
	EnumBatchSize uint64
	EnumWorkers   int
	MaxRetries    int
	RetryBackoff  time.Duration
	// PinBlock reads snapshots at the block that triggered them instead of latest.
	PinBlock bool
}

// Source reads pools and their trading state from chain.
type Source struct {
	caller Caller
	cfg    SourceConfig
	tokens *PoolTokensCache
	logger *zap.Logger
}

func NewSource(caller Caller, cfg SourceConfig, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EnumBatchSize == 0 {
		cfg.EnumBatchSize = 100
	}
	if cfg.EnumWorkers <= 0 {
		cfg.EnumWorkers = 4
	}
	return &Source{
		caller: caller,
		cfg:    cfg,
		tokens: NewPoolTokensCache(),
		logger: logger,
	}
}

// CurrentBlockHeight returns the chain head.
func (s *Source) CurrentBlockHeight(ctx context.Context) (uint64, error) {
	return s.caller.LatestBlockNumber(ctx)
}

// ListAllPools returns the configured pools, or every pool registered with the factory.
func (s *Source) ListAllPools(ctx context.Context) ([]common.Address, error) {
	if len(s.cfg.Pools) > 0 {
		pools := make([]common.Address, len(s.cfg.Pools))
		copy(pools, s.cfg.Pools)
		return pools, nil
	}

	factory, err := FactoryABI()
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}

	var values []interface{}
	err = s.backoff().Do(ctx, func(ctx context.Context) error {
		var err error
		values, err = callMethod(ctx, s.caller, s.cfg.Factory, factory, "allPoolsLength", nil)
		if err != nil {
			s.logger.Warn("pool count fetch failed", zap.String("factory", s.cfg.Factory.Hex()), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	countInt, err := asBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("pool count: %w", err)
	}
	if !countInt.IsUint64() {
		return nil, fmt.Errorf("pool count does not fit in uint64: %s", countInt)
	}
	count := countInt.Uint64()
	if count == 0 {
		return []common.Address{}, nil
	}

	pools := make([]common.Address, count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.EnumWorkers)
	for _, indexRange := range PoolBatches(count, s.cfg.EnumBatchSize) {
		indexRange := indexRange
		g.Go(func() error {
			for i := indexRange.From; i <= indexRange.To; i++ {
				pool, err := s.poolAt(gctx, factory, i)
				if err != nil {
					return fmt.Errorf("pool %d: %w", i, err)
				}
				pools[i] = pool
			}
			s.logger.Debug("pool batch enumerated", zap.Uint64("from", indexRange.From), zap.Uint64("to", indexRange.To))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return pools, nil
}

func (s *Source) poolAt(ctx context.Context, factory abi.ABI, index uint64) (common.Address, error) {
	var pool common.Address
	err := s.backoff().Do(ctx, func(ctx context.Context) error {
		values, err := callMethod(ctx, s.caller, s.cfg.Factory, factory, "allPools", nil, new(big.Int).SetUint64(index))
		if err != nil {
			s.logger.Warn("pool address fetch failed", zap.Uint64("index", index), zap.Error(err))
			return err
		}
		pool, err = asAddress(values[0])
		return chain.Permanent(err)
	})
	return pool, err
}

// FetchSnapshot reads the token pair and trade info of a pool. The block is
// only used when PinBlock is set.
func (s *Source) FetchSnapshot(ctx context.Context, pool common.Address, block uint64) (model.PoolSnapshot, error) {
	poolABI, err := PoolABI()
	if err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("parse pool abi: %w", err)
	}

	tokens, err := s.poolTokens(ctx, poolABI, pool)
	if err != nil {
		return model.PoolSnapshot{}, err
	}

	var blockPtr *big.Int
	if s.cfg.PinBlock && block > 0 {
		blockPtr = new(big.Int).SetUint64(block)
	}

	values, err := callMethod(ctx, s.caller, pool, poolABI, "getTradeInfo", blockPtr)
	if err != nil {
		return model.PoolSnapshot{}, err
	}
	if len(values) != 5 {
		return model.PoolSnapshot{}, fmt.Errorf("getTradeInfo: expected 5 values, got %d", len(values))
	}

	ints := make([]*big.Int, len(values))
	for i, value := range values {
		ints[i], err = asBigInt(value)
		if err != nil {
			return model.PoolSnapshot{}, fmt.Errorf("getTradeInfo value %d: %w", i, err)
		}
	}

	return model.PoolSnapshot{
		Pool:           pool,
		Token0:         tokens.Token0,
		Token1:         tokens.Token1,
		Reserve0:       ints[0],
		Reserve1:       ints[1],
		VReserve0:      ints[2],
		VReserve1:      ints[3],
		FeeInPrecision: ints[4],
	}, nil
}

// PoolTokens returns the token pair of pool without reading its reserves.
func (s *Source) PoolTokens(ctx context.Context, pool common.Address) (PoolTokens, error) {
	poolABI, err := PoolABI()
	if err != nil {
		return PoolTokens{}, fmt.Errorf("parse pool abi: %w", err)
	}
	return s.poolTokens(ctx, poolABI, pool)
}

func (s *Source) poolTokens(ctx context.Context, poolABI abi.ABI, pool common.Address) (PoolTokens, error) {
	if tokens, ok := s.tokens.Get(pool); ok {
		return tokens, nil
	}

	values, err := callMethod(ctx, s.caller, pool, poolABI, "token0", nil)
	if err != nil {
		return PoolTokens{}, err
	}
	token0, err := asAddress(values[0])
	if err != nil {
		return PoolTokens{}, fmt.Errorf("token0: %w", err)
	}

	values, err = callMethod(ctx, s.caller, pool, poolABI, "token1", nil)
	if err != nil {
		return PoolTokens{}, err
	}
	token1, err := asAddress(values[0])
	if err != nil {
		return PoolTokens{}, fmt.Errorf("token1: %w", err)
	}

	tokens := PoolTokens{Token0: token0, Token1: token1}
	s.tokens.Set(pool, tokens)
	s.logger.Debug("pool tokens cached",
		zap.String("pool", pool.Hex()),
		zap.Int("cached_pools", s.tokens.Len()),
	)
	return tokens, nil
}

func (s *Source) backoff() chain.Backoff {
	return chain.Backoff{MaxRetries: s.cfg.MaxRetries, BaseDelay: s.cfg.RetryBackoff}
}

func callMethod(ctx context.Context, caller Caller, to common.Address, parsed abi.ABI, method string, block *big.Int, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, chain.Permanent(fmt.Errorf("pack %s: %w", method, err))
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := caller.CallContract(ctx, msg, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, chain.Permanent(fmt.Errorf("unpack %s: %w", method, err))
	}
	if len(values) == 0 {
		return nil, chain.Permanent(fmt.Errorf("unpack %s: empty result", method))
	}
	return values, nil
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}
