package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rateScope/internal/dex"
	"rateScope/internal/model"
	"rateScope/internal/storage/postgres"
)

// poolReader is the part of dex.Source the pools command needs.
type poolReader interface {
	CurrentBlockHeight(ctx context.Context) (uint64, error)
	ListAllPools(ctx context.Context) ([]common.Address, error)
	PoolTokens(ctx context.Context, pool common.Address) (dex.PoolTokens, error)
}

func runPools(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	withTokens, _ := cmd.Flags().GetBool("tokens")

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, source, chainID, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	block, listed, resolved, err := listPools(ctx, source, chainID, withTokens || cfg.PGDSN != "", logger)
	if err != nil {
		return err
	}

	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := store.UpsertPools(ctx, resolved); err != nil {
			return fmt.Errorf("upsert pools: %w", err)
		}
	}

	logger.Info("pools listed",
		zap.Uint64("block", block),
		zap.Int("pools", len(listed)),
		zap.Int("with_tokens", len(resolved)),
	)

	return printPools(cmd, listed, withTokens)
}

// listPools returns every pool, and separately the pools whose token pair
// could be read when tokens are requested. A pool whose tokens fail to load
// is still listed.
func listPools(ctx context.Context, source poolReader, chainID uint64, withTokens bool, logger *zap.Logger) (uint64, []model.Pool, []model.Pool, error) {
	block, err := source.CurrentBlockHeight(ctx)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read block height: %w", err)
	}
	addresses, err := source.ListAllPools(ctx)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("list pools: %w", err)
	}

	listed := make([]model.Pool, 0, len(addresses))
	var resolved []model.Pool
	for _, address := range addresses {
		pool := model.Pool{ChainID: chainID, Address: address.Hex(), FirstSeenBlock: block}
		if withTokens {
			tokens, err := source.PoolTokens(ctx, address)
			if err != nil {
				logger.Warn("failed to read pool tokens", zap.String("pool", address.Hex()), zap.Error(err))
			} else {
				pool.Token0 = tokens.Token0.Hex()
				pool.Token1 = tokens.Token1.Hex()
				resolved = append(resolved, pool)
			}
		}
		listed = append(listed, pool)
	}
	return block, listed, resolved, nil
}

func printPools(cmd *cobra.Command, pools []model.Pool, withTokens bool) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, pool := range pools {
		if !withTokens {
			fmt.Fprintln(cmd.OutOrStdout(), pool.Address)
			continue
		}
		if err := enc.Encode(pool); err != nil {
			return err
		}
	}
	return nil
}
