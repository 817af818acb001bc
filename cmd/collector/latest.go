package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rateScope/internal/config"
	"rateScope/internal/model"
	"rateScope/internal/storage"
	"rateScope/internal/storage/postgres"
)

func runLatest(cmd *cobra.Command, args []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	chainID, _ := cmd.Flags().GetUint64("chain-id")

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	pools, err := config.ParseAddresses(args)
	if err != nil {
		return err
	}
	if len(pools) == 0 {
		return fmt.Errorf("at least one pool address is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var lookup func(pool string) (model.ExchangeRateRecord, bool, error)
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		lookup = func(pool string) (model.ExchangeRateRecord, bool, error) {
			return store.LatestRate(ctx, chainID, pool)
		}
	} else {
		files := storage.NewFileWriter(cfg.DBPath)
		lookup = files.Latest
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	for _, pool := range pools {
		record, ok, err := lookup(pool.Hex())
		if err != nil {
			return fmt.Errorf("pool %s: %w", pool.Hex(), err)
		}
		if !ok {
			logger.Warn("no stored record", zap.String("pool", pool.Hex()))
			continue
		}
		if err := enc.Encode(record); err != nil {
			return err
		}
	}
	return nil
}
