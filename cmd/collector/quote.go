package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rateScope/internal/amm"
	"rateScope/internal/collector"
	"rateScope/internal/config"
)

func runQuote(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	probes, err := amm.Probes(cfg.ProbeMinExp, cfg.ProbeMaxExp)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, source, chainID, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	pools, err := config.ParseAddresses(args)
	if err != nil {
		return err
	}
	if len(pools) == 0 {
		pools, err = source.ListAllPools(ctx)
		if err != nil {
			return fmt.Errorf("list pools: %w", err)
		}
	}

	runner := collector.NewRunner(collector.RunConfig{
		ChainID: chainID,
		Probes:  probes,
	}, source, nil, logger, nil)

	_, records, err := runner.QuoteNow(ctx, pools)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			return err
		}
	}
	return nil
}
