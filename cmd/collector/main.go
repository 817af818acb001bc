package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"rateScope/internal/chain"
	"rateScope/internal/config"
	"rateScope/internal/dex"
)

func main() {
	root := &cobra.Command{
		Use:          "collector",
		Short:        "Block-driven exchange rate collector for classic DMM pools",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().String("api-key", "", "RPC provider API key (env APIKEY)")
	root.PersistentFlags().String("rpc", "", "full RPC URL, overrides api-key")
	root.PersistentFlags().String("rpc-template", config.DefaultRPCTemplate, "RPC URL template filled with api-key")
	root.PersistentFlags().String("factory", dex.DefaultFactory, "pool factory address")
	root.PersistentFlags().StringSlice("pool", nil, "pool addresses (comma-separated); skips factory enumeration")
	root.PersistentFlags().Uint64("enum-batch-size", 100, "pool indexes per enumeration batch")
	root.PersistentFlags().Int("enum-workers", 4, "concurrent enumeration batches")
	root.PersistentFlags().Int("max-retries", 5, "maximum retry attempts for startup queries")
	root.PersistentFlags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	root.PersistentFlags().Bool("pin-block", false, "read pool state at the observed block instead of latest")
	root.PersistentFlags().Uint("probe-min-exp", 0, "smallest probe buy amount as a power of ten")
	root.PersistentFlags().Uint("probe-max-exp", 14, "largest probe buy amount as a power of ten")
	root.PersistentFlags().String("pg-dsn", "", "Postgres DSN")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Collect exchange rates for every pool on every new block",
		RunE:  runCollector,
	}

	runCmd.Flags().String("db-path", "./db", "base directory for per-block records (env DB_PATH)")
	runCmd.Flags().Int64("poll-interval-ms", 2000, "sleep between block checks in milliseconds (env POLL_INTERVAL_MS)")
	runCmd.Flags().Duration("drain-timeout", time.Millisecond, "wait per drain attempt, below 100ms")
	runCmd.Flags().Duration("unit-timeout", 30*time.Second, "bound on one pool collection")
	runCmd.Flags().Duration("queue-timeout", 0, "bound on waiting for a free slot, 0 waits indefinitely")
	runCmd.Flags().Int("max-concurrent", 64, "concurrently running pool collections")
	runCmd.Flags().String("journal", "", "optional JSONL journal of every record")
	runCmd.Flags().String("metrics-addr", "", "Prometheus listen address, e.g. :9102")

	root.AddCommand(runCmd)

	poolsCmd := &cobra.Command{
		Use:   "pools",
		Short: "List the pools registered with the factory",
		RunE:  runPools,
	}

	poolsCmd.Flags().Bool("tokens", false, "also read each pool's token pair")

	root.AddCommand(poolsCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote [pool...]",
		Short: "Print best trades for pools at the current head",
		RunE:  runQuote,
	}

	root.AddCommand(quoteCmd)

	latestCmd := &cobra.Command{
		Use:   "latest pool...",
		Short: "Print the newest stored record of each pool",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runLatest,
	}

	latestCmd.Flags().String("db-path", "./db", "base directory for per-block records (env DB_PATH)")
	latestCmd.Flags().Uint64("chain-id", 1, "chain id of the Postgres rows to read")

	root.AddCommand(latestCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration for cmd.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// connect opens the RPC client and builds the pool source on top of it.
func connect(ctx context.Context, cfg config.Config, logger *zap.Logger) (*chain.Client, *dex.Source, uint64, error) {
	endpoint, err := cfg.RPCEndpoint()
	if err != nil {
		return nil, nil, 0, err
	}
	client, err := chain.NewClient(ctx, endpoint)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("connect rpc: %w", err)
	}

	chainID, err := client.ChainIDValue(ctx)
	if err != nil {
		client.Close()
		return nil, nil, 0, err
	}

	factory, err := cfg.FactoryAddress()
	if err != nil {
		client.Close()
		return nil, nil, 0, err
	}
	pools, err := cfg.PoolAddresses()
	if err != nil {
		client.Close()
		return nil, nil, 0, err
	}

	source := dex.NewSource(client, dex.SourceConfig{
		Factory:       factory,
		Pools:         pools,
		EnumBatchSize: cfg.EnumBatchSize,
		EnumWorkers:   cfg.EnumWorkers,
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoff,
		PinBlock:      cfg.PinBlock,
	}, logger)
	return client, source, chainID, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
