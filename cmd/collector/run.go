package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rateScope/internal/amm"
	"rateScope/internal/collector"
	"rateScope/internal/storage"
	"rateScope/internal/storage/postgres"
)

func runCollector(cmd *cobra.Command, _ []string) error {
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

	writers := storage.Multi{storage.NewFileWriter(cfg.DBPath)}
	if cfg.Journal != "" {
		writers = append(writers, storage.NewJournalWriter(cfg.Journal))
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
		writers = append(writers, store)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := collector.NewMetrics(reg, "rates")
	if cfg.MetricsAddr != "" {
		server := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	runner := collector.NewRunner(collector.RunConfig{
		ChainID:       chainID,
		PollInterval:  cfg.PollInterval,
		DrainTimeout:  cfg.DrainTimeout,
		UnitTimeout:   cfg.UnitTimeout,
		QueueTimeout:  cfg.QueueTimeout,
		MaxConcurrent: int64(cfg.MaxConcurrent),
		Probes:        probes,
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoff,
	}, source, writers, logger, metrics)

	logger.Info("collector start",
		zap.Uint64("chain_id", chainID),
		zap.String("factory", cfg.Factory),
		zap.Int("explicit_pools", len(cfg.Pools)),
		zap.String("db_path", cfg.DBPath),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Duration("drain_timeout", cfg.DrainTimeout),
		zap.Int("max_concurrent", cfg.MaxConcurrent),
		zap.Uint("probe_min_exp", cfg.ProbeMinExp),
		zap.Uint("probe_max_exp", cfg.ProbeMaxExp),
		zap.Bool("pin_block", cfg.PinBlock),
		zap.String("journal", cfg.Journal),
		zap.Bool("postgres", cfg.PGDSN != ""),
	)

	return runner.Run(ctx)
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return server
}
