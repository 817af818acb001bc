package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// CollectFunc fetches, prices and persists one pool at one block.
type CollectFunc func(ctx context.Context, block uint64, pool common.Address) error

// Outcome is the result of one drained collection unit.
type Outcome struct {
	Block    uint64
	Pool     common.Address
	Err      error
	Duration time.Duration
}

// Kind classifies the outcome.
func (o Outcome) Kind() OutcomeKind {
	return Classify(o.Err)
}

// OrchestratorConfig bounds collection units.
type OrchestratorConfig struct {
	// MaxConcurrent caps running units; excess units wait for a slot.
	MaxConcurrent int64
	// UnitTimeout bounds a unit once it holds a slot. Zero disables the bound.
	// A unit abandoned at its deadline keeps its slot until collect returns.
	UnitTimeout time.Duration
	// QueueTimeout bounds the wait for a slot. Zero waits as long as the
	// unit's context allows.
	QueueTimeout time.Duration
}

// Orchestrator fans out one collection unit per pool and collects their
// outcomes without blocking the caller. Spawn, Poll, Drain and Wait must be
// called from a single goroutine.
type Orchestrator struct {
	collect      CollectFunc
	sem          *semaphore.Weighted
	unitTimeout  time.Duration
	queueTimeout time.Duration
	done         chan Outcome
	pending      int
	logger       *zap.Logger
	metrics      *Metrics
}

func NewOrchestrator(cfg OrchestratorConfig, collect CollectFunc, logger *zap.Logger, metrics *Metrics) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil, "")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Orchestrator{
		collect:      collect,
		sem:          semaphore.NewWeighted(cfg.MaxConcurrent),
		unitTimeout:  cfg.UnitTimeout,
		queueTimeout: cfg.QueueTimeout,
		done:         make(chan Outcome),
		logger:       logger,
		metrics:      metrics,
	}
}

// Pending returns the number of spawned units not yet drained.
func (o *Orchestrator) Pending() int {
	return o.pending
}

// Spawn starts one independent unit per pool and returns immediately.
func (o *Orchestrator) Spawn(ctx context.Context, block uint64, pools []common.Address) int {
	for _, pool := range pools {
		o.pending++
		go o.runUnit(ctx, block, pool)
	}
	o.metrics.UnitsSpawned.Add(float64(len(pools)))
	o.metrics.PendingUnits.Set(float64(o.pending))
	return len(pools)
}

func (o *Orchestrator) runUnit(ctx context.Context, block uint64, pool common.Address) {
	start := time.Now()
	outcome := Outcome{Block: block, Pool: pool}
	defer func() {
		outcome.Duration = time.Since(start)
		o.done <- outcome
	}()

	if err := o.acquire(ctx); err != nil {
		outcome.Err = &JoinError{UnitError: UnitError{Block: block, Pool: pool, Err: err}}
		return
	}

	outcome.Err = o.execute(ctx, block, pool)
}

func (o *Orchestrator) acquire(ctx context.Context) error {
	if o.queueTimeout <= 0 {
		return o.sem.Acquire(ctx, 1)
	}
	queueCtx, cancel := context.WithTimeout(ctx, o.queueTimeout)
	defer cancel()
	return o.sem.Acquire(queueCtx, 1)
}

// execute runs collect under the unit deadline and releases the unit's slot
// once collect returns. A collect call that ignores its context is reported
// when the deadline passes but holds its slot until it returns.
func (o *Orchestrator) execute(ctx context.Context, block uint64, pool common.Address) error {
	unitCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.unitTimeout > 0 {
		unitCtx, cancel = context.WithTimeout(ctx, o.unitTimeout)
	}
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer o.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				result <- &JoinError{
					UnitError: UnitError{Block: block, Pool: pool, Err: fmt.Errorf("panic: %v", r)},
					Panic:     r,
				}
			}
		}()
		result <- o.collect(unitCtx, block, pool)
	}()

	select {
	case err := <-result:
		return err
	case <-unitCtx.Done():
		return &JoinError{UnitError: UnitError{Block: block, Pool: pool, Err: unitCtx.Err()}}
	}
}

// Poll waits up to timeout for one unit to finish. A non-positive timeout
// only checks for an already finished unit.
func (o *Orchestrator) Poll(timeout time.Duration) (Outcome, bool) {
	if o.pending == 0 {
		return Outcome{}, false
	}

	if timeout <= 0 {
		select {
		case outcome := <-o.done:
			o.observe(outcome)
			return outcome, true
		default:
			return Outcome{}, false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case outcome := <-o.done:
		o.observe(outcome)
		return outcome, true
	case <-timer.C:
		return Outcome{}, false
	}
}

// Drain collects finished units until none finishes within timeout or none
// is pending, and returns how many were collected.
func (o *Orchestrator) Drain(timeout time.Duration) int {
	drained := 0
	for {
		if _, ok := o.Poll(timeout); !ok {
			break
		}
		drained++
	}
	if o.pending > 0 {
		o.logger.Debug("awaiting units", zap.Int("pending", o.pending))
	}
	return drained
}

// Wait collects outcomes until no unit is pending or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) int {
	drained := 0
	for o.pending > 0 {
		select {
		case outcome := <-o.done:
			o.observe(outcome)
			drained++
		case <-ctx.Done():
			return drained
		}
	}
	return drained
}

func (o *Orchestrator) observe(outcome Outcome) {
	o.pending--
	kind := outcome.Kind()
	o.metrics.PendingUnits.Set(float64(o.pending))
	o.metrics.UnitOutcomes.WithLabelValues(string(kind)).Inc()
	o.metrics.UnitDuration.Observe(outcome.Duration.Seconds())

	fields := []zap.Field{
		zap.Uint64("block", outcome.Block),
		zap.String("pool", outcome.Pool.Hex()),
		zap.String("kind", string(kind)),
		zap.Duration("duration", outcome.Duration),
	}
	switch kind {
	case KindSuccess:
		o.logger.Debug("unit completed", fields...)
	case KindSnapshot, KindMath:
		o.logger.Warn("unit failed", append(fields, zap.Error(outcome.Err))...)
	default:
		o.logger.Error("unit failed", append(fields, zap.Error(outcome.Err))...)
	}
}
