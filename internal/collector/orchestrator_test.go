package collector

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPools(n int) []common.Address {
	pools := make([]common.Address, n)
	for i := range pools {
		pools[i] = common.BigToAddress(big.NewInt(int64(i + 1)))
	}
	return pools
}

func waitAll(t *testing.T, o *Orchestrator) []Outcome {
	t.Helper()
	var outcomes []Outcome
	deadline := time.Now().Add(5 * time.Second)
	for o.Pending() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("units still pending: %d", o.Pending())
		}
		if outcome, ok := o.Poll(50 * time.Millisecond); ok {
			outcomes = append(outcomes, outcome)
		}
	}
	return outcomes
}

func TestOrchestratorSpawnAndDrain(t *testing.T) {
	var calls atomic.Int32
	o := NewOrchestrator(OrchestratorConfig{MaxConcurrent: 4}, func(ctx context.Context, block uint64, pool common.Address) error {
		calls.Add(1)
		return nil
	}, nil, nil)

	pools := testPools(6)
	assert.Equal(t, 6, o.Spawn(context.Background(), 42, pools))
	assert.Equal(t, 6, o.Pending())

	outcomes := waitAll(t, o)
	require.Len(t, outcomes, 6)
	assert.Equal(t, int32(6), calls.Load())

	seen := make(map[common.Address]bool)
	for _, outcome := range outcomes {
		assert.Equal(t, uint64(42), outcome.Block)
		assert.Equal(t, KindSuccess, outcome.Kind())
		seen[outcome.Pool] = true
	}
	assert.Len(t, seen, 6)
	assert.Equal(t, 0, o.Pending())
}

func TestOrchestratorPollWithoutPending(t *testing.T) {
	o := NewOrchestrator(OrchestratorConfig{MaxConcurrent: 1}, func(context.Context, uint64, common.Address) error {
		return nil
	}, nil, nil)

	start := time.Now()
	_, ok := o.Poll(time.Second)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 0, o.Drain(time.Second))
}

func TestOrchestratorDrainIsBounded(t *testing.T) {
	release := make(chan struct{})
	o := NewOrchestrator(OrchestratorConfig{MaxConcurrent: 8}, func(ctx context.Context, block uint64, pool common.Address) error {
		<-release
		return nil
	}, nil, nil)
	o.Spawn(context.Background(), 1, testPools(3))

	start := time.Now()
	drained := o.Drain(20 * time.Millisecond)
	elapsed := time.Since(start)

	assert.Equal(t, 0, drained)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, 3, o.Pending())

	close(release)
	assert.Len(t, waitAll(t, o), 3)
}

func TestOrchestratorZeroTimeoutPoll(t *testing.T) {
	release := make(chan struct{})
	o := NewOrchestrator(OrchestratorConfig{MaxConcurrent: 1}, func(context.Context, uint64, common.Address) error {
		<-release
		return nil
	}, nil, nil)
	o.Spawn(context.Background(), 1, testPools(1))

	_, ok := o.Poll(0)
	assert.False(t, ok)

	close(release)
	assert.Len(t, waitAll(t, o), 1)
}

func TestOrchestratorPanicIsJoinError(t *testing.T) {
	o := NewOrchestrator(OrchestratorConfig{MaxConcurrent: 2}, func(ctx context.Context, block uint64, pool common.Address) error {
		if pool == testPools(1)[0] {
			panic("boom")
		}
		return nil
	}, nil, nil)
	o.Spawn(context.Background(), 7, testPools(2))

	kinds := make(map[OutcomeKind]int)
	for _, outcome := range waitAll(t, o) {
		kinds[outcome.Kind()]++
		if outcome.Kind() == KindJoin {
			var joinErr *JoinError
			require.ErrorAs(t, outcome.Err, &joinErr)
			assert.Equal(t, "boom", joinErr.Panic)
			assert.Contains(t, joinErr.Error(), "panicked")
		}
	}
	assert.Equal(t, map[OutcomeKind]int{KindJoin: 1, KindSuccess: 1}, kinds)
}

func TestOrchestratorUnitTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	o := NewOrchestrator(OrchestratorConfig{MaxConcurrent: 1, UnitTimeout: 20 * time.Millisecond}, func(context.Context, uint64, common.Address) error {
		// Ignores its context on purpose.
		<-release
		return nil
	}, nil, nil)
	o.Spawn(context.Background(), 3, testPools(1))

	outcomes := waitAll(t, o)
	require.Len(t, outcomes, 1)
	assert.Equal(t, KindJoin, outcomes[0].Kind())
	assert.ErrorIs(t, outcomes[0].Err, context.DeadlineExceeded)
}

func TestOrchestratorConcurrencyCeiling(t *testing.T) {
	var running, peak atomic.Int32
	o := NewOrchestrator(OrchestratorConfig{MaxConcurrent: 2}, func(context.Context, uint64, common.Address) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return nil
	}, nil, nil)

	o.Spawn(context.Background(), 1, testPools(10))
	assert.Len(t, waitAll(t, o), 10)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestOrchestratorTimedOutUnitKeepsSlot(t *testing.T) {
	release := make(chan struct{})
	var running, peak atomic.Int32
	o := NewOrchestrator(OrchestratorConfig{MaxConcurrent: 1, UnitTimeout: 10 * time.Millisecond}, func(context.Context, uint64, common.Address) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		// Ignores its context on purpose.
		<-release
		running.Add(-1)
		return nil
	}, nil, nil)
	o.Spawn(context.Background(), 1, testPools(5))

	outcome, ok := o.Poll(time.Second)
	require.True(t, ok)
	assert.Equal(t, KindJoin, outcome.Kind())
	assert.ErrorIs(t, outcome.Err, context.DeadlineExceeded)

	// The abandoned call still holds the only slot.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), running.Load())
	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 4, o.Pending())

	close(release)
	assert.Len(t, waitAll(t, o), 4)
	assert.Equal(t, int32(1), peak.Load())
}

func TestOrchestratorQueueTimeout(t *testing.T) {
	release := make(chan struct{})
	o := NewOrchestrator(OrchestratorConfig{MaxConcurrent: 1, QueueTimeout: 20 * time.Millisecond}, func(context.Context, uint64, common.Address) error {
		<-release
		return nil
	}, nil, nil)

	pools := testPools(2)
	o.Spawn(context.Background(), 1, pools[:1])
	time.Sleep(10 * time.Millisecond)
	o.Spawn(context.Background(), 1, pools[1:])

	outcome, ok := o.Poll(time.Second)
	require.True(t, ok)
	assert.Equal(t, pools[1], outcome.Pool)
	assert.Equal(t, KindJoin, outcome.Kind())
	assert.ErrorIs(t, outcome.Err, context.DeadlineExceeded)

	close(release)
	outcomes := waitAll(t, o)
	require.Len(t, outcomes, 1)
	assert.Equal(t, KindSuccess, outcomes[0].Kind())
}

func TestOrchestratorCancelledWhileQueued(t *testing.T) {
	release := make(chan struct{})
	o := NewOrchestrator(OrchestratorConfig{MaxConcurrent: 1}, func(context.Context, uint64, common.Address) error {
		<-release
		return nil
	}, nil, nil)

	pools := testPools(2)
	o.Spawn(context.Background(), 1, pools[:1])
	// Give the first unit time to take the only slot.
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o.Spawn(ctx, 1, pools[1:])

	outcome, ok := o.Poll(time.Second)
	require.True(t, ok)
	assert.Equal(t, pools[1], outcome.Pool)
	assert.Equal(t, KindJoin, outcome.Kind())
	assert.ErrorIs(t, outcome.Err, context.Canceled)

	close(release)
	assert.Len(t, waitAll(t, o), 1)
}

func TestOrchestratorWaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	o := NewOrchestrator(OrchestratorConfig{MaxConcurrent: 1}, func(context.Context, uint64, common.Address) error {
		<-release
		return nil
	}, nil, nil)
	o.Spawn(context.Background(), 1, testPools(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, 0, o.Wait(ctx))
	assert.Equal(t, 1, o.Pending())
}

func TestClassify(t *testing.T) {
	pool := common.HexToAddress("0x1111111111111111111111111111111111111111")
	base := UnitError{Block: 9, Pool: pool, Err: errors.New("cause")}

	testCases := []struct {
		name string
		err  error
		want OutcomeKind
	}{
		{name: "nil", err: nil, want: KindSuccess},
		{name: "snapshot", err: &SnapshotError{base}, want: KindSnapshot},
		{name: "math", err: &MathError{base}, want: KindMath},
		{name: "persist", err: &PersistError{base}, want: KindPersist},
		{name: "join", err: &JoinError{UnitError: base}, want: KindJoin},
		{name: "wrapped", err: fmt.Errorf("outer: %w", &PersistError{base}), want: KindPersist},
		{name: "unknown", err: errors.New("plain"), want: KindUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}

	err := &SnapshotError{base}
	assert.ErrorIs(t, err, base.Err)
	assert.Contains(t, err.Error(), "block 9")
	assert.Contains(t, err.Error(), pool.Hex())
}
