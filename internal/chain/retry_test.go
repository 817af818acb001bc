package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type revertError struct{}

func (revertError) Error() string  { return "execution reverted" }
func (revertError) ErrorCode() int { return 3 }

func TestBackoffSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Backoff{MaxRetries: 3, BaseDelay: time.Millisecond}.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestBackoffGivesUp(t *testing.T) {
	calls := 0
	want := errors.New("down")
	err := Backoff{MaxRetries: 2, BaseDelay: time.Millisecond}.Do(context.Background(), func(context.Context) error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestBackoffStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Backoff{MaxRetries: 10, BaseDelay: time.Hour}.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestBackoffCapsDelay(t *testing.T) {
	calls := 0
	start := time.Now()
	err := Backoff{MaxRetries: 4, BaseDelay: 5 * time.Millisecond, MaxDelay: 5 * time.Millisecond}.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("down")
	})
	if err == nil || calls != 5 {
		t.Fatalf("calls = %d, err = %v", calls, err)
	}
	// Uncapped doubling would sleep 5+10+20+40ms.
	if elapsed := time.Since(start); elapsed >= 70*time.Millisecond {
		t.Fatalf("elapsed = %s, delay was not capped", elapsed)
	}
}

func TestBackoffSkipsFinalErrors(t *testing.T) {
	testCases := []struct {
		name string
		err  error
	}{
		{name: "permanent", err: Permanent(errors.New("unpack getTradeInfo"))},
		{name: "wrapped permanent", err: fmt.Errorf("pool 3: %w", Permanent(errors.New("bad abi")))},
		{name: "reverted call", err: fmt.Errorf("call allPools: %w", revertError{})},
		{name: "deadline", err: context.DeadlineExceeded},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			err := Backoff{MaxRetries: 5, BaseDelay: time.Millisecond}.Do(context.Background(), func(context.Context) error {
				calls++
				return tc.err
			})
			if !errors.Is(err, tc.err) {
				t.Fatalf("err = %v, want %v", err, tc.err)
			}
			if calls != 1 {
				t.Fatalf("calls = %d, want 1", calls)
			}
		})
	}
}

func TestPermanentKeepsMessage(t *testing.T) {
	inner := errors.New("unpack token0: empty result")
	err := Permanent(inner)
	if err.Error() != inner.Error() {
		t.Fatalf("message = %q", err.Error())
	}
	if !errors.Is(err, inner) {
		t.Fatalf("permanent error must unwrap to its cause")
	}
	if Permanent(nil) != nil {
		t.Fatalf("Permanent(nil) must be nil")
	}
	if !Retryable(errors.New("connection reset")) {
		t.Fatalf("plain errors are retryable")
	}
}
