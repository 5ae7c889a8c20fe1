package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/pos-offline/internal/store"
)

// recordingSleeper captures requested delays instead of waiting.
func recordingSleeper(delays *[]time.Duration) Sleeper {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestExecutor_SucceedsFirstAttempt(t *testing.T) {
	var delays []time.Duration
	executor := NewExecutor(DefaultPolicy()).WithSleeper(recordingSleeper(&delays))

	calls := 0
	err := executor.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if len(delays) != 0 {
		t.Errorf("expected no delays, got %v", delays)
	}
}

func TestExecutor_RetriesTransientWithSchedule(t *testing.T) {
	var delays []time.Duration
	executor := NewExecutor(DefaultPolicy()).WithSleeper(recordingSleeper(&delays))

	calls := 0
	err := executor.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 4 {
			return store.NewTransient("op", store.ReasonContention, errors.New("database is locked"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 500 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("expected %d delays, got %v", len(want), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i, want[i], delays[i])
		}
	}
}

func TestExecutor_PermanentFailsImmediately(t *testing.T) {
	var delays []time.Duration
	executor := NewExecutor(DefaultPolicy()).WithSleeper(recordingSleeper(&delays))

	permanent := store.NewPermanent("op", store.ReasonConstraint, errors.New("UNIQUE constraint failed"))
	calls := 0
	err := executor.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error back, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if len(delays) != 0 {
		t.Errorf("expected zero elapsed delay, got %v", delays)
	}
}

func TestExecutor_ExhaustsBudget(t *testing.T) {
	var delays []time.Duration
	executor := NewExecutor(DefaultPolicy()).WithSleeper(recordingSleeper(&delays))

	transient := store.NewTransient("op", store.ReasonNetwork, errors.New("connection refused"))
	calls := 0
	err := executor.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return transient
	})

	if !IsExhausted(err) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if !errors.Is(err, transient) {
		t.Errorf("exhausted error should wrap the last failure, got %v", err)
	}
	if calls != 5 {
		t.Errorf("expected 5 attempts, got %d", calls)
	}

	// Every retryable failure backs off, the final one included.
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 500 * time.Millisecond, time.Second, 2 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i, want[i], delays[i])
		}
	}
}

func TestExecutor_ContextCancellationStopsRetrying(t *testing.T) {
	executor := NewExecutor(DefaultPolicy()).WithSleeper(func(ctx context.Context, d time.Duration) error {
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := executor.Do(ctx, "op", func(ctx context.Context) error {
		calls++
		cancel()
		return store.NewTransient("op", store.ReasonContention, errors.New("database is locked"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation took effect, got %d", calls)
	}
}

func TestDoValue_ReturnsResult(t *testing.T) {
	var delays []time.Duration
	executor := NewExecutor(DefaultPolicy()).WithSleeper(recordingSleeper(&delays))

	calls := 0
	value, err := DoValue(context.Background(), executor, "op", func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, store.NewTransient("op", store.ReasonContention, errors.New("database is locked"))
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("DoValue failed: %v", err)
	}
	if value != 42 {
		t.Errorf("expected 42, got %d", value)
	}
}

func TestPolicy_DelayForClampsToSchedule(t *testing.T) {
	policy := DefaultPolicy()

	if got := policy.DelayFor(0); got != 100*time.Millisecond {
		t.Errorf("attempt 0: got %v", got)
	}
	if got := policy.DelayFor(4); got != 2*time.Second {
		t.Errorf("attempt 4: got %v", got)
	}
	// Attempts past the schedule reuse the final delay.
	if got := policy.DelayFor(9); got != 2*time.Second {
		t.Errorf("attempt 9: got %v", got)
	}
}

func TestRetryable_Classification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", store.NewTransient("op", store.ReasonContention, errors.New("locked")), true},
		{"permanent", store.NewPermanent("op", store.ReasonConstraint, errors.New("constraint")), false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"unclassified aborted", errors.New("transaction was aborted"), true},
		{"unclassified other", errors.New("something else"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Retryable(tc.err); got != tc.want {
				t.Errorf("Retryable(%v) = %t, want %t", tc.err, got, tc.want)
			}
		})
	}
}
