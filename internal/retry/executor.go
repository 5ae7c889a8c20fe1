// Package retry makes storage and submission operations resilient to
// transient failures without masking genuine application errors.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/pos-offline/internal/logging"
	"github.com/example/pos-offline/internal/store"
)

// Policy fixes the delay schedule and attempt ceiling. The schedule is
// indexed by attempt number; past its end the last delay is reused.
type Policy struct {
	Delays      []time.Duration
	MaxAttempts int
}

// DefaultPolicy returns the standard terminal retry policy.
func DefaultPolicy() Policy {
	return Policy{
		Delays:      []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 500 * time.Millisecond, time.Second, 2 * time.Second},
		MaxAttempts: 5,
	}
}

// DelayFor returns the backoff delay after the given zero-based attempt.
func (p Policy) DelayFor(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt >= len(p.Delays) {
		attempt = len(p.Delays) - 1
	}
	if attempt < 0 {
		attempt = 0
	}
	return p.Delays[attempt]
}

// ExhaustedError reports that every attempt of a retryable operation failed.
// It wraps the last observed error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: %s exhausted after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsExhausted reports whether err marks an exhausted retry budget.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// Sleeper waits for d or until the context is cancelled. Injectable so tests
// observe the schedule without real waiting.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Executor retries transient failures with the configured backoff schedule.
// It is operation-agnostic: the same policy applies to every wrapped call.
type Executor struct {
	policy Policy
	sleep  Sleeper
	logger *slog.Logger
}

// NewExecutor constructs an Executor with the provided policy.
func NewExecutor(policy Policy) *Executor {
	return NewExecutorWithLogger(policy, nil)
}

// NewExecutorWithLogger constructs an Executor with a specified logger.
func NewExecutorWithLogger(policy Policy, logger *slog.Logger) *Executor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy().MaxAttempts
	}
	if len(policy.Delays) == 0 {
		policy.Delays = DefaultPolicy().Delays
	}
	return &Executor{
		policy: policy,
		sleep:  sleepWithContext,
		logger: logging.Default(logger),
	}
}

// WithSleeper replaces the delay function. Intended for tests.
func (e *Executor) WithSleeper(sleep Sleeper) *Executor {
	if sleep != nil {
		e.sleep = sleep
	}
	return e
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy { return e.policy }

// Do runs fn, retrying transient failures per the policy. Permanent failures
// propagate after exactly one attempt with zero elapsed delay. When every
// attempt fails the last error is surfaced wrapped in an ExhaustedError.
func (e *Executor) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	logger := logging.Operation(ctx, e.logger, "retry", name)

	var lastErr error
	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !Retryable(err) {
			return err
		}

		// The backoff applies after every retryable failure, the final one
		// included, before the exhausted error surfaces.
		delay := e.policy.DelayFor(attempt)
		logger.WarnContext(ctx, "transient failure, backing off",
			"attempt", attempt+1,
			"delay", delay,
			"reason", store.ReasonOf(err),
			"error", err,
		)
		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}

	logger.ErrorContext(ctx, "retries exhausted",
		"attempts", e.policy.MaxAttempts,
		"error", lastErr,
	)
	return &ExhaustedError{Op: name, Attempts: e.policy.MaxAttempts, Err: lastErr}
}

// DoValue runs fn through the executor and returns its result on success.
func DoValue[T any](ctx context.Context, e *Executor, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, name, func(ctx context.Context) error {
		value, err := fn(ctx)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Retryable reports whether err warrants another attempt. The structured
// classification assigned at the storage or transport boundary is
// authoritative; the "aborted" indicator phrase covers errors from layers
// that predate the taxonomy. Context cancellation is never retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if store.IsTransient(err) {
		return true
	}
	if store.IsPermanent(err) {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "aborted")
}
