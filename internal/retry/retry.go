// Package retry executes fallible operations with exponential backoff.
// It is generic over the operation result; which failures are worth
// retrying is decided entirely by the policy's predicate.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const defaultMaxDelay = 30 * time.Second

// Policy controls how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// Multiplier scales the delay for each subsequent retry. Zero means 2.
	Multiplier float64

	// MaxDelay caps the backoff delay. Zero means 30s.
	MaxDelay time.Duration

	// Retryable decides whether a failure is worth retrying. A nil
	// predicate means no failure is retried.
	Retryable func(error) bool
}

// Executor runs operations under a Policy. The zero value is not usable;
// construct with NewExecutor.
type Executor struct {
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor returns an Executor that sleeps on the real clock.
func NewExecutor() Executor {
	return Executor{sleep: sleepContext}
}

// NewExecutorWithSleep returns an Executor with a custom sleep function,
// allowing tests to capture the delay sequence without real waiting.
func NewExecutorWithSleep(sleep func(ctx context.Context, d time.Duration) error) Executor {
	return Executor{sleep: sleep}
}

// Do runs op under the policy. The first attempt runs immediately. On
// failure, the error propagates without delay when the attempt budget is
// exhausted or the predicate rejects the error; otherwise Do sleeps
// BaseDelay * Multiplier^(n-1) before retry n. The sleep respects ctx
// cancellation.
func Do[T any](ctx context.Context, ex Executor, p Policy, op func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxDelay,
	}
	if b.Multiplier == 0 {
		b.Multiplier = 2
	}
	if b.MaxInterval == 0 {
		b.MaxInterval = defaultMaxDelay
	}
	b.Reset()

	var zero T
	for attempt := 1; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		// Fail fast: no delay is spent on an error that will not be
		// retried.
		if attempt == attempts || p.Retryable == nil || !p.Retryable(err) {
			return zero, err
		}

		if serr := ex.sleep(ctx, b.NextBackOff()); serr != nil {
			return zero, serr
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
