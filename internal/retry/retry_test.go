package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func recordingExecutor(delays *[]time.Duration) Executor {
	return NewExecutorWithSleep(func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	})
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	var delays []time.Duration
	ex := recordingExecutor(&delays)

	calls := 0
	v, err := Do(context.Background(), ex, Policy{MaxAttempts: 3, BaseDelay: time.Second, Retryable: func(error) bool { return true }},
		func(context.Context) (string, error) {
			calls++
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays, "no delay when the first attempt succeeds")
}

func TestDo_ExhaustsAttemptsWithExponentialDelays(t *testing.T) {
	var delays []time.Duration
	ex := recordingExecutor(&delays)

	calls := 0
	_, err := Do(context.Background(), ex,
		Policy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, Multiplier: 2, Retryable: func(error) bool { return true }},
		func(context.Context) (int, error) {
			calls++
			return 0, errTransient
		})

	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 4, calls, "a permanently failing operation is attempted exactly MaxAttempts times")
	// k-1 delays: d, d*m, d*m^2 -- and none after the final attempt.
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}, delays)
}

func TestDo_FailsFastOnNonRetryable(t *testing.T) {
	var delays []time.Duration
	ex := recordingExecutor(&delays)

	terminal := errors.New("terminal")
	calls := 0
	_, err := Do(context.Background(), ex,
		Policy{MaxAttempts: 5, BaseDelay: time.Second, Retryable: func(err error) bool { return !errors.Is(err, terminal) }},
		func(context.Context) (int, error) {
			calls++
			return 0, terminal
		})

	require.ErrorIs(t, err, terminal)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays, "no delay is spent on an error that will not be retried")
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	var delays []time.Duration
	ex := recordingExecutor(&delays)

	calls := 0
	v, err := Do(context.Background(), ex,
		Policy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, Multiplier: 3, Retryable: func(error) bool { return true }},
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errTransient
			}
			return "recovered", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 150 * time.Millisecond}, delays)
}

func TestDo_NilPredicateNeverRetries(t *testing.T) {
	var delays []time.Duration
	ex := recordingExecutor(&delays)

	calls := 0
	_, err := Do(context.Background(), ex, Policy{MaxAttempts: 3, BaseDelay: time.Second},
		func(context.Context) (int, error) {
			calls++
			return 0, errTransient
		})

	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

func TestDo_MaxDelayCapsBackoff(t *testing.T) {
	var delays []time.Duration
	ex := recordingExecutor(&delays)

	_, _ = Do(context.Background(), ex,
		Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Multiplier: 10, MaxDelay: 300 * time.Millisecond, Retryable: func(error) bool { return true }},
		func(context.Context) (int, error) {
			return 0, errTransient
		})

	require.Len(t, delays, 4)
	assert.Equal(t, 100*time.Millisecond, delays[0])
	for _, d := range delays[1:] {
		assert.Equal(t, 300*time.Millisecond, d)
	}
}

func TestDo_CancelledSleepReturnsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ex := NewExecutorWithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	})

	calls := 0
	_, err := Do(ctx, ex, Policy{MaxAttempts: 3, BaseDelay: time.Second, Retryable: func(error) bool { return true }},
		func(context.Context) (int, error) {
			calls++
			return 0, errTransient
		})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_RealSleeperRespectsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Do(ctx, NewExecutor(),
		Policy{MaxAttempts: 2, BaseDelay: 5 * time.Second, Retryable: func(error) bool { return true }},
		func(context.Context) (int, error) {
			return 0, errTransient
		})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second, "backoff sleep must be cancellable")
}
