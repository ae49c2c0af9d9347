package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func retryFlaky(err error) bool { return errors.Is(err, errFlaky) }

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	var delays []time.Duration
	p := Policy{
		MaxAttempts: 3,
		Backoff:     NoDelay,
		Retryable:   retryFlaky,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			delays = append(delays, delay)
		},
	}

	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, delays, 2)
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	boom := errors.New("boom")

	err := Do(context.Background(), Policy{MaxAttempts: 5, Backoff: NoDelay, Retryable: retryFlaky}, func(ctx context.Context) error {
		calls++
		return boom
	})

	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0

	err := Do(context.Background(), Policy{MaxAttempts: 3, Backoff: NoDelay, Retryable: retryFlaky}, func(ctx context.Context) error {
		calls++
		return errFlaky
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Do(ctx, Policy{MaxAttempts: 5, Backoff: Exponential(time.Hour), Retryable: retryFlaky}, func(ctx context.Context) error {
		calls++
		cancel()
		return errFlaky
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoValue_ReturnsValue(t *testing.T) {
	v, err := DoValue(context.Background(), Policy{MaxAttempts: 1}, func(ctx context.Context) (int, error) {
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDo_ReportsScheduledDelays(t *testing.T) {
	// ARRANGE
	var attempts []int
	var delays []time.Duration
	p := Policy{
		MaxAttempts: 3,
		Backoff:     ExponentialFromZero(time.Millisecond),
		Retryable:   retryFlaky,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
			delays = append(delays, delay)
		},
	}

	// ACT
	err := Do(context.Background(), p, func(ctx context.Context) error {
		return errFlaky
	})

	// ASSERT
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, []int{1, 2}, attempts)
	require.Len(t, delays, 2)
	assertDelay(t, time.Millisecond, delays[0])
	assertDelay(t, 2*time.Millisecond, delays[1])
}

func TestDo_SingleAttemptIsExhaustedAfterOneCall(t *testing.T) {
	calls := 0

	err := Do(context.Background(), Policy{Backoff: NoDelay, Retryable: retryFlaky}, func(ctx context.Context) error {
		calls++
		return errFlaky
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, exhausted.Attempts)
	assert.Equal(t, 1, calls)
}

func TestBackoffSchedules(t *testing.T) {
	exp := Exponential(time.Second)()
	assertDelay(t, 2*time.Second, exp.NextBackOff())
	assertDelay(t, 4*time.Second, exp.NextBackOff())
	assertDelay(t, 8*time.Second, exp.NextBackOff())

	fromZero := ExponentialFromZero(time.Second)()
	assertDelay(t, time.Second, fromZero.NextBackOff())
	assertDelay(t, 2*time.Second, fromZero.NextBackOff())
	assertDelay(t, 4*time.Second, fromZero.NextBackOff())

	assert.Equal(t, time.Duration(0), NoDelay().NextBackOff())
}

func TestJittered_StaysWithinHalfOfTheExponentialStep(t *testing.T) {
	for run := 0; run < 20; run++ {
		jit := Jittered(500 * time.Millisecond)()
		base := 500 * time.Millisecond
		for step := 0; step < 3; step++ {
			d := jit.NextBackOff()
			assert.GreaterOrEqual(t, d, base/2)
			assert.LessOrEqual(t, d, base*3/2)
			base *= 2
		}
	}
}

func TestSchedule_EachCallStartsOver(t *testing.T) {
	schedule := Exponential(time.Second)
	first := schedule()
	first.NextBackOff()
	first.NextBackOff()

	assertDelay(t, 2*time.Second, schedule().NextBackOff())
}

func assertDelay(t *testing.T, want, got time.Duration) {
	t.Helper()
	assert.InDelta(t, float64(want), float64(got), float64(time.Microsecond))
}
