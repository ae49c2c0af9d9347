// Package retry is the one retry policy used by the document store adapter,
// the optimistic lock updater and the sync retry wrapper.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Schedule returns a fresh backoff sequence for one call. Sequences are
// stateful, so each call to Do gets its own.
type Schedule func() backoff.BackOff

type Policy struct {
	MaxAttempts int
	Backoff     Schedule
	// Retryable decides whether an error is worth another attempt. Nil means never retry.
	Retryable func(error) bool
	// OnRetry is called before sleeping. Optional.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

const maxInterval = time.Hour

func exponential(initial time.Duration, randomization float64) Schedule {
	return func() backoff.BackOff {
		b := &backoff.ExponentialBackOff{
			InitialInterval:     initial,
			RandomizationFactor: randomization,
			Multiplier:          2,
			MaxInterval:         maxInterval,
			MaxElapsedTime:      0,
			Stop:                backoff.Stop,
			Clock:               backoff.SystemClock,
		}
		b.Reset()
		return b
	}
}

// Exponential waits base * 2^attempt: 2s, 4s, 8s for base=1s.
func Exponential(base time.Duration) Schedule {
	return exponential(2*base, 0)
}

// ExponentialFromZero waits base * 2^(attempt-1): 1s, 2s, 4s for base=1s.
func ExponentialFromZero(base time.Duration) Schedule {
	return exponential(base, 0)
}

// Jittered waits base * 2^(attempt-1), randomized by ±50%.
func Jittered(base time.Duration) Schedule {
	return exponential(base, 0.5)
}

// NoDelay is handy in tests.
func NoDelay() backoff.BackOff { return &backoff.ZeroBackOff{} }

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := max(p.MaxAttempts, 1)
	schedule := p.Backoff
	if schedule == nil {
		schedule = NoDelay
	}
	b := backoff.WithContext(backoff.WithMaxRetries(schedule(), uint64(attempts-1)), ctx)

	var (
		zero    T
		calls   int
		stopped bool
	)
	operation := func() (T, error) {
		calls++
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			stopped = true
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}
	notify := func(err error, delay time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(calls, err, delay)
		}
	}

	v, err := backoff.RetryNotifyWithData(operation, b, notify)
	if err == nil {
		return v, nil
	}
	if stopped || ctx.Err() != nil {
		return zero, err
	}
	return zero, &ExhaustedError{Attempts: calls, Err: err}
}
