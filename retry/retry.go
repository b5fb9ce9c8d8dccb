// Package retry holds the retry policies of network attempts.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultRetries      = 3
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second
)

// Policy allows Retries retries after a failed first attempt. Delay returns
// the wait before retry number attempt, counted from zero.
type Policy struct {
	Retries int
	Delay   func(attempt int) time.Duration
}

// Default retries three times, waiting 1s, 2s and 4s.
func Default() Policy {
	return Policy{
		Retries: DefaultRetries,
		Delay:   Exponential(DefaultInitialDelay, DefaultMaxDelay),
	}
}

// Attempts is the total number of tries the policy allows.
func (p Policy) Attempts() int {
	if p.Retries < 0 {
		return 1
	}
	return p.Retries + 1
}

// Wait returns the delay before retry number attempt. A policy without a
// Delay function uses the default exponential schedule.
func (p Policy) Wait(attempt int) time.Duration {
	if p.Delay == nil {
		return Exponential(DefaultInitialDelay, DefaultMaxDelay)(attempt)
	}
	if d := p.Delay(attempt); d > 0 {
		return d
	}
	return 0
}

// Exponential doubles the delay from initial on every retry, capped at max.
// There is no jitter, so the schedule is predictable.
func Exponential(initial, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		b := &backoff.ExponentialBackOff{
			InitialInterval:     initial,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         max,
		}
		b.Reset()
		d := b.NextBackOff()
		for i := 0; i < attempt && d < max; i++ {
			d = b.NextBackOff()
		}
		return d
	}
}

// Steps waits the given delays in order; the last one repeats.
func Steps(delays ...time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if len(delays) == 0 {
			return 0
		}
		if attempt >= len(delays) {
			return delays[len(delays)-1]
		}
		if attempt < 0 {
			attempt = 0
		}
		return delays[attempt]
	}
}

// Sleep waits for d or until ctx is done, whichever comes first. The timer
// is stopped on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
