// Package backoff polls a condition on an exponential schedule. It knows
// nothing about what is being polled, so callers can drive it with fakes.
package backoff

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/memsql/errors"
)

// ErrAttemptsExhausted is matched by the error Poll returns when the
// condition never held.
const ErrAttemptsExhausted errors.String = "backoff attempts exhausted"

// Policy describes the wait schedule. Attempt i (0-based) is preceded by
// BaseDelay * Multiplier^i.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// Convergence is the schedule used while waiting for broker metadata:
// 100ms, 200ms, ... 6.4s over 7 attempts.
var Convergence = Policy{
	MaxAttempts: 7,
	BaseDelay:   100 * time.Millisecond,
	Multiplier:  2,
}

func (p Policy) Delay(attempt int) time.Duration {
	m := p.Multiplier
	if m <= 0 {
		m = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(m, float64(attempt)))
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the wall clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CheckFunc reports nil once the polled condition holds.
type CheckFunc func(ctx context.Context, attempt int) error

type Poller struct {
	Policy Policy
	// Sleep defaults to the wall clock.
	Sleep SleepFunc
	// OnFailure, if set, sees every failed check.
	OnFailure func(attempt int, err error)
}

func New(p Policy) *Poller {
	return &Poller{Policy: p, Sleep: Sleep}
}

// Poll waits Delay(i) and then runs check, for i in [0, MaxAttempts).
// It returns nil on the first successful check. Failed checks are not
// surfaced individually; after the final attempt the last failure is
// returned wrapped in an ExhaustedError.
func (p *Poller) Poll(ctx context.Context, check CheckFunc) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	var last error
	for i := 0; i < p.Policy.MaxAttempts; i++ {
		if err := sleep(ctx, p.Policy.Delay(i)); err != nil {
			return err
		}
		last = check(ctx, i)
		if last == nil {
			return nil
		}
		if p.OnFailure != nil {
			p.OnFailure(i, last)
		}
	}
	return &ExhaustedError{Attempts: p.Policy.MaxAttempts, Err: last}
}

type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", string(ErrAttemptsExhausted), e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAttemptsExhausted}
	}
	return []error{ErrAttemptsExhausted, e.Err}
}
