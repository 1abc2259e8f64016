// Package backoff provides retry delay strategies for whole-run retries.
// All strategies are safe for concurrent use (they are stateless).
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns how long to wait before retry n (1-indexed).
	// Retry 1 follows the first failed attempt.
	Delay(retry int) time.Duration
}

// Func adapts a plain function to Strategy.
type Func func(retry int) time.Duration

func (f Func) Delay(retry int) time.Duration { return f(retry) }

// Immediate never waits.
var Immediate Strategy = Func(func(int) time.Duration { return 0 })

// Constant always returns the same delay.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Exponential doubles the delay each retry.
// Delay = min(Initial * 2^(retry-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

func (e *Exponential) Delay(retry int) time.Duration {
	return capped(float64(e.Initial)*math.Pow(2, float64(retry-1)), e.Max)
}

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(retry-1), Max)].
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

func (e *ExponentialWithJitter) Delay(retry int) time.Duration {
	base := capped(float64(e.Initial)*math.Pow(2, float64(retry-1)), e.Max)
	return time.Duration(rand.Float64() * float64(base)) //nolint:gosec // jitter does not need crypto rand
}

// Default is the strategy used by the built-in workflows:
// ExponentialWithJitter with 1s initial and 1m max.
func Default() Strategy {
	return NewExponentialWithJitter(time.Second, time.Minute)
}

// DelayFor returns s.Delay(retry), treating a nil strategy as Immediate.
func DelayFor(s Strategy, retry int) time.Duration {
	if s == nil {
		return 0
	}
	if d := s.Delay(retry); d > 0 {
		return d
	}
	return 0
}

func capped(d float64, max time.Duration) time.Duration {
	if max > 0 && d > float64(max) {
		return max
	}
	return time.Duration(d)
}
