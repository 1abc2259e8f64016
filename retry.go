package ticketflow

import (
	"time"

	"github.com/petrijr/ticketflow/pkg/backoff"
)

// RetryBuilder provides a fluent way to construct a retry budget and
// backoff for use with FlowBuilder.Retry.
type RetryBuilder struct {
	retries  int
	strategy backoff.Strategy
}

// Retry creates a RetryBuilder permitting n re-attempts after the first
// one. n <= 0 disables retries. The default backoff is backoff.Default().
func Retry(n int) RetryBuilder {
	if n < 0 {
		n = 0
	}
	return RetryBuilder{retries: n, strategy: backoff.Default()}
}

// WithExponentialBackoff doubles the delay from initial on each retry.
// max caps the delay; if <= 0, there is no cap.
//
// Example:
//
//	Retry(3).WithExponentialBackoff(100*time.Millisecond, 2*time.Second)
func (r RetryBuilder) WithExponentialBackoff(initial, max time.Duration) RetryBuilder {
	r.strategy = backoff.NewExponential(initial, max)
	return r
}

// WithJitter is like WithExponentialBackoff but draws each delay uniformly
// from [0, computed delay).
func (r RetryBuilder) WithJitter(initial, max time.Duration) RetryBuilder {
	r.strategy = backoff.NewExponentialWithJitter(initial, max)
	return r
}

// WithConstantBackoff waits delay before every retry.
func (r RetryBuilder) WithConstantBackoff(delay time.Duration) RetryBuilder {
	r.strategy = backoff.NewConstant(delay)
	return r
}

// Immediate disables any sleep between retries.
// Retries will still respect the budget.
func (r RetryBuilder) Immediate() RetryBuilder {
	r.strategy = nil
	return r
}

// Retries returns the retry budget.
func (r RetryBuilder) Retries() int { return r.retries }

// Strategy returns the configured backoff; nil means immediate.
func (r RetryBuilder) Strategy() backoff.Strategy { return r.strategy }
