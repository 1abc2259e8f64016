package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponential_DoublesAndCaps(t *testing.T) {
	s := NewExponential(100*time.Millisecond, time.Second)

	assert.Equal(t, 100*time.Millisecond, s.Delay(1))
	assert.Equal(t, 200*time.Millisecond, s.Delay(2))
	assert.Equal(t, 400*time.Millisecond, s.Delay(3))
	assert.Equal(t, time.Second, s.Delay(10))
}

func TestExponentialWithJitter_StaysWithinBound(t *testing.T) {
	s := NewExponentialWithJitter(10*time.Millisecond, 50*time.Millisecond)

	for retry := 1; retry <= 8; retry++ {
		d := s.Delay(retry)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 50*time.Millisecond)
	}
}

func TestDelayFor_NilAndNegative(t *testing.T) {
	assert.Equal(t, time.Duration(0), DelayFor(nil, 1))
	assert.Equal(t, time.Duration(0), DelayFor(Func(func(int) time.Duration { return -time.Second }), 1))
	assert.Equal(t, 5*time.Millisecond, DelayFor(NewConstant(5*time.Millisecond), 3))
	assert.Equal(t, time.Duration(0), DelayFor(Immediate, 2))
}
