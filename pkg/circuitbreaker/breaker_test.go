package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(timeout time.Duration) *CircuitBreaker {
	return NewCircuitBreaker("test", Config{
		MaxRequests:      1,
		Timeout:          timeout,
		FailureThreshold: 3,
		SuccessThreshold: 1,
	})
}

func fail(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func() error {
		return errors.New("boom")
	})
}

func succeed(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func() error {
		return nil
	})
}

func TestOpensAfterThreshold(t *testing.T) {
	cb := testBreaker(time.Minute)

	for i := 0; i < 3; i++ {
		assert.Error(t, fail(cb))
	}
	assert.Equal(t, StateOpen, cb.State())

	err := succeed(cb)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestRecoversThroughHalfOpen(t *testing.T) {
	cb := testBreaker(10 * time.Millisecond)

	for i := 0; i < 3; i++ {
		fail(cb)
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, succeed(cb))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := testBreaker(10 * time.Millisecond)

	for i := 0; i < 3; i++ {
		fail(cb)
	}
	time.Sleep(20 * time.Millisecond)

	fail(cb)
	assert.Equal(t, StateOpen, cb.State())
}

func TestClosedResetsOnSuccess(t *testing.T) {
	cb := testBreaker(time.Minute)

	fail(cb)
	fail(cb)
	require.NoError(t, succeed(cb))

	// The consecutive-failure streak restarts after a success.
	fail(cb)
	fail(cb)
	assert.Equal(t, StateClosed, cb.State())
}
