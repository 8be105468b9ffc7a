package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	// Given a breaker that trips after 3 failures
	cb := NewCircuitBreaker("embedder", WithMaxFailures(3), WithResetTimeout(time.Minute))

	failing := func() error { return fmt.Errorf("connection refused") }

	// When failing three times
	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Execute(failing))
	}

	// Then the circuit is open and calls fail fast
	assert.Equal(t, StateOpen, cb.State())
	err := cb.Execute(func() error {
		t.Fatal("open circuit must not call through")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("embedder", WithMaxFailures(3))

	require.Error(t, cb.Execute(func() error { return fmt.Errorf("x") }))
	require.Error(t, cb.Execute(func() error { return fmt.Errorf("x") }))
	require.NoError(t, cb.Execute(func() error { return nil }))

	assert.Equal(t, 0, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitHalfOpenProbe(t *testing.T) {
	// Given an open breaker whose cooldown has elapsed
	cb := NewCircuitBreaker("embedder", WithMaxFailures(1), WithResetTimeout(10*time.Millisecond))
	require.Error(t, cb.Execute(func() error { return fmt.Errorf("down") }))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	// When the probe fails, the circuit reopens
	require.Error(t, cb.Execute(func() error { return fmt.Errorf("still down") }))
	assert.Equal(t, StateOpen, cb.State())

	// When the next probe succeeds, the circuit closes
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitCallReturnsValue(t *testing.T) {
	cb := NewCircuitBreaker("summarizer")

	got, err := CircuitCall(cb, func() (string, error) {
		return "summary text", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "summary text", got)
}

func TestCircuitCallFailsFastWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker("summarizer", WithMaxFailures(1), WithResetTimeout(time.Minute))
	_, err := CircuitCall(cb, func() (string, error) { return "", fmt.Errorf("boom") })
	require.Error(t, err)

	called := false
	_, err = CircuitCall(cb, func() (string, error) {
		called = true
		return "x", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}
