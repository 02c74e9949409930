package errors

import (
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a circuit breaker with max 3 failures
	cb := NewCircuitBreaker("test",
		WithMaxFailures(3),
		WithResetTimeout(1*time.Second),
	)

	// When: recording 3 failures
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error {
			return stderrors.New("error")
		})
	}

	// Then: circuit is open and subsequent calls are rejected
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(func() error {
		return nil // would succeed if called
	})
	assert.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrCircuitOpen))
}

func TestCircuitBreaker_RecoversAfterTimeout(t *testing.T) {
	// Given: an open circuit breaker with a short reset timeout
	cb := NewCircuitBreaker("test",
		WithMaxFailures(2),
		WithResetTimeout(50*time.Millisecond),
	)

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return stderrors.New("error") })
	}
	require.Equal(t, StateOpen, cb.State())

	// When: waiting past the open timer and allowing one probe to succeed
	time.Sleep(60 * time.Millisecond)

	executed := false
	err := cb.Execute(func() error {
		executed = true
		return nil
	})

	// Then: the probe runs and closes the circuit
	assert.NoError(t, err)
	assert.True(t, executed)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailure_DoublesTimerAndReOpens(t *testing.T) {
	// Given: a circuit in half-open state
	cb := NewCircuitBreaker("test",
		WithMaxFailures(2),
		WithResetTimeout(50*time.Millisecond),
	)

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return stderrors.New("error") })
	}
	time.Sleep(60 * time.Millisecond)

	// When: the probe request fails
	_ = cb.Execute(func() error {
		return stderrors.New("still failing")
	})

	// Then: the circuit reopens with a doubled timer
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, 100*time.Millisecond, cb.openTimeout)
}

func TestCircuitBreaker_ErrorRateThreshold_OpensWithoutHittingCount(t *testing.T) {
	// Given: a breaker where only the error-rate threshold (not the raw
	// count) should trip it: 20 samples at exactly 50% failures
	cb := NewCircuitBreaker("test", WithMaxFailures(100))

	for i := 0; i < 20; i++ {
		err := stderrors.New("error")
		if i%2 == 0 {
			err = nil
		}
		_ = cb.Execute(func() error { return err })
	}

	// Then: the breaker is open despite never reaching the raw count threshold
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_SuccessBelowThreshold_StaysClosed(t *testing.T) {
	// Given: a circuit breaker with some failures, but not tripped
	cb := NewCircuitBreaker("test", WithMaxFailures(5))

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return stderrors.New("error") })
	}

	// When: a success occurs
	err := cb.Execute(func() error { return nil })

	// Then: the breaker stays closed; the prior failures remain visible
	// in the rolling window until they age out
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 3, cb.Failures())
}

func TestCircuitBreaker_HalfOpenSuccess_ClearsWindow(t *testing.T) {
	// Given: a breaker that tripped and recovered through a half-open probe
	cb := NewCircuitBreaker("test", WithMaxFailures(2), WithResetTimeout(50*time.Millisecond))

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return stderrors.New("error") })
	}
	time.Sleep(60 * time.Millisecond)

	// When: the probe succeeds
	err := cb.Execute(func() error { return nil })

	// Then: the breaker is closed with a clean failure window
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitExecuteWithResult_OpenUsesFallback(t *testing.T) {
	// Given: an open circuit breaker
	cb := NewCircuitBreaker("test", WithMaxFailures(1), WithResetTimeout(1*time.Second))
	_ = cb.Execute(func() error { return stderrors.New("error") })

	// When: executing with a fallback
	fallbackCalled := false
	result, err := CircuitExecuteWithResult(cb,
		func() (string, error) { return "primary", nil },
		func() (string, error) {
			fallbackCalled = true
			return "fallback", nil
		},
	)

	// Then: the fallback runs instead of the primary
	assert.NoError(t, err)
	assert.True(t, fallbackCalled)
	assert.Equal(t, "fallback", result)
}

func TestCircuitBreaker_Concurrent(t *testing.T) {
	// Given: a circuit breaker under concurrent load
	cb := NewCircuitBreaker("test", WithMaxFailures(10), WithResetTimeout(1*time.Second))

	var wg sync.WaitGroup
	var successCount atomic.Int32
	var failCount atomic.Int32

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := cb.Execute(func() error {
				if i%2 == 0 {
					return nil
				}
				return stderrors.New("error")
			})
			if err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	// Then: every call completes without panicking or deadlocking
	assert.Equal(t, int32(20), successCount.Load()+failCount.Load())
}

func TestCircuitBreaker_Allow_WhenClosed(t *testing.T) {
	cb := NewCircuitBreaker("test")
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_Allow_WhenOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMaxFailures(1), WithResetTimeout(1*time.Second))
	_ = cb.Execute(func() error { return stderrors.New("error") })

	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_RecordFailure_TripsAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMaxFailures(3))

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, 2, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestNewCircuitBreaker_DefaultValues(t *testing.T) {
	cb := NewCircuitBreaker("test-circuit")

	assert.Equal(t, "test-circuit", cb.Name())
	assert.Equal(t, defaultErrorThreshold, cb.errorThreshold)
	assert.Equal(t, defaultWindowDuration, cb.windowDuration)
	assert.Equal(t, defaultBaseOpenTimeout, cb.baseTimeout)
	assert.Equal(t, defaultMaxOpenTimeout, cb.maxTimeout)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Name(t *testing.T) {
	cb := NewCircuitBreaker("my-service")
	assert.Equal(t, "my-service", cb.Name())
}

func TestErrCircuitOpen_Error(t *testing.T) {
	assert.Equal(t, "[BREAKER_OPEN] circuit breaker is open", ErrCircuitOpen.Error())
}
