package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bmerrors "github.com/vallancelee/biomcp/internal/errors"
)

func TestAcquire_WithinCaps_Succeeds(t *testing.T) {
	// Given: a limiter with room for 2 concurrent search calls
	l := New(Config{Global: 10, PerTool: map[string]int{"search": 2}})

	// When: acquiring a lease for search
	lease, err := l.Acquire(context.Background(), "search")

	// Then: it succeeds and can be released
	require.NoError(t, err)
	require.NotNil(t, lease)
	lease.Release()
}

func TestAcquire_PerToolCapExhausted_ReturnsRateLimit(t *testing.T) {
	// Given: a limiter with a per-tool cap of 1 for search
	l := New(Config{Global: 10, PerTool: map[string]int{"search": 1}})
	lease, err := l.Acquire(context.Background(), "search")
	require.NoError(t, err)

	// When: a second concurrent search is attempted
	_, err2 := l.Acquire(context.Background(), "search")

	// Then: it is rejected as RATE_LIMIT without blocking
	require.Error(t, err2)
	assert.Equal(t, bmerrors.RateLimit, bmerrors.CodeOf(err2))

	lease.Release()
}

func TestAcquire_GlobalCapExhausted_ReleasesPerToolSlot(t *testing.T) {
	// Given: a limiter whose global cap is tighter than its per-tool cap
	l := New(Config{Global: 1, PerTool: map[string]int{"search": 5}})
	lease, err := l.Acquire(context.Background(), "search")
	require.NoError(t, err)

	// When: a second acquire exhausts the global cap
	_, err2 := l.Acquire(context.Background(), "search")
	require.Error(t, err2)
	assert.Equal(t, bmerrors.RateLimit, bmerrors.CodeOf(err2))

	lease.Release()

	// Then: the per-tool slot was given back, so a subsequent acquire of
	// the same tool succeeds once the global slot frees up
	lease2, err3 := l.Acquire(context.Background(), "search")
	require.NoError(t, err3)
	lease2.Release()
}

func TestAcquire_UnconfiguredTool_OnlyUsesGlobalCap(t *testing.T) {
	// Given: a limiter with no per-tool cap for "ping"
	l := New(Config{Global: 1})

	// When: acquiring twice for an uncapped tool
	lease, err := l.Acquire(context.Background(), "ping")
	require.NoError(t, err)

	_, err2 := l.Acquire(context.Background(), "ping")

	// Then: the global cap alone governs admission
	assert.Error(t, err2)
	lease.Release()
}

func TestAcquire_BurstOfTen_AtLeastEightRejected(t *testing.T) {
	// Given: limiter.per_tool.search=2
	l := New(Config{Global: 200, PerTool: map[string]int{"search": 2}})

	var wg sync.WaitGroup
	var mu sync.Mutex
	rejected := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := l.Acquire(context.Background(), "search")
			if err != nil {
				mu.Lock()
				rejected++
				mu.Unlock()
				return
			}
			time.Sleep(5 * time.Millisecond)
			lease.Release()
		}()
	}
	wg.Wait()

	// Then: at least 8 of the 10 concurrent calls are turned away
	assert.GreaterOrEqual(t, rejected, 8)
}

func TestGuarded_OpenBreaker_RejectsWithoutCallingFn(t *testing.T) {
	// Given: a limiter whose "vectorstore" breaker has tripped open
	l := New(DefaultConfig())
	cb := l.Breaker("vectorstore")
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, bmerrors.StateOpen, cb.State())

	// When: running a call through the guard
	called := false
	err := l.Guarded("vectorstore", func() error {
		called = true
		return nil
	})

	// Then: fn never runs and BREAKER_OPEN is returned
	assert.False(t, called)
	assert.ErrorIs(t, err, bmerrors.ErrCircuitOpen)
}

func TestGuarded_ClosedBreaker_RunsFn(t *testing.T) {
	l := New(DefaultConfig())

	called := false
	err := l.Guarded("db", func() error {
		called = true
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, called)
}

func TestGuardedResult_ReturnsFnValueWhenClosed(t *testing.T) {
	l := New(DefaultConfig())

	result, err := GuardedResult(l, "db", func() (int, error) { return 42, nil })

	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestBreaker_SameNameReturnsSameInstance(t *testing.T) {
	l := New(DefaultConfig())

	a := l.Breaker("pubmed")
	b := l.Breaker("pubmed")

	assert.Same(t, a, b)
}

func TestDefaultConfig_MatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 200, cfg.Global)
	assert.Equal(t, 50, cfg.PerTool["search"])
	assert.Equal(t, 8, cfg.PerTool["sync"])
}
