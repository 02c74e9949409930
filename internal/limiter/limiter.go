// Package limiter implements the concurrency back-pressure layer in front
// of the tool invoker: a global cap, a per-tool cap, and a registry of
// circuit breakers keyed by external dependency.
package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	bmerrors "github.com/vallancelee/biomcp/internal/errors"
)

// Config configures a Limiter's caps.
type Config struct {
	Global  int
	PerTool map[string]int
}

// DefaultConfig returns the default caps.
func DefaultConfig() Config {
	return Config{
		Global: 200,
		PerTool: map[string]int{
			"search": 50,
			"sync":   8,
		},
	}
}

// Limiter enforces global and per-tool concurrency caps with non-blocking
// acquisition, and owns the circuit breakers guarding external
// dependencies.
type Limiter struct {
	global  *semaphore.Weighted
	perTool map[string]*semaphore.Weighted

	mu       sync.Mutex
	breakers map[string]*bmerrors.CircuitBreaker

	latency *latencyTracker
}

// New builds a Limiter from cfg. Tools with no configured per-tool cap
// fall back to the global cap alone.
func New(cfg Config) *Limiter {
	l := &Limiter{
		global:   semaphore.NewWeighted(int64(cfg.Global)),
		perTool:  make(map[string]*semaphore.Weighted, len(cfg.PerTool)),
		breakers: make(map[string]*bmerrors.CircuitBreaker),
		latency:  newLatencyTracker(),
	}
	for tool, n := range cfg.PerTool {
		l.perTool[tool] = semaphore.NewWeighted(int64(n))
	}
	return l
}

// Lease represents an acquired pair of slots (global + per-tool, if any)
// that must be released exactly once.
type Lease struct {
	l        *Limiter
	tool     *semaphore.Weighted
	start    time.Time
	toolName string
}

// Acquire attempts a non-blocking acquire of both the global slot and,
// if the tool has a configured cap, the per-tool slot. It returns
// RATE_LIMIT immediately (the acquire never blocks) when either is
// saturated, with a Retry-After estimate derived from observed median
// latency for that tool.
func (l *Limiter) Acquire(ctx context.Context, toolName string) (*Lease, error) {
	tool := l.perTool[toolName]

	if tool != nil && !tool.TryAcquire(1) {
		return nil, l.rateLimitErr(toolName)
	}
	if !l.global.TryAcquire(1) {
		if tool != nil {
			tool.Release(1)
		}
		return nil, l.rateLimitErr(toolName)
	}
	return &Lease{l: l, tool: tool, start: time.Now(), toolName: toolName}, nil
}

func (l *Limiter) rateLimitErr(toolName string) error {
	retryAfter := l.latency.retryAfter(toolName)
	return bmerrors.Newf(bmerrors.RateLimit, "no capacity available for tool %q", toolName).
		WithDetail("retry_after", retryAfter.String())
}

// Release frees the lease's slots and records the call's latency for
// future Retry-After estimates.
func (lease *Lease) Release() {
	lease.l.latency.observe(lease.toolName, time.Since(lease.start))
	lease.l.global.Release(1)
	if lease.tool != nil {
		lease.tool.Release(1)
	}
}

// Breaker returns (creating if necessary) the circuit breaker for the
// named external dependency.
func (l *Limiter) Breaker(name string) *bmerrors.CircuitBreaker {
	l.mu.Lock()
	defer l.mu.Unlock()
	cb, ok := l.breakers[name]
	if !ok {
		cb = bmerrors.NewCircuitBreaker(name)
		l.breakers[name] = cb
	}
	return cb
}
