package limiter

import (
	bmerrors "github.com/vallancelee/biomcp/internal/errors"
)

// Guarded runs fn through the named dependency's circuit breaker without
// ever touching the tool/global concurrency slots: an open breaker is
// rejected before any slot would be consumed.
func (l *Limiter) Guarded(dependency string, fn func() error) error {
	cb := l.Breaker(dependency)
	if !cb.Allow() {
		return bmerrors.ErrCircuitOpen
	}
	return cb.Execute(fn)
}

// GuardedResult is the value-returning counterpart of Guarded.
func GuardedResult[T any](l *Limiter, dependency string, fn func() (T, error)) (T, error) {
	cb := l.Breaker(dependency)
	var zero T
	return bmerrors.CircuitExecuteWithResult(cb, fn, func() (T, error) { return zero, bmerrors.ErrCircuitOpen })
}
