// Package watermark implements the checkpoint store driving incremental
// sync: a monotonic per-query-key timestamp, read before a
// fetch window and advanced after a sync run completes.
package watermark

import (
	"context"
	"fmt"
	"time"

	"github.com/vallancelee/biomcp/internal/errors"
	"github.com/vallancelee/biomcp/internal/logging"
	"github.com/vallancelee/biomcp/internal/store"
)

// DefaultOverlapDays is the fetch-window overlap applied to the
// watermark's last-seen timestamp, configurable 0..30.
const DefaultOverlapDays = 1

// farPast stands in for "no watermark recorded yet".
var farPast = time.Unix(0, 0).UTC()

// keyPrefix namespaces watermark keys within MetadataStore's generic
// GetState/SetState key-value surface, so checkpoint state never
// collides with any other use of that table.
const keyPrefix = "watermark:"

// Store is the checkpoint surface: get, set, and the monotonic advance
// used at the end of a sync run.
type Store struct {
	state store.MetadataStore
}

// New builds a Store backed by a MetadataStore's generic key-value state.
func New(state store.MetadataStore) *Store {
	return &Store{state: state}
}

// Get returns the last recorded timestamp for queryKey, or farPast if
// none has been set yet.
func (s *Store) Get(ctx context.Context, queryKey string) (time.Time, error) {
	val, err := s.state.GetState(ctx, keyPrefix+queryKey)
	if err != nil {
		if err == store.ErrNotFound {
			return farPast, nil
		}
		return time.Time{}, errors.Wrap(errors.Upstream, fmt.Errorf("get watermark %s: %w", queryKey, err))
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, errors.Wrap(errors.Invariant, fmt.Errorf("parse watermark %s: %w", queryKey, err))
	}
	return t, nil
}

// Set unconditionally overwrites the watermark for queryKey, the path
// used by an explicit admin checkpoint.set call. Unlike Advance it may
// move the watermark backwards, so every Set is recorded in the audit
// log with the invoking trace id as the actor.
func (s *Store) Set(ctx context.Context, queryKey string, ts time.Time) error {
	key := keyPrefix + queryKey

	old, err := s.state.GetState(ctx, key)
	if err != nil && err != store.ErrNotFound {
		return errors.Wrap(errors.Upstream, fmt.Errorf("set watermark %s: read old: %w", queryKey, err))
	}

	val := ts.UTC().Format(time.RFC3339)
	if err := s.state.SetState(ctx, key, val); err != nil {
		return errors.Wrap(errors.Upstream, fmt.Errorf("set watermark %s: %w", queryKey, err))
	}

	actor := logging.TraceID(ctx)
	if actor == "" {
		actor = "unknown"
	}
	if err := s.state.AppendAudit(ctx, store.AuditEntry{
		Key:       key,
		Actor:     actor,
		OldValue:  old,
		NewValue:  val,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return errors.Wrap(errors.Upstream, fmt.Errorf("audit watermark %s: %w", queryKey, err))
	}
	return nil
}

// Audit returns the newest audit entries recorded for queryKey's
// explicit overrides.
func (s *Store) Audit(ctx context.Context, queryKey string, limit int) ([]store.AuditEntry, error) {
	entries, err := s.state.ListAudit(ctx, keyPrefix+queryKey, limit)
	if err != nil {
		return nil, errors.Wrap(errors.Upstream, fmt.Errorf("list watermark audit %s: %w", queryKey, err))
	}
	return entries, nil
}

// Advance moves the watermark forward to candidate, a no-op if
// candidate does not strictly exceed the stored value. The
// compare-and-write happens atomically
// inside MetadataStore.AdvanceState, under a row-level lock,
// so two concurrent Advance calls for the same queryKey can never
// interleave their read and write and regress the stored value. This
// relies on time.RFC3339-formatted UTC timestamps sorting the same way
// lexicographically as they do chronologically.
func (s *Store) Advance(ctx context.Context, queryKey string, candidate time.Time) error {
	_, err := s.state.AdvanceState(ctx, keyPrefix+queryKey, candidate.UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrap(errors.Upstream, fmt.Errorf("advance watermark %s: %w", queryKey, err))
	}
	return nil
}

// Window computes the [since, until] fetch window for the next sync
// pass: the watermark minus overlapDays through now.
func (s *Store) Window(ctx context.Context, queryKey string, overlapDays int, now time.Time) (since, until time.Time, err error) {
	if overlapDays < 0 {
		overlapDays = 0
	}
	if overlapDays > 30 {
		overlapDays = 30
	}
	last, err := s.Get(ctx, queryKey)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return last.AddDate(0, 0, -overlapDays), now, nil
}
