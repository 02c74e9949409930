// Package source defines the boundary contract between an external
// upstream (PubMed, a clinical trial registry, anything with its own
// record shape and update cadence) and the ingestion pipeline in
// internal/pipeline. A Normalizer is the only thing in the system that
// understands a given source's raw record layout.
package source

import (
	"context"
	"time"
)

// RawRecord is an opaque blob plus the two fields the pipeline needs
// before handing it to a Normalizer: where it came from and whether
// its content has changed since last seen.
type RawRecord struct {
	Source      string
	SourceID    string
	Blob        []byte
	ContentHash string
	EDAT        time.Time
}

// NormalizedFields is the Document-shaped mapping a Normalizer produces
// from a RawRecord. Title/Text/Detail feed
// model.NewDocument and its options directly.
type NormalizedFields struct {
	Title       string
	Text        string
	PublishedAt *time.Time
	Language    string
	Authors     []string
	Labels      []string
	Identifiers map[string]string
	Detail      map[string]any
	License     string
}

// Normalizer turns one source's raw record shape into NormalizedFields.
// Implementations never validate Document invariants themselves;
// model.NewDocument owns that.
type Normalizer interface {
	Normalize(ctx context.Context, rec RawRecord) (NormalizedFields, error)
}

// Fetcher lists a source's records whose EDAT falls in [since, until],
// the collaborator the watermark-driven sync loop polls.
type Fetcher interface {
	Fetch(ctx context.Context, since, until time.Time) ([]RawRecord, error)
}
