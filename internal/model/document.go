// Package model defines the canonical Document and Chunk records shared by
// every other package in biomcp. It owns the invariants described in the
// data model: uid/uuid construction, content hashing, and field validation.
// This package performs no I/O.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SchemaVersion is the current Document schema version. New documents
// default to this value; a stored document keeps whatever version it was
// written with until it is re-ingested.
const SchemaVersion = 1

var sourceRegexp = regexp.MustCompile(`^[a-z0-9]+$`)

// Document is the canonical, source-agnostic record for a single item
// (a PubMed abstract, a ClinicalTrials.gov record, ...).
type Document struct {
	UID         string
	Source      string
	SourceID    string
	Title       string
	Text        string
	PublishedAt *time.Time
	FetchedAt   *time.Time
	Language    string

	Authors []string
	Labels  []string

	Identifiers map[string]string
	Provenance  map[string]any
	Detail      map[string]any

	License       string
	SchemaVersion int

	// Version starts at 1 in NewDocument; the store layer's
	// UpsertDocument bumps it every time the row is actually rewritten.
	Version int
}

// NewDocument validates fields and constructs a Document, computing uid
// and content_hash. Callers supply everything else already normalized by
// a source-specific Normalizer (internal/source).
func NewDocument(source, sourceID, title, text string, opts ...DocumentOption) (*Document, error) {
	source = strings.TrimSpace(source)
	sourceID = strings.TrimSpace(sourceID)

	if !sourceRegexp.MatchString(source) {
		return nil, &ValidationError{Code: ErrBadSource, Message: fmt.Sprintf("source %q must match [a-z0-9]+", source)}
	}
	if sourceID == "" {
		return nil, &ValidationError{Code: ErrBadUID, Message: "source_id must not be empty"}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &ValidationError{Code: ErrEmptyText, Message: "text must not be empty"}
	}

	d := &Document{
		UID:           source + ":" + sourceID,
		Source:        source,
		SourceID:      sourceID,
		Title:         title,
		Text:          text,
		SchemaVersion: SchemaVersion,
		Identifiers:   map[string]string{},
		Provenance:    map[string]any{},
		Detail:        map[string]any{},
		Version:       1,
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	d.Provenance["content_hash"] = d.ContentHash()
	return d, nil
}

// DocumentOption mutates an in-construction Document.
type DocumentOption func(*Document)

// WithPublishedAt sets the publication instant.
func WithPublishedAt(t time.Time) DocumentOption {
	return func(d *Document) { d.PublishedAt = &t }
}

// WithFetchedAt sets the fetch instant.
func WithFetchedAt(t time.Time) DocumentOption {
	return func(d *Document) { d.FetchedAt = &t }
}

// WithLanguage sets a BCP-47-like language code.
func WithLanguage(lang string) DocumentOption {
	return func(d *Document) { d.Language = lang }
}

// WithAuthors sets the ordered author list.
func WithAuthors(authors []string) DocumentOption {
	return func(d *Document) { d.Authors = authors }
}

// WithLabels sets the unordered label set.
func WithLabels(labels []string) DocumentOption {
	return func(d *Document) { d.Labels = labels }
}

// WithIdentifiers sets the identifiers map (DOI, PMCID, ...).
func WithIdentifiers(ids map[string]string) DocumentOption {
	return func(d *Document) { d.Identifiers = ids }
}

// WithDetail sets source-specific extras (journal, MeSH terms, ...).
func WithDetail(detail map[string]any) DocumentOption {
	return func(d *Document) { d.Detail = detail }
}

// WithLicense sets the license string.
func WithLicense(license string) DocumentOption {
	return func(d *Document) { d.License = license }
}

// Validate re-checks the construction invariants. It is also run on
// documents rehydrated from storage, where field-level helpers may have
// been bypassed.
func (d *Document) Validate() error {
	wantUID := d.Source + ":" + d.SourceID
	if d.UID != wantUID {
		return &ValidationError{Code: ErrBadUID, Message: fmt.Sprintf("uid %q does not match source:source_id %q", d.UID, wantUID)}
	}
	if !sourceRegexp.MatchString(d.Source) {
		return &ValidationError{Code: ErrBadSource, Message: fmt.Sprintf("source %q must match [a-z0-9]+", d.Source)}
	}
	if strings.TrimSpace(d.Text) == "" {
		return &ValidationError{Code: ErrEmptyText, Message: "text must not be empty"}
	}
	return nil
}

// ContentHash returns sha256(title || " " || text), hex-encoded. It is the
// stability anchor for idempotent re-ingestion.
func (d *Document) ContentHash() string {
	sum := sha256.Sum256([]byte(d.Title + " " + d.Text))
	return hex.EncodeToString(sum[:])
}

// SearchableText returns title + " " + text, the query text the
// retrieval engine uses to find documents similar to this one. The
// chunker reads Text, not this.
func (d *Document) SearchableText() string {
	if d.Title == "" {
		return d.Text
	}
	return d.Title + " " + d.Text
}
