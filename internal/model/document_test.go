package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDocument_Valid_Success(t *testing.T) {
	// Given: a well-formed source, source_id, title and text

	// When: constructing a Document
	d, err := NewDocument("pubmed", "12345678", "A Trial", "Background: text.")

	// Then: it succeeds and the uid/content_hash invariants hold
	require.NoError(t, err)
	assert.Equal(t, "pubmed:12345678", d.UID)
	assert.Equal(t, d.ContentHash(), d.Provenance["content_hash"])
}

func TestNewDocument_BadSource_ReturnsValidationError(t *testing.T) {
	// Given: a source containing uppercase/invalid characters

	// When: constructing a Document
	_, err := NewDocument("PubMed", "1", "t", "text")

	// Then: a BAD_SOURCE validation error is returned
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrBadSource, verr.Code)
}

func TestNewDocument_EmptySourceID_ReturnsValidationError(t *testing.T) {
	// Given: an empty source_id

	// When: constructing a Document
	_, err := NewDocument("pubmed", "  ", "t", "text")

	// Then: a BAD_UID validation error is returned
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrBadUID, verr.Code)
}

func TestNewDocument_EmptyText_ReturnsValidationError(t *testing.T) {
	// Given: whitespace-only text

	// When: constructing a Document
	_, err := NewDocument("pubmed", "1", "t", "   ")

	// Then: an EMPTY_TEXT validation error is returned
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrEmptyText, verr.Code)
}

func TestDocument_ContentHash_IsStableAcrossCalls(t *testing.T) {
	// Given: a constructed Document

	// When: computing content_hash twice
	d, err := NewDocument("pubmed", "1", "Title", "Body text")
	require.NoError(t, err)
	h1 := d.ContentHash()
	h2 := d.ContentHash()

	// Then: both hashes match, and change with the text
	assert.Equal(t, h1, h2)
	d.Text = "Different body"
	assert.NotEqual(t, h1, d.ContentHash())
}

func TestDocument_SearchableText_JoinsTitleAndText(t *testing.T) {
	// Given: a Document with a title and text

	// When: asking for searchable_text
	d, err := NewDocument("pubmed", "1", "My Title", "My text.")
	require.NoError(t, err)

	// Then: it is title + " " + text
	assert.Equal(t, "My Title My text.", d.SearchableText())
}

func TestDocument_SearchableText_NoTitle_FallsBackToText(t *testing.T) {
	// Given: a Document with no title

	// When: asking for searchable_text
	d, err := NewDocument("pubmed", "1", "", "Just text.")
	require.NoError(t, err)

	// Then: it equals text alone
	assert.Equal(t, "Just text.", d.SearchableText())
}

func TestNewDocument_Options_SetFields(t *testing.T) {
	// Given: a published_at, authors, labels, identifiers and license

	now := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	// When: constructing with functional options
	d, err := NewDocument("pubmed", "1", "t", "text",
		WithPublishedAt(now),
		WithAuthors([]string{"Smith J", "Doe A"}),
		WithLabels([]string{"diabetes"}),
		WithIdentifiers(map[string]string{"doi": "10.1/xyz"}),
		WithLicense("CC-BY"),
	)

	// Then: all fields are populated as given
	require.NoError(t, err)
	require.NotNil(t, d.PublishedAt)
	assert.True(t, now.Equal(*d.PublishedAt))
	assert.Equal(t, []string{"Smith J", "Doe A"}, d.Authors)
	assert.Equal(t, []string{"diabetes"}, d.Labels)
	assert.Equal(t, "10.1/xyz", d.Identifiers["doi"])
	assert.Equal(t, "CC-BY", d.License)
}

func TestDocument_Validate_DetectsUIDDrift(t *testing.T) {
	// Given: a Document whose uid has been tampered with after construction

	d, err := NewDocument("pubmed", "1", "t", "text")
	require.NoError(t, err)
	d.UID = "pubmed:2"

	// When: re-validating
	err = d.Validate()

	// Then: a BAD_UID error surfaces
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrBadUID, verr.Code)
}
