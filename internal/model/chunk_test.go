package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChunk_Valid_Success(t *testing.T) {
	// Given: a valid parent uid, chunk id, and text

	// When: constructing a chunk
	c, err := NewChunk("pubmed:1", "pubmed", "s0", 0, "Background: text.", SectionBackground)

	// Then: it succeeds and the uuid is deterministic
	require.NoError(t, err)
	assert.Equal(t, ChunkUUID("pubmed:1", "s0"), c.UUID)
	assert.Equal(t, 0, c.ChunkIdx)
}

func TestNewChunk_BadChunkID_ReturnsValidationError(t *testing.T) {
	// Given: a chunk id not matching ^[sw]\d+$

	// When: constructing a chunk
	_, err := NewChunk("pubmed:1", "pubmed", "section-0", 0, "text", SectionOther)

	// Then: a BAD_UUID validation error is returned
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrBadUUID, verr.Code)
}

func TestNewChunk_EmptyText_ReturnsValidationError(t *testing.T) {
	// Given: empty chunk text

	// When: constructing a chunk
	_, err := NewChunk("pubmed:1", "pubmed", "w0", 0, "   ", SectionUnstructured)

	// Then: an EMPTY_TEXT validation error is returned
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrEmptyText, verr.Code)
}

func TestChunkUUID_IsPureFunctionOfParentAndChunkID(t *testing.T) {
	// Given: the same (parent_uid, chunk_id) pair

	// When: deriving the uuid twice, and with a different chunk_id
	a := ChunkUUID("pubmed:1", "s0")
	b := ChunkUUID("pubmed:1", "s0")
	c := ChunkUUID("pubmed:1", "s1")
	d := ChunkUUID("pubmed:2", "s0")

	// Then: identical inputs produce identical uuids, and any change to
	// either component produces a different uuid
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}

func TestStripLeadingTitle_RemovesCaseInsensitivePrefix(t *testing.T) {
	// Given: chunk text that begins with the parent title in a different case

	// When: stripping the leading title
	got := StripLeadingTitle("EFFICACY OF DRUG X. Background: details follow.", "Efficacy of Drug X.")

	// Then: the title prefix is removed and whitespace is trimmed
	assert.Equal(t, "Background: details follow.", got)
}

func TestStripLeadingTitle_NoMatch_ReturnsUnchanged(t *testing.T) {
	// Given: chunk text that does not start with the title

	// When: stripping the leading title
	got := StripLeadingTitle("Methods: we did X.", "Efficacy of Drug X.")

	// Then: the text is returned unchanged
	assert.Equal(t, "Methods: we did X.", got)
}

func TestValidateSequence_DenseMonotonic_Success(t *testing.T) {
	// Given: chunks with chunk_idx 0, 1, 2

	chunks := []*Chunk{{ChunkIdx: 0}, {ChunkIdx: 1}, {ChunkIdx: 2}}

	// When: validating the sequence

	// Then: no error is returned
	assert.NoError(t, ValidateSequence(chunks))
}

func TestValidateSequence_Gap_ReturnsError(t *testing.T) {
	// Given: chunks with a gap in chunk_idx

	chunks := []*Chunk{{ChunkIdx: 0}, {ChunkIdx: 2}}

	// When: validating the sequence

	// Then: a validation error is returned
	err := ValidateSequence(chunks)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}
