package model

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Section is the canonical structural label attached to a Chunk.
type Section string

const (
	SectionBackground   Section = "Background"
	SectionMethods      Section = "Methods"
	SectionResults      Section = "Results"
	SectionConclusions  Section = "Conclusions"
	SectionOther        Section = "Other"
	SectionUnstructured Section = "Unstructured"
)

// SectionPriority orders sections for abstract reconstruction. Lower sorts first.
var SectionPriority = map[Section]int{
	SectionBackground:   0,
	SectionMethods:      1,
	SectionResults:      2,
	SectionConclusions:  3,
	SectionOther:        4,
	SectionUnstructured: 5,
}

var chunkIDRegexp = regexp.MustCompile(`^[sw]\d+$`)

// Chunk is a single embedding unit derived from a Document.
type Chunk struct {
	ChunkID   string
	UUID      uuid.UUID
	ParentUID string
	Source    string

	ChunkIdx int
	Text     string

	Title       string
	Section     Section
	PublishedAt *time.Time

	Tokens     int
	NSentences int

	Meta map[string]any
}

// NewChunk validates the supplied fields and derives the chunk's
// deterministic uuid. parentSource must equal the parent Document's
// source; this is enforced rather than inherited silently so a caller
// building chunks for the wrong document fails loudly.
func NewChunk(parentUID, parentSource, chunkID string, chunkIdx int, text string, section Section) (*Chunk, error) {
	if !chunkIDRegexp.MatchString(chunkID) {
		return nil, &ValidationError{Code: ErrBadUUID, Message: "chunk_id " + chunkID + " must match ^[sw]\\d+$"}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &ValidationError{Code: ErrEmptyText, Message: "chunk text must not be empty"}
	}
	if !strings.HasPrefix(parentUID, parentSource+":") {
		return nil, &ValidationError{Code: ErrBadSource, Message: "chunk source " + parentSource + " does not match parent uid " + parentUID}
	}

	c := &Chunk{
		ChunkID:   chunkID,
		UUID:      ChunkUUID(parentUID, chunkID),
		ParentUID: parentUID,
		Source:    parentSource,
		ChunkIdx:  chunkIdx,
		Text:      text,
		Section:   section,
		Meta:      map[string]any{},
	}
	return c, nil
}

// StripLeadingTitle removes the parent title from the front of the chunk
// text when present (case-insensitive, whitespace-normalized).
func StripLeadingTitle(text, title string) string {
	if title == "" {
		return text
	}
	normText := strings.Join(strings.Fields(text), " ")
	normTitle := strings.Join(strings.Fields(title), " ")
	if normTitle == "" {
		return text
	}
	if len(normText) < len(normTitle) {
		return text
	}
	if !strings.EqualFold(normText[:len(normTitle)], normTitle) {
		return text
	}
	rest := strings.TrimSpace(normText[len(normTitle):])
	return rest
}

// ValidateSequence checks the cross-chunk invariants for one document's
// chunk set: dense, monotonic chunk_idx starting at 0.
func ValidateSequence(chunks []*Chunk) error {
	for i, c := range chunks {
		if c.ChunkIdx != i {
			return &ValidationError{Code: ErrBadUID, Message: "chunk_idx is not dense/monotonic"}
		}
	}
	return nil
}
