package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSentences_SimpleText(t *testing.T) {
	// Given: three plain sentences

	// When: splitting
	got := splitSentences("First sentence. Second sentence! Third one?")

	// Then: each is returned separately
	assert.Equal(t, []string{"First sentence.", "Second sentence!", "Third one?"}, got)
}

func TestSplitSentences_RespectsAbbreviations(t *testing.T) {
	// Given: text containing "et al.", "e.g." and "i.e." mid-sentence

	// When: splitting
	got := splitSentences("Smith et al. reported improvement. This included factors (e.g. diet, i.e. caloric intake) over time.")

	// Then: the abbreviation periods do not create extra sentence breaks
	assert.Len(t, got, 2)
	assert.Contains(t, got[0], "Smith et al. reported improvement.")
}

func TestSplitSentences_EmptyText_ReturnsNil(t *testing.T) {
	// Given: whitespace-only text

	// When: splitting

	// Then: no sentences are returned
	assert.Nil(t, splitSentences("   "))
}
