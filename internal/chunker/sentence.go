package chunker

import (
	"regexp"
	"strings"
)

// abbreviations are common biomedical/academic abbreviations whose
// trailing period must not be treated as a sentence boundary.
var abbreviations = map[string]struct{}{
	"et al.": {}, "e.g.": {}, "i.e.": {}, "vs.": {}, "cf.": {},
	"fig.": {}, "figs.": {}, "no.": {}, "approx.": {}, "dr.": {},
	"mr.": {}, "mrs.": {}, "ms.": {}, "prof.": {}, "vol.": {},
	"ref.": {}, "eq.": {}, "eqs.": {}, "sp.": {}, "spp.": {},
}

// terminatorPattern finds candidate sentence-ending punctuation runs.
var terminatorPattern = regexp.MustCompile(`[.!?]+(\s+|$)`)

// splitSentences splits text into sentences on ., !, ? while respecting
// the abbreviation list above: a terminator is only a boundary if the
// word it closes (lowercased, with the terminator) is not a known
// abbreviation.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	start := 0
	locs := terminatorPattern.FindAllStringIndex(text, -1)

	for _, loc := range locs {
		end := loc[1]
		candidate := text[start:end]

		if isAbbreviationBoundary(text[start:loc[0]], text[loc[0]:end]) {
			continue
		}

		trimmed := strings.TrimSpace(candidate)
		if trimmed != "" {
			sentences = append(sentences, trimmed)
		}
		start = end
	}

	if start < len(text) {
		if rest := strings.TrimSpace(text[start:]); rest != "" {
			sentences = append(sentences, rest)
		}
	}

	return sentences
}

// isAbbreviationBoundary reports whether the word ending right before a
// candidate terminator is a known abbreviation, in which case the
// terminator does not end a sentence.
func isAbbreviationBoundary(before, terminator string) bool {
	fields := strings.Fields(before)
	if len(fields) == 0 {
		return false
	}
	lastWord := strings.ToLower(strings.TrimLeft(fields[len(fields)-1], "([{\"'"))
	punct := strings.TrimSpace(terminator)

	candidate := lastWord + punct
	if _, ok := abbreviations[candidate]; ok {
		return true
	}
	// "et al." spans two words; check the last two as well.
	if len(fields) >= 2 {
		twoWord := strings.ToLower(fields[len(fields)-2]) + " " + lastWord + punct
		if _, ok := abbreviations[twoWord]; ok {
			return true
		}
	}
	return false
}
