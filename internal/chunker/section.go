package chunker

import (
	"regexp"
	"strings"

	"github.com/vallancelee/biomcp/internal/model"
)

// labelPattern matches inline section labels as they appear in
// biomedical abstracts ("Background: ...", "RESULTS: ..."), not markdown
// headers; PubMed abstracts are typically one continuous block of text
// with inline labels rather than line-based headers.
var labelPattern = regexp.MustCompile(`(?i)\b(background|objective|objectives|aim|aims|methods|methodology|results|findings|conclusions|conclusion|discussion|introduction)\s*:`)

// canonicalSection maps a detected label (case folded) to the canonical
// section set.
func canonicalSection(label string) model.Section {
	switch strings.ToLower(label) {
	case "background", "introduction", "objective", "objectives", "aim", "aims":
		return model.SectionBackground
	case "methods", "methodology":
		return model.SectionMethods
	case "results", "findings":
		return model.SectionResults
	case "conclusions", "conclusion", "discussion":
		return model.SectionConclusions
	default:
		return model.SectionOther
	}
}

// rawSection is one inline-labelled span of text before sentence
// splitting.
type rawSection struct {
	label   model.Section
	content string
}

// detectSections splits text into labelled spans. If no label is found
// at all, it returns a single Unstructured span covering the whole text
//.
func detectSections(text string) []rawSection {
	matches := labelPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return []rawSection{{label: model.SectionUnstructured, content: text}}
	}

	var sections []rawSection

	// Any text before the first label is preamble; biomedical abstracts
	// rarely have this, but when present it carries no label of its own.
	if lead := strings.TrimSpace(text[:matches[0][0]]); lead != "" {
		sections = append(sections, rawSection{label: model.SectionOther, content: lead})
	}

	for i, m := range matches {
		labelStart, labelEnd := m[2], m[3]
		label := canonicalSection(text[labelStart:labelEnd])

		contentStart := m[1] // end of the full match, i.e. past the colon
		var contentEnd int
		if i+1 < len(matches) {
			contentEnd = matches[i+1][0]
		} else {
			contentEnd = len(text)
		}

		content := strings.TrimSpace(text[contentStart:contentEnd])
		if content == "" {
			continue
		}
		sections = append(sections, rawSection{label: label, content: content})
	}

	if len(sections) == 0 {
		return []rawSection{{label: model.SectionUnstructured, content: text}}
	}
	return sections
}
