package retrieval

import "strings"

// defaultClinicalTerms is the seed clinical-term dictionary used by the
// clinical-relevance boost. Operators can override
// it via Engine.SetClinicalTerms for a deployment with its own
// controlled vocabulary.
var defaultClinicalTerms = []string{
	"randomized controlled trial", "clinical trial", "double-blind",
	"placebo", "cohort", "biomarker", "diagnosis", "treatment", "therapy",
	"adverse event", "dosage", "efficacy", "safety", "mortality",
	"morbidity", "prognosis", "comorbidity", "patient", "clinical",
	"intervention", "outcome",
}

// countClinicalTerms counts (case-insensitive, non-overlapping) matches
// of terms against text.
func countClinicalTerms(text string, terms []string) int {
	lower := strings.ToLower(text)
	count := 0
	for _, term := range terms {
		count += strings.Count(lower, strings.ToLower(term))
	}
	return count
}

// queryMentionsClinicalTerm reports whether query contains any term
// from terms, used to 1.5x the clinical boost.
func queryMentionsClinicalTerm(query string, terms []string) bool {
	return countClinicalTerms(query, terms) > 0
}
