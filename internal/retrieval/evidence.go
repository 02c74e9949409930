package retrieval

import "strings"

// evidenceLevels enumerates the 1..8 study-type scale used only for
// display and as a secondary sort key. Level 8 is the strongest
// evidence; unmatched text defaults to level 1 (unclassified).
//
// The ordering follows the conventional evidence-based-medicine
// hierarchy (systematic review of RCTs down to expert opinion). The
// scale is only a secondary sort key, so the exact mapping matters
// less than it being fixed and tested.
var evidenceLevels = []struct {
	level int
	terms []string
}{
	{8, []string{"meta-analysis", "systematic review"}},
	{7, []string{"randomized controlled trial", "randomised controlled trial", "rct"}},
	{6, []string{"controlled clinical trial", "controlled trial"}},
	{5, []string{"cohort study", "prospective study"}},
	{4, []string{"case-control study", "case control study"}},
	{3, []string{"case reports", "case report", "case series", "comparative study", "observational study"}},
	{2, []string{"expert opinion", "editorial", "review"}},
}

// EvidenceLevel derives a 1..8 tag from a document's detected
// study-type strings (e.g. detail["publication_types"]). The highest
// matching level wins; unrecognized designs stay at 1.
func EvidenceLevel(studyTypes []string) int {
	best := 1
	for _, st := range studyTypes {
		norm := strings.ToLower(strings.TrimSpace(st))
		for _, e := range evidenceLevels {
			for _, term := range e.terms {
				if norm == term && e.level > best {
					best = e.level
				}
			}
		}
	}
	return best
}
