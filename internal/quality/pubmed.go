package quality

import (
	"strings"
	"time"
)

// studyDesignWeights assigns a base weight to recognized publication
// types, matched case-insensitively against detail["publication_types"].
var studyDesignWeights = map[string]float64{
	"meta-analysis":             0.35,
	"systematic review":         0.32,
	"randomized controlled trial": 0.35,
	"clinical trial":            0.25,
	"controlled clinical trial": 0.20,
	"comparative study":         0.10,
	"observational study":       0.08,
	"case reports":              0.03,
}

const (
	recencyWeight      = 0.20
	recencyWindowYears = 10.0
	humanStudyWeight   = 0.15
)

// PubmedScorer implements the PubMed-specific weighted feature sum:
// study-design weight, recency decay, and a human-studies
// indicator, clipped to [0,1].
type PubmedScorer struct{}

// Score expects detail["publication_types"] ([]string), detail["mesh_terms"]
// ([]string), and detail["year"] (int); any of these may be absent.
func (PubmedScorer) Score(detail map[string]any, now time.Time) float64 {
	var total float64

	total += studyDesignScore(detailStringSlice(detail, "publication_types"))
	total += recencyScore(detailYear(detail), now)
	if containsFold(detailStringSlice(detail, "mesh_terms"), "humans") {
		total += humanStudyWeight
	}

	return clip01(total)
}

func studyDesignScore(pubTypes []string) float64 {
	var best float64
	for _, pt := range pubTypes {
		if w, ok := studyDesignWeights[normalizePubType(pt)]; ok && w > best {
			best = w
		}
	}
	return best
}

func normalizePubType(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func recencyScore(year int, now time.Time) float64 {
	if year <= 0 {
		return 0
	}
	age := float64(now.Year() - year)
	if age < 0 {
		age = 0
	}
	decay := 1 - age/recencyWindowYears
	if decay < 0 {
		decay = 0
	}
	return decay * recencyWeight
}

func detailYear(detail map[string]any) int {
	v, ok := detail["year"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
