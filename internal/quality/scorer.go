// Package quality computes the 0..1 publication-quality scalar used as a
// reranking boost. Scorers are pluggable per source, each
// the only component that knows that source's metadata vocabulary.
package quality

import (
	"strings"
	"time"
)

// Scorer derives a quality score in [0,1] from a Document's detail map.
// Missing features contribute 0; a Scorer never errors.
type Scorer interface {
	Score(detail map[string]any, now time.Time) float64
}

// Source identifies which Scorer implementation to select.
type Source string

const (
	SourcePubmed Source = "pubmed"
)

// NewScorer selects the Scorer for a source. Unknown sources get the
// NullScorer (always 0), matching the "missing features contribute 0"
// rule rather than failing ingestion for a source with no known scorer.
func NewScorer(source Source) Scorer {
	switch source {
	case SourcePubmed:
		return &PubmedScorer{}
	default:
		return NullScorer{}
	}
}

// NullScorer always reports zero quality.
type NullScorer struct{}

func (NullScorer) Score(map[string]any, time.Time) float64 { return 0 }

// clip01 bounds x to [0,1].
func clip01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func detailString(detail map[string]any, key string) string {
	v, ok := detail[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func detailStringSlice(detail map[string]any, key string) []string {
	v, ok := detail[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func containsFold(items []string, needle string) bool {
	for _, it := range items {
		if strings.EqualFold(it, needle) {
			return true
		}
	}
	return false
}
