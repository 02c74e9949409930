package chunker

import (
	"math"
	"strings"
)

// estimateTokens approximates token count as ceil(words / 0.75).
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) / 0.75))
}
