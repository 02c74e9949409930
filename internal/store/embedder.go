package store

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"sync"
)

// EmbedderDimensions is the dimensionality of HashEmbedder's output. It
// is a stand-in for a real text-embedding model: deterministic, fast,
// and dependency-free, with reduced semantic quality compared to a
// learned embedding.
const EmbedderDimensions = 256

// Embedder turns chunk text into a fixed-width vector. VectorStore
// implementations hold raw float32 vectors; Embedder is how the
// ingestion pipeline and retrieval engine produce them.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// HashEmbedder generates a deterministic hash-based embedding: term
// tokens and character trigrams are hashed into a fixed-width vector,
// then the result is L2-normalized. It requires no network access and
// no model download, at the cost of genuine semantic similarity.
type HashEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

// NewHashEmbedder builds a HashEmbedder.
func NewHashEmbedder() *HashEmbedder { return &HashEmbedder{} }

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, errClosed
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, EmbedderDimensions), nil
	}
	return normalizeVector(e.generateVector(trimmed)), nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	results := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		results[i] = v
	}
	return results, nil
}

func (e *HashEmbedder) Dimensions() int { return EmbedderDimensions }

func (e *HashEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *HashEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, EmbedderDimensions)

	for _, tok := range filterStopWords(tokenize(text)) {
		vector[hashToIndex(tok, EmbedderDimensions)] += tokenWeight
	}
	for _, tri := range extractTrigrams(normalizeForNgrams(text)) {
		vector[hashToIndex(tri, EmbedderDimensions)] += ngramWeight
	}
	return vector
}

func tokenize(text string) []string {
	words := tokenPattern.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		tokens = append(tokens, strings.ToLower(w))
	}
	return tokens
}

func filterStopWords(tokens []string) []string {
	stop := make(map[string]bool, len(DefaultProseStopWords))
	for _, w := range DefaultProseStopWords {
		stop[w] = true
	}
	filtered := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !stop[t] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func normalizeForNgrams(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func extractTrigrams(text string) []string {
	if len(text) < ngramSize {
		return nil
	}
	grams := make([]string, 0, len(text)-ngramSize+1)
	for i := 0; i <= len(text)-ngramSize; i++ {
		grams = append(grams, text[i:i+ngramSize])
	}
	return grams
}

func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = float32(float64(val) / magnitude)
	}
	return out
}
