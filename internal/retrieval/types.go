// Package retrieval implements the hybrid BM25+vector retrieval engine
//: fusing chunk-level lexical and vector search, reconstructing
// documents from their chunks, and ranking by a multi-factor document score.
package retrieval

import (
	"time"

	"github.com/vallancelee/biomcp/internal/model"
	"github.com/vallancelee/biomcp/internal/store"
)

// Mode selects which branch(es) of the hybrid query run.
type Mode string

const (
	ModeHybrid  Mode = "hybrid"
	ModeVector  Mode = "vector"
	ModeLexical Mode = "lexical"
)

// Return selects whether Search reconstructs documents or returns raw
// chunk hits.
type Return string

const (
	ReturnDocuments Return = "documents"
	ReturnChunks    Return = "chunks"
)

// Query is the search tool's validated input. Alpha is the
// vector-branch weight in hybrid fusion: nil means "not supplied" and
// normalizes to defaultAlpha, while an explicit 0 is honored as
// lexical-only weighting.
type Query struct {
	Text             string
	Limit            int
	Mode             Mode
	Alpha            *float64
	Filters          store.Filters
	QualityThreshold float64
	BoostRecent      bool
	BoostClinical    bool
	Return           Return
}

// maxQueryLen is the hard validation limit on query text.
const maxQueryLen = 1024

// defaultAlpha is the hybrid fusion weight used when the caller does
// not supply one.
const defaultAlpha = 0.5

// Normalize trims query text, clamps Limit to [1,50] and Alpha to [0,1],
// and fills in defaults. Clamping never errors.
// It returns a VALIDATION-worthy error only for the one hard failure:
// an empty or over-length query.
func (q Query) Normalize() (Query, error) {
	q.Text = trimSpace(q.Text)
	if q.Text == "" {
		return q, errEmptyQuery
	}
	if len([]rune(q.Text)) > maxQueryLen {
		return q, errQueryTooLong
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 50 {
		q.Limit = 50
	}
	if q.Limit < 1 {
		q.Limit = 1
	}
	alpha := defaultAlpha
	if q.Alpha != nil {
		alpha = *q.Alpha
	}
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	q.Alpha = &alpha
	if q.Mode == "" {
		q.Mode = ModeHybrid
	}
	if q.Return == "" {
		q.Return = ReturnDocuments
	}
	return q, nil
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// ChunkHit is a single chunk's fused relevance score prior to document
// reconstruction.
type ChunkHit struct {
	Chunk        *model.Chunk
	ParentUID    string
	FusedScore   float64
	BM25Score    float64
	VectorScore  float64
	MatchedTerms []string
}

// DocumentHit is one ranked document result.
type DocumentHit struct {
	Document      *model.Document
	AbstractText  string
	DocScore      float64
	QualityTotal  float64
	EvidenceLevel int
	SectionsSeen  []model.Section
	ChunkCount    int
	BestChunk     *ChunkHit
}

// Result is what Search returns: either reconstructed documents or raw
// chunk hits, per Query.Return.
type Result struct {
	Documents []*DocumentHit
	Chunks    []*ChunkHit
}

// Config tunes engine-wide constants not exposed per query.
type Config struct {
	ExpansionFactor  int // k' = ExpansionFactor * limit chunks requested (default 3)
	DiversityCap     int // max results per journal once diversity filter kicks in (default 2)
	DiversityTrigger int // filter engages once candidate count exceeds this (default 20)
	CacheTTL         time.Duration
	CacheCapacity    int
	CacheEnabled     bool
}

// DefaultConfig returns the engine's default knobs.
func DefaultConfig() Config {
	return Config{
		ExpansionFactor:  3,
		DiversityCap:     2,
		DiversityTrigger: 20,
		CacheTTL:         300 * time.Second,
		CacheCapacity:    1000,
		CacheEnabled:     false,
	}
}
