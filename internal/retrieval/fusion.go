package retrieval

import "github.com/vallancelee/biomcp/internal/store"

// rrfConstant is the reciprocal-rank-fusion smoothing constant; kept at
// the conventional value used throughout the information-retrieval
// literature.
const rrfConstant = 60

// fuseChunks combines a BM25 result list and a vector result list into
// one ranked chunk-id -> score map, weighting the vector branch by
// alpha. Both inputs are assumed already sorted best-first; a chunk id
// missing from one branch simply contributes 0 from that branch rather
// than a penalty.
//
// Each branch's reciprocal-rank term is scaled so a chunk ranked first
// in both branches fuses to exactly 1.0. Raw RRF values live near
// 1/(rrfConstant+1), far too small to feed a document score whose
// additive boosts are sized in tenths; the scaling is rank-preserving
// and keeps fused scores on the same [0,1] footing as the boosts.
func fuseChunks(bm25 []*store.LexicalResult, vec []*store.VectorResult, alpha float64) map[string]chunkScore {
	scores := make(map[string]chunkScore, len(bm25)+len(vec))
	topRank := float64(rrfConstant + 1)

	for rank, r := range bm25 {
		cs := scores[r.DocID]
		cs.bm25 = r.Score
		cs.fused += (1 - alpha) * topRank / float64(rrfConstant+rank+1)
		cs.matchedTerms = r.MatchedTerms
		scores[r.DocID] = cs
	}
	for rank, r := range vec {
		cs := scores[r.ID]
		cs.vector = float64(r.Score)
		cs.fused += alpha * topRank / float64(rrfConstant+rank+1)
		scores[r.ID] = cs
	}

	return scores
}

// chunkScore holds one chunk's per-branch and fused scores.
type chunkScore struct {
	fused        float64
	bm25         float64
	vector       float64
	matchedTerms []string
}
