package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vallancelee/biomcp/internal/errors"
	"github.com/vallancelee/biomcp/internal/model"
	"github.com/vallancelee/biomcp/internal/store"
)

// Engine implements the hybrid retrieval flow: chunk
// search, document reconstruction, multi-factor scoring, and the
// get_by_uid/similar_to companion operations.
type Engine struct {
	Metadata store.MetadataStore
	Lexical  store.LexicalIndex
	Vectors  store.VectorStore
	Embedder store.Embedder

	config        Config
	clinicalTerms []string
	cache         *resultCache
	now           func() time.Time
}

// New builds an Engine. cfg.CacheEnabled controls whether the optional
// result cache is active.
func New(metadata store.MetadataStore, lexical store.LexicalIndex, vectors store.VectorStore, embedder store.Embedder, cfg Config) *Engine {
	e := &Engine{
		Metadata:      metadata,
		Lexical:       lexical,
		Vectors:       vectors,
		Embedder:      embedder,
		config:        cfg,
		clinicalTerms: defaultClinicalTerms,
		now:           time.Now,
	}
	if cfg.CacheEnabled {
		e.cache = newResultCache(cfg.CacheCapacity, cfg.CacheTTL)
	}
	return e
}

// SetClinicalTerms overrides the clinical-relevance dictionary, a
// config-overridable seed list.
func (e *Engine) SetClinicalTerms(terms []string) {
	e.clinicalTerms = terms
}

// chunkRef is the id under which a chunk's text is indexed in the
// lexical and vector stores: parent_uid and chunk_id are both
// delimiter-free, so splitting on the last '#' recovers both without a
// separate uuid->parent lookup.
func chunkRef(c *model.Chunk) string {
	return c.ParentUID + "#" + c.ChunkID
}

func splitChunkRef(ref string) (parentUID, chunkID string, ok bool) {
	i := strings.LastIndex(ref, "#")
	if i < 0 {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}

// Search runs the hybrid retrieval algorithm for q.
func (e *Engine) Search(ctx context.Context, q Query) (Result, error) {
	q, err := q.Normalize()
	if err != nil {
		return Result{}, err
	}

	if e.cache != nil {
		key := cacheKey(q)
		if cached, ok := e.cache.get(key); ok {
			return cached, nil
		}
		result, err := e.search(ctx, q)
		if err == nil {
			e.cache.put(key, result)
		}
		return result, err
	}
	return e.search(ctx, q)
}

func (e *Engine) search(ctx context.Context, q Query) (Result, error) {
	expanded := q.Limit * e.expansionFactor()

	bm25Results, vecResults, err := e.runBranches(ctx, q, expanded)
	if err != nil {
		return Result{}, err
	}

	alpha := *q.Alpha
	switch q.Mode {
	case ModeLexical:
		alpha = 0
	case ModeVector:
		alpha = 1
	}
	fused := fuseChunks(bm25Results, vecResults, alpha)

	hits, err := e.buildChunkHits(ctx, fused, q)
	if err != nil {
		return Result{}, err
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].FusedScore > hits[j].FusedScore })

	if q.Return == ReturnChunks {
		if len(hits) > q.Limit {
			hits = hits[:q.Limit]
		}
		return Result{Chunks: hits}, nil
	}

	docs := e.reconstructDocuments(hits, q)
	docs = applyDiversityFilter(docs, e.config.DiversityTrigger, e.config.DiversityCap)
	sortDocuments(docs)
	if len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return Result{Documents: docs}, nil
}

func (e *Engine) expansionFactor() int {
	if e.config.ExpansionFactor <= 0 {
		return 3
	}
	return e.config.ExpansionFactor
}

// runBranches issues the BM25 and/or vector queries per q.Mode.
func (e *Engine) runBranches(ctx context.Context, q Query, k int) ([]*store.LexicalResult, []*store.VectorResult, error) {
	var bm25Results []*store.LexicalResult
	var vecResults []*store.VectorResult
	var err error

	if q.Mode != ModeVector && e.Lexical != nil {
		bm25Results, err = e.Lexical.Search(ctx, q.Text, k)
		if err != nil {
			return nil, nil, errors.Wrap(errors.Upstream, fmt.Errorf("lexical search: %w", err))
		}
	}
	if q.Mode != ModeLexical && e.Vectors != nil && e.Embedder != nil {
		vec, embedErr := e.Embedder.Embed(ctx, q.Text)
		if embedErr != nil {
			return nil, nil, errors.Wrap(errors.Upstream, fmt.Errorf("embed query: %w", embedErr))
		}
		vecResults, err = e.Vectors.Search(ctx, vec, k)
		if err != nil {
			return nil, nil, errors.Wrap(errors.Upstream, fmt.Errorf("vector search: %w", err))
		}
	}
	return bm25Results, vecResults, nil
}

// buildChunkHits resolves each fused chunk ref to its stored Chunk and
// parent Document, grouping store lookups per parent document, and
// applies the hard filter predicates (source, year, section,
// quality_threshold).
func (e *Engine) buildChunkHits(ctx context.Context, fused map[string]chunkScore, q Query) ([]*ChunkHit, error) {
	byParent := make(map[string][]string)
	for ref := range fused {
		parentUID, _, ok := splitChunkRef(ref)
		if !ok {
			continue
		}
		byParent[parentUID] = append(byParent[parentUID], ref)
	}

	hits := make([]*ChunkHit, 0, len(fused))
	for parentUID, refs := range byParent {
		doc, err := e.Metadata.GetDocumentByUID(ctx, parentUID)
		if err != nil {
			continue // document deleted after its chunks were indexed; skip.
		}
		chunks, err := e.Metadata.GetChunksByParent(ctx, parentUID)
		if err != nil {
			return nil, errors.Wrap(errors.Upstream, fmt.Errorf("load chunks for %s: %w", parentUID, err))
		}
		byChunkID := make(map[string]*model.Chunk, len(chunks))
		for _, c := range chunks {
			byChunkID[c.ChunkID] = c
		}

		for _, ref := range refs {
			_, chunkID, _ := splitChunkRef(ref)
			chunk, ok := byChunkID[chunkID]
			if !ok {
				continue // chunk garbage-collected since the index was built.
			}
			if !e.passesFilters(chunk, doc, q) {
				continue
			}
			cs := fused[ref]
			hits = append(hits, &ChunkHit{
				Chunk:        chunk,
				ParentUID:    parentUID,
				FusedScore:   cs.fused,
				BM25Score:    cs.bm25,
				VectorScore:  cs.vector,
				MatchedTerms: cs.matchedTerms,
			})
		}
	}
	return hits, nil
}

func (e *Engine) passesFilters(chunk *model.Chunk, doc *model.Document, q Query) bool {
	f := q.Filters
	if f.Source != "" && doc.Source != f.Source {
		return false
	}
	if len(f.Sections) > 0 {
		match := false
		for _, s := range f.Sections {
			if chunk.Section == s {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if f.YearLow > 0 || f.YearHigh > 0 {
		year := yearOf(doc.PublishedAt)
		if f.YearLow > 0 && year < f.YearLow {
			return false
		}
		if f.YearHigh > 0 && year > f.YearHigh {
			return false
		}
	}
	threshold := q.QualityThreshold
	if threshold <= 0 {
		threshold = f.QualityThreshold
	}
	if threshold > 0 && qualityOf(doc) < threshold {
		return false
	}
	return true
}

func yearOf(t *time.Time) int {
	if t == nil {
		return 0
	}
	return t.Year()
}

func qualityOf(doc *model.Document) float64 {
	if doc == nil {
		return 0
	}
	v, ok := doc.Detail["quality_total"]
	if !ok {
		return 0
	}
	f, _ := v.(float64)
	return f
}

// reconstructDocuments groups chunk hits by parent document, rebuilds
// the abstract text, and computes doc_score plus its boosts.
func (e *Engine) reconstructDocuments(hits []*ChunkHit, q Query) []*DocumentHit {
	type group struct {
		doc    *model.Document
		chunks []*ChunkHit
	}
	groups := make(map[string]*group)
	order := make([]string, 0)
	for _, h := range hits {
		g, ok := groups[h.ParentUID]
		if !ok {
			g = &group{}
			groups[h.ParentUID] = g
			order = append(order, h.ParentUID)
		}
		g.chunks = append(g.chunks, h)
	}

	docs := make([]*DocumentHit, 0, len(order))
	for _, uid := range order {
		g := groups[uid]
		sort.Slice(g.chunks, func(i, j int) bool {
			ci, cj := g.chunks[i].Chunk, g.chunks[j].Chunk
			pi, pj := model.SectionPriority[ci.Section], model.SectionPriority[cj.Section]
			if pi != pj {
				return pi < pj
			}
			return ci.ChunkIdx < cj.ChunkIdx
		})

		var texts []string
		sectionsSeen := make(map[model.Section]struct{})
		var best *ChunkHit
		for _, h := range g.chunks {
			texts = append(texts, h.Chunk.Text)
			sectionsSeen[h.Chunk.Section] = struct{}{}
			if best == nil || h.FusedScore > best.FusedScore {
				best = h
			}
		}
		abstract := collapseWhitespace(strings.Join(texts, " "))

		document := e.documentFor(uid)
		quality := qualityOf(document)

		inCore := 0
		for s := range sectionsSeen {
			if _, ok := sectionPriorityAcceptSet[s]; ok {
				inCore++
			}
		}

		docScore := best.FusedScore +
			min(0.2, 0.05*float64(len(g.chunks))) +
			0.1*(float64(inCore)/4) +
			0.05*quality

		docScore += e.recencyBoost(document, q)
		docScore += e.clinicalBoost(document, q)

		sections := make([]model.Section, 0, len(sectionsSeen))
		for s := range sectionsSeen {
			sections = append(sections, s)
		}

		docs = append(docs, &DocumentHit{
			Document:      document,
			AbstractText:  abstract,
			DocScore:      docScore,
			QualityTotal:  quality,
			EvidenceLevel: EvidenceLevel(detailStringSlice(document, "publication_types")),
			SectionsSeen:  sections,
			ChunkCount:    len(g.chunks),
			BestChunk:     best,
		})
	}
	return docs
}

// documentFor re-fetches a parent document by uid during reconstruction.
// buildChunkHits already validated it exists and passed filters, so
// this only needs a uid->Document lookup, not error propagation into
// the sort/scoring path.
func (e *Engine) documentFor(uid string) *model.Document {
	doc, err := e.Metadata.GetDocumentByUID(context.Background(), uid)
	if err != nil {
		return &model.Document{UID: uid}
	}
	return doc
}

func detailStringSlice(doc *model.Document, key string) []string {
	v, ok := doc.Detail[key]
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

// recencyBoost returns the publication-age score bonus.
func (e *Engine) recencyBoost(doc *model.Document, q Query) float64 {
	if !q.BoostRecent || doc.PublishedAt == nil {
		return 0
	}
	age := e.now().Year() - doc.PublishedAt.Year()
	switch {
	case age <= 2:
		return 0.15
	case age <= 5:
		return 0.075
	case age <= 10:
		return 0.03
	default:
		return 0
	}
}

// clinicalBoost scores clinical-term dictionary hits in title+abstract.
func (e *Engine) clinicalBoost(doc *model.Document, q Query) float64 {
	if !q.BoostClinical {
		return 0
	}
	text := doc.Title + " " + doc.Text
	matches := countClinicalTerms(text, e.clinicalTerms)
	boost := min(0.10, 0.02*float64(matches))
	if queryMentionsClinicalTerm(q.Text, e.clinicalTerms) {
		boost *= 1.5
	}
	return boost
}

// sectionPriorityAcceptSet is {Background, Methods, Results, Conclusions},
// used by the doc_score formula's sections_seen term.
var sectionPriorityAcceptSet = map[model.Section]struct{}{
	model.SectionBackground:  {},
	model.SectionMethods:     {},
	model.SectionResults:     {},
	model.SectionConclusions: {},
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func sortDocuments(docs []*DocumentHit) {
	sort.Slice(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if a.DocScore != b.DocScore {
			return a.DocScore > b.DocScore
		}
		if a.QualityTotal != b.QualityTotal {
			return a.QualityTotal > b.QualityTotal
		}
		ay, by := yearPublished(a.Document), yearPublished(b.Document)
		if !ay.Equal(by) {
			return ay.After(by)
		}
		return a.Document.UID < b.Document.UID
	})
}

func yearPublished(d *model.Document) time.Time {
	if d.PublishedAt == nil {
		return time.Time{}
	}
	return *d.PublishedAt
}

// applyDiversityFilter caps results-per-journal at cap once the
// candidate count exceeds trigger.
func applyDiversityFilter(docs []*DocumentHit, trigger, cap int) []*DocumentHit {
	if len(docs) <= trigger {
		return docs
	}
	counts := make(map[string]int)
	out := make([]*DocumentHit, 0, len(docs))
	for _, d := range docs {
		journal, _ := d.Document.Detail["journal"].(string)
		if counts[journal] >= cap {
			continue
		}
		counts[journal]++
		out = append(out, d)
	}
	return out
}

// GetByUID returns the full Document row and, optionally, its
// reconstructed chunk list ordered by chunk index.
func (e *Engine) GetByUID(ctx context.Context, uid string, includeChunks bool) (*model.Document, []*model.Chunk, error) {
	doc, err := e.Metadata.GetDocumentByUID(ctx, uid)
	if err != nil {
		return nil, nil, err
	}
	if !includeChunks {
		return doc, nil, nil
	}
	chunks, err := e.Metadata.GetChunksByParent(ctx, uid)
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIdx < chunks[j].ChunkIdx })
	return doc, chunks, nil
}

// similarToTruncateChars bounds the referent text used to drive
// similar_to's underlying search.
const similarToTruncateChars = 1000

// SimilarTo retrieves uid's stored text, searches with it, and excludes
// the referent document from the result.
func (e *Engine) SimilarTo(ctx context.Context, uid string, limit int) (Result, error) {
	doc, err := e.Metadata.GetDocumentByUID(ctx, uid)
	if err != nil {
		return Result{}, err
	}
	text := doc.SearchableText()
	if len([]rune(text)) > similarToTruncateChars {
		text = string([]rune(text)[:similarToTruncateChars])
	}

	result, err := e.Search(ctx, Query{
		Text:    text,
		Limit:   limit + 1,
		Filters: store.Filters{Source: doc.Source},
	})
	if err != nil {
		return Result{}, err
	}

	filtered := make([]*DocumentHit, 0, len(result.Documents))
	for _, d := range result.Documents {
		if d.Document.UID == uid {
			continue
		}
		filtered = append(filtered, d)
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return Result{Documents: filtered}, nil
}
