package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vallancelee/biomcp/internal/chunker"
	"github.com/vallancelee/biomcp/internal/pipeline"
	"github.com/vallancelee/biomcp/internal/quality"
	"github.com/vallancelee/biomcp/internal/source"
	"github.com/vallancelee/biomcp/internal/store"
)

// newIngestedFixture runs the real ingestion pipeline (normalize,
// score, chunk, upsert) over raw PubMed-shaped records, then builds an
// Engine over the same stores, so search exercises exactly what
// ingestion wrote.
func newIngestedFixture(t *testing.T, records ...source.RawRecord) *Engine {
	t.Helper()
	ctx := context.Background()

	meta, err := store.NewSQLiteMetadataStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	lex, err := store.NewBleveBM25Index("", store.DefaultLexicalConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lex.Close() })

	vec, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(store.EmbedderDimensions))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vec.Close() })

	embedder := store.NewHashEmbedder()
	coordinator := pipeline.New("pubmed", source.PubmedNormalizer{}, chunker.Options{}, quality.NewScorer(quality.SourcePubmed), embedder, meta, lex, vec, nil)

	for _, rec := range records {
		_, err := coordinator.IngestOne(ctx, rec)
		require.NoError(t, err)
	}

	return New(meta, lex, vec, embedder, DefaultConfig())
}

func TestEngine_IngestAndRetrieve_StructuredTrialRanksHigh(t *testing.T) {
	trial := source.RawRecord{
		Source:   "pubmed",
		SourceID: "12345678",
		Blob: []byte(`{
			"title": "Efficacy of Novel Diabetes Treatment in Randomized Controlled Trial",
			"abstract": "Background: Diabetes mellitus affects millions worldwide. Methods: We conducted a randomized controlled trial with 500 patients. Results: The novel treatment showed 15% improvement in HbA1c levels (p<0.001). Conclusions: This treatment represents a significant advance.",
			"journal": "Diabetes Care",
			"mesh_terms": ["Diabetes Mellitus", "Clinical Trial", "Therapeutics"],
			"publication_types": ["Randomized Controlled Trial"],
			"pmid": "12345678",
			"pub_date": "2024-01-15",
			"year": 2024
		}`),
		EDAT: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}
	offTopic := source.RawRecord{
		Source:   "pubmed",
		SourceID: "99999999",
		Blob: []byte(`{
			"title": "Soil Microbiome Composition in Boreal Forests",
			"abstract": "Background: Soil microbial diversity varies by biome. Methods: We sequenced forest soil samples. Results: Fungal taxa dominated acidic plots. Conclusions: Biome drives composition.",
			"journal": "Soil Biology",
			"pmid": "99999999",
			"pub_date": "2019-06-01",
			"year": 2019
		}`),
		EDAT: time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	engine := newIngestedFixture(t, trial, offTopic)

	result, err := engine.Search(context.Background(), Query{
		Text: "diabetes treatment efficacy randomized trial",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Documents)

	rank := -1
	var hit *DocumentHit
	for i, d := range result.Documents {
		if d.Document.UID == "pubmed:12345678" {
			rank, hit = i, d
			break
		}
	}
	require.NotNil(t, hit, "the ingested trial must be retrievable")
	assert.Less(t, rank, 3, "the trial must rank in the top 3")
	assert.GreaterOrEqual(t, hit.DocScore, 0.70)

	sections := make(map[string]bool)
	for _, s := range hit.SectionsSeen {
		sections[string(s)] = true
	}
	for _, want := range []string{"Background", "Methods", "Results", "Conclusions"} {
		assert.True(t, sections[want], "section %s must survive ingestion into retrieval", want)
	}
}

func TestFuseChunks_TopOfBothBranchesFusesToOne(t *testing.T) {
	bm25 := []*store.LexicalResult{
		{DocID: "a", Score: 3.1},
		{DocID: "b", Score: 1.2},
	}
	vec := []*store.VectorResult{
		{ID: "a", Score: 0.9},
		{ID: "c", Score: 0.4},
	}

	scores := fuseChunks(bm25, vec, 0.5)

	assert.InDelta(t, 1.0, scores["a"].fused, 1e-9, "rank 0 in both branches is the fused ceiling")
	assert.Greater(t, scores["a"].fused, scores["b"].fused)
	assert.Greater(t, scores["a"].fused, scores["c"].fused)
	// Single-branch hits keep the branch weight as their ceiling.
	assert.LessOrEqual(t, scores["b"].fused, 0.5)
	assert.LessOrEqual(t, scores["c"].fused, 0.5)
}

func TestQueryNormalize_AlphaDefaultsWhenAbsent(t *testing.T) {
	q, err := Query{Text: "diabetes"}.Normalize()
	require.NoError(t, err)
	require.NotNil(t, q.Alpha)
	assert.InDelta(t, 0.5, *q.Alpha, 1e-9)

	zero := 0.0
	q, err = Query{Text: "diabetes", Alpha: &zero}.Normalize()
	require.NoError(t, err)
	assert.Zero(t, *q.Alpha, "an explicit alpha of 0 must be honored, not replaced")

	big := 7.0
	q, err = Query{Text: "diabetes", Alpha: &big}.Normalize()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, *q.Alpha, 1e-9)
}
