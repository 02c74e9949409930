package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vallancelee/biomcp/internal/chunker"
	"github.com/vallancelee/biomcp/internal/pipeline"
	"github.com/vallancelee/biomcp/internal/quality"
	"github.com/vallancelee/biomcp/internal/source"
	"github.com/vallancelee/biomcp/internal/store"
	"github.com/vallancelee/biomcp/internal/watermark"
)

type syncTestNormalizer struct{}

func (syncTestNormalizer) Normalize(_ context.Context, rec source.RawRecord) (source.NormalizedFields, error) {
	return source.NormalizedFields{
		Title: "Diabetes Study " + rec.SourceID,
		Text:  "Background: diabetes mellitus overview. Methods: randomized trial. Results: HbA1c reduced. Conclusions: effective.",
	}, nil
}

type syncTestEmbedder struct{}

func (syncTestEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, 8)
		out[i][0] = 1
	}
	return out, nil
}

// recordingFetcher returns a fixed record set and remembers the window
// it was asked for.
type recordingFetcher struct {
	records      []source.RawRecord
	since, until time.Time
}

func (f *recordingFetcher) Fetch(_ context.Context, since, until time.Time) ([]source.RawRecord, error) {
	f.since, f.until = since, until
	return f.records, nil
}

func newSyncTestCoordinator(t *testing.T) (*pipeline.Coordinator, *watermark.Store) {
	t.Helper()
	meta, err := store.NewSQLiteMetadataStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	lex, err := store.NewBleveBM25Index("", store.DefaultLexicalConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lex.Close() })

	vec, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(8))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vec.Close() })

	c := pipeline.New("pubmed", syncTestNormalizer{}, chunker.Options{}, quality.NewScorer(quality.SourcePubmed), syncTestEmbedder{}, meta, lex, vec, nil)
	return c, watermark.New(meta)
}

func TestSyncJobHandler_OverlapCatchesLateRecordAndAdvancesWatermark(t *testing.T) {
	coordinator, checkpoints := newSyncTestCoordinator(t)
	ctx := context.Background()

	stored := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, checkpoints.Advance(ctx, "diabetes_v1", stored))

	early := time.Date(2024, 1, 9, 12, 0, 0, 0, time.UTC)
	late := time.Date(2024, 1, 14, 12, 0, 0, 0, time.UTC)
	fetcher := &recordingFetcher{records: []source.RawRecord{
		{Source: "pubmed", SourceID: "111", Blob: []byte(`{}`), EDAT: early},
		{Source: "pubmed", SourceID: "222", Blob: []byte(`{}`), EDAT: late},
	}}

	handler := NewSyncJobHandler(coordinator, fetcher, checkpoints, 1)

	raw, err := handler(ctx, json.RawMessage(`{"query_key":"diabetes_v1","term":"diabetes"}`), nil)
	require.NoError(t, err)

	// The fetch window starts one overlap day before the stored
	// watermark, so the 2024-01-09 record is still in range.
	assert.True(t, fetcher.since.Equal(stored.AddDate(0, 0, -1)))
	assert.True(t, early.After(fetcher.since))

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.EqualValues(t, 2, out["fetched"])
	assert.EqualValues(t, 2, out["ingested"])

	got, err := checkpoints.Get(ctx, "diabetes_v1")
	require.NoError(t, err)
	assert.True(t, got.Equal(late), "the watermark must advance to the latest EDAT seen")
}

func TestSyncJobHandler_NoRecordsLeavesWatermarkUnchanged(t *testing.T) {
	coordinator, checkpoints := newSyncTestCoordinator(t)
	ctx := context.Background()

	stored := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, checkpoints.Advance(ctx, "diabetes_v1", stored))

	handler := NewSyncJobHandler(coordinator, &recordingFetcher{}, checkpoints, 1)

	raw, err := handler(ctx, json.RawMessage(`{"query_key":"diabetes_v1","term":"diabetes"}`), nil)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.EqualValues(t, 0, out["fetched"])

	got, err := checkpoints.Get(ctx, "diabetes_v1")
	require.NoError(t, err)
	assert.True(t, got.Equal(stored))
}
