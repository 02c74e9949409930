// Package pipeline implements the ingestion pipeline: turn
// one raw source record into a validated Document plus its Chunks, and
// keep the metadata store, lexical index, and vector store in lockstep.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vallancelee/biomcp/internal/chunker"
	"github.com/vallancelee/biomcp/internal/errors"
	"github.com/vallancelee/biomcp/internal/model"
	"github.com/vallancelee/biomcp/internal/quality"
	"github.com/vallancelee/biomcp/internal/source"
	"github.com/vallancelee/biomcp/internal/store"
)

// Embedder produces the vectors the pipeline upserts alongside chunk
// text; it is separate from store.Embedder so a Coordinator can batch
// across chunks before calling into the vector store.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Coordinator runs the ingestion pipeline end to end for one source.
// It owns no state of its own beyond its collaborators: all durable
// state lives in Metadata, Lexical, and Vectors.
type Coordinator struct {
	Source     string
	Normalizer source.Normalizer
	Chunker    *chunker.Chunker
	Scorer     quality.Scorer
	Embedder   Embedder
	Metadata   store.MetadataStore
	Lexical    store.LexicalIndex
	Vectors    store.VectorStore
	Log        *slog.Logger
}

// New builds a Coordinator for source sourceName. chunkOpts and the
// quality Scorer are passed in by the caller so a single binary can run
// several sources with different windowing or scoring behavior.
func New(sourceName string, norm source.Normalizer, chunkOpts chunker.Options, scorer quality.Scorer, embedder Embedder, metadata store.MetadataStore, lexical store.LexicalIndex, vectors store.VectorStore, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		Source:     sourceName,
		Normalizer: norm,
		Chunker:    chunker.New(chunkOpts),
		Scorer:     scorer,
		Embedder:   embedder,
		Metadata:   metadata,
		Lexical:    lexical,
		Vectors:    vectors,
		Log:        log,
	}
}

// Result reports what IngestOne did, for callers (a sync loop, a batch
// CLI command) that want to log or accumulate counters without the
// pipeline itself owning any aggregate state.
type Result struct {
	UID          string
	Version      int
	Changed      bool
	ChunkCount   int
	ChunksPending bool
}

// IngestOne runs the full pipeline for a single raw record. It is safe
// to call twice on the same record: if content_hash is unchanged, the
// upsert and chunk writes are no-ops, unless an earlier chunk write left
// chunks_pending set, in which case the chunk writes run again. Only
// content_hash is compared; a change to other metadata alone, such as the
// publication date, does not rewrite the row.
func (c *Coordinator) IngestOne(ctx context.Context, rec source.RawRecord) (Result, error) {
	fields, err := c.Normalizer.Normalize(ctx, rec)
	if err != nil {
		return Result{}, fmt.Errorf("normalize %s/%s: %w", rec.Source, rec.SourceID, err)
	}

	opts := []model.DocumentOption{
		WithOptionalIdentifiers(fields.Identifiers),
	}
	if fields.PublishedAt != nil {
		opts = append(opts, model.WithPublishedAt(*fields.PublishedAt))
	}
	if fields.Language != "" {
		opts = append(opts, model.WithLanguage(fields.Language))
	}
	if len(fields.Authors) > 0 {
		opts = append(opts, model.WithAuthors(fields.Authors))
	}
	if len(fields.Labels) > 0 {
		opts = append(opts, model.WithLabels(fields.Labels))
	}
	if fields.License != "" {
		opts = append(opts, model.WithLicense(fields.License))
	}
	detail := fields.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	opts = append(opts, model.WithDetail(detail))

	doc, err := model.NewDocument(rec.Source, rec.SourceID, fields.Title, fields.Text, opts...)
	if err != nil {
		return Result{}, fmt.Errorf("construct document %s/%s: %w", rec.Source, rec.SourceID, err)
	}

	scorer := c.Scorer
	if scorer == nil {
		scorer = quality.NullScorer{}
	}
	doc.Detail["quality_total"] = scorer.Score(doc.Detail, time.Now())

	chunks, err := c.Chunker.Chunk(ctx, doc)
	if err != nil {
		return Result{}, fmt.Errorf("chunk %s: %w", doc.UID, err)
	}
	if len(chunks) == 0 {
		doc.Provenance["chunk_warning"] = "text produced no chunks"
		c.Log.Warn("document produced no chunks", "uid", doc.UID)
	}

	version, changed, err := c.Metadata.UpsertDocument(ctx, doc)
	if err != nil {
		return Result{}, errors.Wrap(errors.Upstream, fmt.Errorf("upsert document %s: %w", doc.UID, err))
	}
	if !changed {
		stored, getErr := c.Metadata.GetDocumentByUID(ctx, doc.UID)
		if getErr != nil || stored.Provenance["chunks_pending"] != true {
			return Result{UID: doc.UID, Version: version, Changed: false, ChunkCount: len(chunks)}, nil
		}
	}

	if err := c.upsertChunks(ctx, doc, chunks); err != nil {
		if setErr := c.Metadata.SetChunksPending(ctx, doc.UID, true); setErr != nil {
			c.Log.Error("mark chunks_pending after upsert failure", "uid", doc.UID, "error", setErr)
		}
		return Result{UID: doc.UID, Version: version, Changed: true, ChunkCount: len(chunks), ChunksPending: true},
			errors.Wrap(errors.Upstream, fmt.Errorf("upsert chunks %s: %w", doc.UID, err))
	}

	return Result{UID: doc.UID, Version: version, Changed: true, ChunkCount: len(chunks)}, nil
}

// upsertChunks writes chunks to the metadata, lexical, and vector
// stores and garbage-collects any previously-stored chunk uuids that
// the current chunk set no longer produces.
func (c *Coordinator) upsertChunks(ctx context.Context, doc *model.Document, chunks []*model.Chunk) error {
	previous, err := c.Metadata.GetChunksByParent(ctx, doc.UID)
	if err != nil {
		return fmt.Errorf("load previous chunks: %w", err)
	}
	keep := make(map[string]struct{}, len(chunks))
	for _, ch := range chunks {
		keep[ch.ChunkID] = struct{}{}
	}
	var staleUUIDs []string
	var staleRefs []string
	for _, ch := range previous {
		if _, ok := keep[ch.ChunkID]; !ok {
			staleUUIDs = append(staleUUIDs, ch.UUID.String())
			staleRefs = append(staleRefs, chunkRef(ch))
		}
	}

	if err := c.Metadata.SaveChunks(ctx, chunks); err != nil {
		return fmt.Errorf("save chunk rows: %w", err)
	}

	if len(chunks) > 0 {
		ids := make([]string, len(chunks))
		texts := make([]string, len(chunks))
		for i, ch := range chunks {
			ids[i] = chunkRef(ch)
			texts[i] = ch.Text
		}
		if c.Lexical != nil {
			docs := make([]*store.LexicalDocument, len(chunks))
			for i, id := range ids {
				docs[i] = &store.LexicalDocument{ID: id, Content: texts[i]}
			}
			if err := c.Lexical.Index(ctx, docs); err != nil {
				return fmt.Errorf("lexical index: %w", err)
			}
		}
		if c.Vectors != nil && c.Embedder != nil {
			vecs, err := c.Embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return fmt.Errorf("embed chunks: %w", err)
			}
			if err := c.Vectors.Add(ctx, ids, vecs); err != nil {
				return fmt.Errorf("vector add: %w", err)
			}
		}
	}

	if len(staleUUIDs) > 0 {
		if err := c.Metadata.DeleteChunksByUUID(ctx, staleUUIDs); err != nil {
			return fmt.Errorf("delete stale chunk rows: %w", err)
		}
		if c.Lexical != nil {
			if err := c.Lexical.Delete(ctx, staleRefs); err != nil {
				return fmt.Errorf("delete stale lexical entries: %w", err)
			}
		}
		if c.Vectors != nil {
			if err := c.Vectors.Delete(ctx, staleRefs); err != nil {
				return fmt.Errorf("delete stale vectors: %w", err)
			}
		}
	}

	if err := c.Metadata.SetChunksPending(ctx, doc.UID, false); err != nil {
		return fmt.Errorf("clear chunks_pending: %w", err)
	}

	return nil
}

// chunkRef is the external ID the lexical index and vector store use for
// a chunk: parentUID + "#" + chunkID. It lets the retrieval engine
// recover a chunk's parent document straight from a search hit, with no
// separate uuid-to-parent lookup table. Must stay in sync with
// retrieval.chunkRef.
func chunkRef(ch *model.Chunk) string {
	return ch.ParentUID + "#" + ch.ChunkID
}

// WithOptionalIdentifiers is a no-op DocumentOption when ids is empty,
// so callers don't need to special-case normalizers that supply none.
func WithOptionalIdentifiers(ids map[string]string) model.DocumentOption {
	return func(d *model.Document) {
		if len(ids) > 0 {
			model.WithIdentifiers(ids)(d)
		}
	}
}
