package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vallancelee/biomcp/internal/chunker"
	"github.com/vallancelee/biomcp/internal/config"
	"github.com/vallancelee/biomcp/internal/jobs"
	"github.com/vallancelee/biomcp/internal/limiter"
	"github.com/vallancelee/biomcp/internal/pipeline"
	"github.com/vallancelee/biomcp/internal/quality"
	"github.com/vallancelee/biomcp/internal/ready"
	"github.com/vallancelee/biomcp/internal/retrieval"
	"github.com/vallancelee/biomcp/internal/source"
	"github.com/vallancelee/biomcp/internal/store"
	"github.com/vallancelee/biomcp/internal/tools"
	"github.com/vallancelee/biomcp/internal/watermark"
)

// AppContext wires every collaborator a biomcp process needs, built
// fresh by each subcommand from the loaded Config. Collaborators are
// constructed once in the command's RunE rather than behind
// package-level globals.
type AppContext struct {
	Config *config.Config
	Log    *slog.Logger

	Metadata store.MetadataStore
	Lexical  store.LexicalIndex
	Vectors  store.VectorStore
	Embedder store.Embedder

	Checkpoints *watermark.Store
	Pipeline    *pipeline.Coordinator
	Fetcher     source.Fetcher
	Engine      *retrieval.Engine
	Limiter     *limiter.Limiter
	Jobs        *jobs.Queue
	Ready       *ready.Orchestrator
	Registry    *tools.Registry
	Invoker     *tools.Invoker
}

// buildAppContext opens every store named in cfg, registers the sync job
// handler, and assembles the tool registry/invoker. Callers are
// responsible for calling Close when done.
func buildAppContext(ctx context.Context, cfg *config.Config, log *slog.Logger) (*AppContext, error) {
	metadata, err := openMetadataStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	lexical, err := store.NewBM25IndexWithBackend(cfg.Store.LexicalPath, store.DefaultLexicalConfig(), normalizeLexicalBackend(cfg.Store.LexicalBackend))
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}

	vectors, err := openVectorStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	embedder := store.NewHashEmbedder()
	checkpoints := watermark.New(metadata)
	scorer := quality.NewScorer(quality.SourcePubmed)
	chunkOpts := chunker.Options{
		TargetTokens:  cfg.Chunker.TargetTokens,
		HardMaxTokens: cfg.Chunker.HardMaxTokens,
		OverlapTokens: cfg.Chunker.OverlapTokens,
		Version:       cfg.Chunker.Version,
	}
	coordinator := pipeline.New("pubmed", source.PubmedNormalizer{}, chunkOpts, scorer, embedder, metadata, lexical, vectors, log)

	retrievalCfg := retrieval.DefaultConfig()
	if cfg.Search.CacheTTLSeconds > 0 {
		retrievalCfg.CacheTTL = time.Duration(cfg.Search.CacheTTLSeconds) * time.Second
	}
	retrievalCfg.CacheCapacity = cfg.Search.CacheCapacity
	retrievalCfg.CacheEnabled = cfg.Search.CacheEnabled
	engine := retrieval.New(metadata, lexical, vectors, embedder, retrievalCfg)

	lim := limiter.New(limiter.Config{Global: cfg.Limiter.Global, PerTool: cfg.Limiter.PerTool})

	jobQueue, err := openJobQueue(ctx, cfg.Store, log)
	if err != nil {
		_ = metadata.Close()
		return nil, fmt.Errorf("open job queue: %w", err)
	}

	fetcher := source.NewPubmedFetcher("")
	jobQueue.Register("sync", tools.NewSyncJobHandler(coordinator, fetcher, checkpoints, cfg.Watermark.DefaultOverlapDays))

	actualDims := func() int { return cfg.Store.VectorDimensions }
	if q, ok := vectors.(*store.QdrantStore); ok {
		actualDims = func() int {
			dim, _, err := q.CollectionInfo(context.Background())
			if err != nil {
				return 0
			}
			return dim
		}
	}
	orchestrator := ready.New(
		ready.MetadataProbe{DB: metadata},
		ready.VectorProbe{Store: vectors, ExpectedDimensions: cfg.Store.VectorDimensions, ActualDimensions: actualDims},
	)

	registry := tools.NewRegistry(
		&tools.PingHandler{},
		&tools.SearchHandler{Engine: engine},
		&tools.GetHandler{Engine: engine},
		&tools.SimilarHandler{Engine: engine},
		&tools.SyncHandler{},
		&tools.CheckpointGetHandler{Store: checkpoints},
		&tools.CheckpointSetHandler{Store: checkpoints},
		&tools.JobsGetHandler{Queue: jobQueue},
		&tools.JobsCancelHandler{Queue: jobQueue},
	)
	invoker := tools.NewInvoker(registry, lim, log)

	return &AppContext{
		Config:      cfg,
		Log:         log,
		Metadata:    metadata,
		Lexical:     lexical,
		Vectors:     vectors,
		Embedder:    embedder,
		Checkpoints: checkpoints,
		Pipeline:    coordinator,
		Fetcher:     fetcher,
		Engine:      engine,
		Limiter:     lim,
		Jobs:        jobQueue,
		Ready:       orchestrator,
		Registry:    registry,
		Invoker:     invoker,
	}, nil
}

// Close releases every store the AppContext opened.
func (a *AppContext) Close() {
	if a.Jobs != nil {
		_ = a.Jobs.Close()
	}
	if a.Vectors != nil {
		_ = a.Vectors.Close()
	}
	if a.Lexical != nil {
		_ = a.Lexical.Close()
	}
	if a.Metadata != nil {
		_ = a.Metadata.Close()
	}
}

func openMetadataStore(ctx context.Context, cfg config.StoreConfig) (store.MetadataStore, error) {
	switch cfg.MetadataDriver {
	case "postgres":
		return store.NewPostgresMetadataStore(ctx, cfg.MetadataDSN)
	case "sqlite", "":
		return store.NewSQLiteMetadataStore(cfg.MetadataDSN)
	default:
		return nil, fmt.Errorf("unknown store.metadata_driver %q", cfg.MetadataDriver)
	}
}

func openVectorStore(ctx context.Context, cfg config.StoreConfig) (store.VectorStore, error) {
	vectorCfg := store.VectorStoreConfig{
		Dimensions: cfg.VectorDimensions,
		Metric:     cfg.VectorMetric,
		Collection: cfg.VectorCollection,
	}
	switch cfg.VectorBackend {
	case "qdrant":
		return store.NewQdrantStore(ctx, cfg.VectorDSN, vectorCfg)
	case "hnsw", "":
		s, err := store.NewHNSWStore(vectorCfg)
		if err != nil {
			return nil, err
		}
		if cfg.VectorPath != "" {
			_ = s.Load(cfg.VectorPath)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store.vector_backend %q", cfg.VectorBackend)
	}
}

func openJobQueue(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*jobs.Queue, error) {
	switch cfg.JobsDriver {
	case "postgres":
		return jobs.NewPostgres(ctx, cfg.JobsDSN, log)
	case "sqlite", "":
		return jobs.New(cfg.JobsDBPath, log)
	default:
		return nil, fmt.Errorf("unknown store.jobs_driver %q", cfg.JobsDriver)
	}
}

func normalizeLexicalBackend(backend string) string {
	if backend == "sqlite_fts" {
		return string(store.BM25BackendSQLite)
	}
	return backend
}
