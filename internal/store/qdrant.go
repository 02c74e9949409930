package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantStore is the production VectorStore backend: chunk vectors live
// in a remote Qdrant collection instead of the in-process HNSWStore used
// for dev/test. It satisfies the same VectorStore interface so the
// retrieval engine and ingestion pipeline never know which backend is
// behind them.
//
// Qdrant only accepts UUID or unsigned-integer point ids. Chunk uuids
// already are UUIDs, so ids pass through unchanged; the rare
// caller that hands in a non-UUID id gets a deterministic UUIDv5 derived
// from it, with the original id kept in the point payload so AllIDs and
// result ids stay in the caller's id-space.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	distance   qdrant.Distance

	mu  sync.RWMutex
	ids map[string]struct{} // local mirror of known ids, for Contains/AllIDs/Count
}

const qdrantOriginalIDField = "_original_id"

// NewQdrantStore dials a Qdrant instance at dsn (its gRPC endpoint,
// default port 6334) and ensures cfg's collection exists with the
// configured vector dimension and distance metric. Readiness probes
// check the same collection/dimension pair.
func NewQdrantStore(ctx context.Context, dsn string, cfg VectorStoreConfig) (*QdrantStore, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("qdrant: dimensions must be > 0")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("qdrant: parse dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("qdrant: invalid port in dsn: %w", err)
	}
	qcfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		qcfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		qcfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: create client: %w", err)
	}

	s := &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimensions,
		distance:   qdrantDistance(cfg.Metric),
		ids:        make(map[string]struct{}),
	}
	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("qdrant: ensure collection: %w", err)
	}
	return s, nil
}

func qdrantDistance(metric string) qdrant.Distance {
	switch strings.ToLower(strings.TrimSpace(metric)) {
	case "l2", "euclidean":
		return qdrant.Distance_Euclid
	case "ip", "dot":
		return qdrant.Distance_Dot
	case "manhattan":
		return qdrant.Distance_Manhattan
	default:
		return qdrant.Distance_Cosine
	}
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: s.distance,
		}),
	})
}

// pointID returns a Qdrant-legal point id for id, and whatever extra
// payload field is needed to recover the caller's original id.
func pointID(id string) (*qdrant.PointId, map[string]any) {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(id), nil
	}
	derived := uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
	return qdrant.NewIDUUID(derived), map[string]any{qdrantOriginalIDField: id}
}

// Add upserts ids/vectors as points; an upsert is a full replace per
// uuid.
func (s *QdrantStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("qdrant: ids/vectors length mismatch: %d != %d", len(ids), len(vectors))
	}
	points := make([]*qdrant.PointStruct, 0, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != s.dimension {
			return ErrDimensionMismatch{Expected: s.dimension, Got: len(vectors[i])}
		}
		pid, payload := pointID(id)
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		p := &qdrant.PointStruct{Id: pid, Vectors: qdrant.NewVectorsDense(vec)}
		if payload != nil {
			p.Payload = qdrant.NewValueMap(payload)
		}
		points = append(points, p)
	}
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: s.collection, Points: points}); err != nil {
		return fmt.Errorf("qdrant: upsert: %w", err)
	}
	s.mu.Lock()
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	s.mu.Unlock()
	return nil
}

// Search runs an ANN query and maps results back onto VectorResult.
func (s *QdrantStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(query))
	copy(vec, query)
	limit := uint64(k)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query: %w", err)
	}
	out := make([]*VectorResult, 0, len(hits))
	for _, h := range hits {
		id := h.Id.GetUuid()
		if h.Payload != nil {
			if v, ok := h.Payload[qdrantOriginalIDField]; ok {
				id = v.GetStringValue()
			}
		}
		out = append(out, &VectorResult{ID: id, Score: h.Score, Distance: 1 - h.Score})
	}
	return out, nil
}

// Delete removes points by their caller-facing ids.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	pids := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pid, _ := pointID(id)
		pids = append(pids, pid)
	}
	if _, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(pids...),
	}); err != nil {
		return fmt.Errorf("qdrant: delete: %w", err)
	}
	s.mu.Lock()
	for _, id := range ids {
		delete(s.ids, id)
	}
	s.mu.Unlock()
	return nil
}

// AllIDs returns the locally mirrored id set. It reflects only ids this
// process has Add'ed or Delete'd; a multi-process deployment relies on
// the readiness probe, not this method, to confirm collection
// health.
func (s *QdrantStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	return out
}

func (s *QdrantStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *QdrantStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Save/Load are no-ops: Qdrant persists server-side. They exist only to
// satisfy VectorStore for callers that snapshot the dev/test HNSWStore.
func (s *QdrantStore) Save(string) error { return nil }
func (s *QdrantStore) Load(string) error { return nil }

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// CollectionInfo reports the collection's point count and configured
// vector size, consumed by the readiness orchestrator to confirm the
// collection exists with the expected vector dimension.
func (s *QdrantStore) CollectionInfo(ctx context.Context) (dimension int, exists bool, err error) {
	exists, err = s.client.CollectionExists(ctx, s.collection)
	if err != nil || !exists {
		return 0, exists, err
	}
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return 0, true, err
	}
	if info == nil || info.GetConfig() == nil {
		return s.dimension, true, nil
	}
	params := info.GetConfig().GetParams()
	if params == nil || params.GetVectorsConfig() == nil {
		return s.dimension, true, nil
	}
	if single := params.GetVectorsConfig().GetParams(); single != nil {
		return int(single.GetSize()), true, nil
	}
	return s.dimension, true, nil
}
