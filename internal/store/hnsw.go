package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWStore is the embedded VectorStore backend: a coder/hnsw graph
// held in process, keyed by chunk ref. It serves the single-binary and
// test deployments; the production deployment points the same callers
// at QdrantStore instead.
//
// The graph library addresses nodes by uint64, so the store keeps a
// bidirectional ref<->node mapping. Deleting or re-adding a ref only
// rewrites that mapping: the old node stays in the graph as a
// tombstone, invisible to Search because no ref points at it anymore.
// coder/hnsw cannot safely drop its last node, and embedded corpora
// are small enough that tombstones cost little before the next full
// rebuild from the metadata store.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	refNodes map[string]uint64
	nodeRefs map[uint64]string
	nextNode uint64

	closed bool
}

var _ VectorStore = (*HNSWStore)(nil)

// hnswManifest is the gob sidecar persisted next to the graph export:
// the ref mapping and the config the graph was built with.
type hnswManifest struct {
	RefNodes map[string]uint64
	NextNode uint64
	Config   VectorStoreConfig
}

// NewHNSWStore builds an empty in-process index for cfg.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWStore{
		graph:    graph,
		config:   cfg,
		refNodes: make(map[string]uint64),
		nodeRefs: make(map[uint64]string),
	}, nil
}

// Add upserts embeddings keyed by chunk ref. A ref that already exists
// is re-pointed at a fresh node; the displaced node becomes a
// tombstone.
func (s *HNSWStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		if oldNode, ok := s.refNodes[id]; ok {
			delete(s.nodeRefs, oldNode)
			delete(s.refNodes, id)
		}

		node := s.nextNode
		s.nextNode++

		vec := s.prepared(vectors[i])
		s.graph.Add(hnsw.MakeNode(node, vec))
		s.refNodes[id] = node
		s.nodeRefs[node] = id
	}
	return nil
}

// Search returns up to k nearest live chunk refs for the query
// embedding. Tombstoned nodes are filtered out after the graph walk.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	q := s.prepared(query)
	nodes := s.graph.Search(q, k)

	results := make([]*VectorResult, 0, len(nodes))
	for _, node := range nodes {
		ref, live := s.nodeRefs[node.Key]
		if !live {
			continue
		}
		distance := s.graph.Distance(q, node.Value)
		results = append(results, &VectorResult{
			ID:       ref,
			Distance: distance,
			Score:    similarityScore(distance, s.config.Metric),
		})
	}
	return results, nil
}

// Delete tombstones the given chunk refs. Unknown refs are ignored, so
// the pipeline's garbage-collection pass can hand over a superset.
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	for _, id := range ids {
		if node, ok := s.refNodes[id]; ok {
			delete(s.nodeRefs, node)
			delete(s.refNodes, id)
		}
	}
	return nil
}

// AllIDs lists every live chunk ref, the hook the pipeline's
// garbage-collection step diffs against the freshly produced chunk set.
func (s *HNSWStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}

	ids := make([]string, 0, len(s.refNodes))
	for id := range s.refNodes {
		ids = append(ids, id)
	}
	return ids
}

// Contains reports whether a chunk ref is live.
func (s *HNSWStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	_, ok := s.refNodes[id]
	return ok
}

// Count returns the number of live chunk refs, not graph nodes.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.refNodes)
}

// HNSWStats reports live-vs-tombstone occupancy, the signal for when a
// rebuild from the metadata store is worth it.
type HNSWStats struct {
	Live       int
	GraphNodes int
	Tombstones int
}

// Stats returns current occupancy.
func (s *HNSWStore) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return HNSWStats{}
	}

	live := len(s.refNodes)
	nodes := s.graph.Len()
	return HNSWStats{Live: live, GraphNodes: nodes, Tombstones: nodes - live}
}

// Save persists the graph export at path and the ref manifest at
// path+".manifest". Both writes go through a temp file and rename, so
// a crash mid-save leaves the previous snapshot intact.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	if err := atomicWrite(path, func(f *os.File) error {
		return s.graph.Export(f)
	}); err != nil {
		return fmt.Errorf("export graph: %w", err)
	}

	manifest := hnswManifest{
		RefNodes: s.refNodes,
		NextNode: s.nextNode,
		Config:   s.config,
	}
	if err := atomicWrite(manifestPath(path), func(f *os.File) error {
		return gob.NewEncoder(f).Encode(manifest)
	}); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Load restores a snapshot written by Save, replacing the store's
// current contents.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	mf, err := os.Open(manifestPath(path))
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer mf.Close()

	var manifest hnswManifest
	if err := gob.NewDecoder(mf).Decode(&manifest); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}

	gf, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open graph export: %w", err)
	}
	defer gf.Close()

	// Import needs an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(gf)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	s.config = manifest.Config
	s.nextNode = manifest.NextNode
	s.refNodes = manifest.RefNodes
	s.nodeRefs = make(map[uint64]string, len(manifest.RefNodes))
	for ref, node := range manifest.RefNodes {
		s.nodeRefs[node] = ref
	}
	return nil
}

// Close marks the store closed; the graph has no resources of its own
// to release.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// prepared copies a vector and, under the cosine metric, normalizes
// the copy to unit length so stored and query vectors compare on
// direction alone.
func (s *HNSWStore) prepared(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	if s.config.Metric == "cos" {
		var sumSquares float64
		for _, val := range out {
			sumSquares += float64(val) * float64(val)
		}
		if sumSquares == 0 {
			return out
		}
		inv := float32(1.0 / math.Sqrt(sumSquares))
		for i := range out {
			out[i] *= inv
		}
	}
	return out
}

func manifestPath(path string) string { return path + ".manifest" }

// atomicWrite writes via a temp file in the target directory and
// renames it into place.
func atomicWrite(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// similarityScore maps a branch distance onto the 0..1 similarity the
// fusion layer expects: cosine distance spans [0,2], l2 spans [0,inf).
func similarityScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
