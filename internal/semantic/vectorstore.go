package semantic

import (
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"
)

// VectorHit is one nearest-neighbor result.
type VectorHit struct {
	// ID is the chunk identifier.
	ID string

	// Score is the cosine similarity mapped to [0,1].
	Score float64
}

// vectorStore is the in-memory HNSW index over chunk embeddings. It is
// rebuilt from the persisted record set on load and mutated only by the
// owning Manager.
type vectorStore struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	dims  int

	// ID mapping (string <-> uint64)
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

// newVectorStore creates an empty store for vectors of the given dimension.
func newVectorStore(dims int) *vectorStore {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &vectorStore{
		graph:  graph,
		dims:   dims,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// Add inserts vectors with their IDs. Existing IDs are replaced using lazy
// deletion: the old graph node is orphaned rather than removed, avoiding
// coder/hnsw issues when deleting the last node.
func (s *vectorStore) Add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range vectors {
		if len(v) != s.dims {
			return fmt.Errorf("vector dimension mismatch: expected %d, got %d", s.dims, len(v))
		}
	}

	for i, id := range ids {
		if existingKey, exists := s.idMap[id]; exists {
			delete(s.keyMap, existingKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
	}

	return nil
}

// Search finds the k nearest neighbors of the query vector.
// Orphaned (lazily deleted) nodes are skipped.
func (s *vectorStore) Search(query []float32, k int) ([]VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(query) != s.dims {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", s.dims, len(query))
	}
	if s.graph.Len() == 0 || k <= 0 {
		return []VectorHit{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	nodes := s.graph.Search(normalized, k)

	hits := make([]VectorHit, 0, len(nodes))
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue // lazily deleted
		}
		distance := s.graph.Distance(normalized, node.Value)
		// Cosine distance ranges 0..2; map to similarity in [0,1].
		hits = append(hits, VectorHit{ID: id, Score: float64(1.0 - distance/2.0)})
	}

	return hits, nil
}

// Delete removes vectors by ID using lazy deletion.
func (s *vectorStore) Delete(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
	}
}

// Contains checks if an ID exists.
func (s *vectorStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.idMap[id]
	return exists
}

// Count returns the number of live vectors.
func (s *vectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// normalizeInPlace normalizes a vector to unit length in place.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
