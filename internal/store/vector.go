package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// VectorIndex is the embedded ANN store: a coder/hnsw graph with a
// string-ID mapping layer and atomic persistence. Scores are cosine
// similarity mapped to [0,1] via (1+cos)/2.
type VectorIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]

	// Dimensions is fixed by the first vector added.
	dimensions int

	idMap   map[string]uint64 // chunk_id -> internal key
	keyMap  map[uint64]string // internal key -> chunk_id
	nextKey uint64

	closed bool
}

// vectorMetadata is the gob-persisted sidecar holding ID mappings.
type vectorMetadata struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
}

// VectorResult is one ANN hit before document attachment.
type VectorResult struct {
	ChunkID string
	Score   float64
}

// NewVectorIndex creates an empty vector index.
func NewVectorIndex() *VectorIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 64
	graph.Ml = 0.25

	return &VectorIndex{
		graph:  graph,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// Dimensions returns the recorded vector dimension, 0 before the
// first add.
func (s *VectorIndex) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimensions
}

// Add inserts vectors keyed by chunk_id. Existing IDs are replaced via
// lazy deletion: the old graph node is orphaned rather than removed,
// which sidesteps graph repair on delete; orphans are dropped from
// results by the ID mapping.
func (s *VectorIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, v := range vectors {
		if s.dimensions == 0 {
			s.dimensions = len(v)
		}
		if len(v) != s.dimensions {
			return ErrDimensionMismatch{Expected: s.dimensions, Got: len(v)}
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
		normalizeVectorInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
	}
	return nil
}

// Search returns the k nearest chunks, score descending with chunk_id
// tie-break.
func (s *VectorIndex) Search(ctx context.Context, query []float32, k int) ([]VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if s.graph.Len() == 0 {
		return []VectorResult{}, nil
	}
	if s.dimensions != 0 && len(query) != s.dimensions {
		return nil, ErrDimensionMismatch{Expected: s.dimensions, Got: len(query)}
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeVectorInPlace(normalized)

	// Over-fetch: lazily deleted nodes may occupy result slots.
	nodes := s.graph.Search(normalized, overFetch(k))

	results := make([]VectorResult, 0, len(nodes))
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue // orphaned by replacement
		}
		// Cosine distance is 1-cos, so (1+cos)/2 == 1 - distance/2.
		distance := s.graph.Distance(normalized, node.Value)
		score := 1.0 - float64(distance)/2.0
		results = append(results, VectorResult{ChunkID: id, Score: score})
	}

	sortVectorResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete removes vectors by chunk_id (lazy: mapping only).
func (s *VectorIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("vector index is closed")
	}
	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
	}
	return nil
}

// Count returns the number of live vectors.
func (s *VectorIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// Reset drops all vectors and the recorded dimension.
func (s *VectorIndex) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 64
	graph.Ml = 0.25
	s.graph = graph
	s.idMap = make(map[string]uint64)
	s.keyMap = make(map[uint64]string)
	s.nextKey = 0
	s.dimensions = 0
}

// Save persists the graph and ID mappings under dir, temp+rename.
func (s *VectorIndex) Save(dir string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	graphPath := filepath.Join(dir, "vectors.hnsw")
	tmpGraphPath := graphPath + ".tmp"
	file, err := os.Create(tmpGraphPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpGraphPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpGraphPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpGraphPath, graphPath); err != nil {
		os.Remove(tmpGraphPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	return s.saveMetadata(graphPath + ".meta")
}

func (s *VectorIndex) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := vectorMetadata{
		IDMap:      s.idMap,
		NextKey:    s.nextKey,
		Dimensions: s.dimensions,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores the graph and mappings from dir. A missing graph is
// not an error: the index starts empty.
func (s *VectorIndex) Load(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	graphPath := filepath.Join(dir, "vectors.hnsw")
	if _, err := os.Stat(graphPath); os.IsNotExist(err) {
		return nil
	}

	if err := s.loadMetadata(graphPath + ".meta"); err != nil {
		return fmt.Errorf("failed to load vector metadata: %w", err)
	}

	file, err := os.Open(graphPath)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	return nil
}

func (s *VectorIndex) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer file.Close()

	var meta vectorMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode vector metadata: %w", err)
	}

	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	s.dimensions = meta.Dimensions
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close releases resources.
func (s *VectorIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// sortVectorResults orders by score descending, chunk_id ascending on
// ties.
func sortVectorResults(results []VectorResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}
