package vector

import (
	"sync"

	"github.com/nainya/corestore/pkg/errs"
	"github.com/nainya/corestore/pkg/record"
)

// Config holds the vector_* / hnsw.* options of spec §6.
type Config struct {
	Enabled        bool
	Dimension      int
	Metric         Metric
	M              int
	EFConstruction int
	EFSearch       int
}

// Store is the Vector Store + ANN Index of spec §4.5, layered on a
// record.Store for persistence of both vector payloads and graph
// nodes under reserved key prefixes.
type Store struct {
	cfg Config
	rs  *record.Store

	mu    sync.RWMutex
	graph *Graph
}

// Open reconstructs the graph and vector cache from rs's reserved
// namespace (spec §4.6 "On recovery the graph is reconstructed by
// reading these records").
func Open(rs *record.Store, cfg Config) (*Store, error) {
	s := &Store{cfg: cfg, rs: rs, graph: NewGraph(rs, cfg.Metric, cfg.M, cfg.EFConstruction, cfg.EFSearch)}
	if !cfg.Enabled {
		return s, nil
	}

	entries, err := rs.IterateAll()
	if err != nil {
		return nil, err
	}

	maxTop := -1
	for _, e := range entries {
		prefix, userKey, err := decodeNamespacedKey(e.Key)
		if err != nil {
			continue
		}
		switch prefix {
		case prefixVectorData:
			vec, err := decodeVector(e.Value)
			if err != nil {
				continue
			}
			s.graph.vectors[string(userKey)] = vec
		case prefixGraphNode:
			node, err := decodeNode(userKey, e.Value)
			if err != nil {
				continue
			}
			s.graph.nodes[string(node.Key)] = node
			if node.TopLevel > maxTop {
				maxTop = node.TopLevel
				s.graph.entryPoint = string(node.Key)
				s.graph.topLevel = node.TopLevel
			}
		}
	}
	return s, nil
}

// EntryPoint reports the graph's current entry point key and global
// top level, for the manifest to persist at checkpoint/shutdown.
func (s *Store) EntryPoint() ([]byte, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return []byte(s.graph.entryPoint), s.graph.topLevel
}

// SetEntryPoint overrides the heuristically-reconstructed entry point
// with the manifest's authoritative record (spec §4.5 "the manifest
// records the entry point's key and top level"). Call after Open,
// before the store takes traffic.
func (s *Store) SetEntryPoint(key []byte, topLevel int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graph.nodes[string(key)]; !ok {
		return
	}
	s.graph.entryPoint = string(key)
	s.graph.topLevel = topLevel
}

// PutVector validates and persists a vector, inserting it into the
// proximity graph.
func (s *Store) PutVector(key []byte, vec []float32) error {
	if !s.cfg.Enabled {
		return errs.New(errs.Unimplemented, "vector.put_vector")
	}
	if len(key) == 0 {
		return errs.New(errs.InvalidArgument, "vector.put_vector")
	}
	if len(vec) != s.cfg.Dimension {
		return errs.New(errs.InvalidArgument, "vector.put_vector").WithKey(key)
	}

	stored := append([]float32(nil), vec...)
	if s.cfg.Metric == Cosine {
		Normalize(stored)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rs.Put(vectorDataKey(key), encodeVector(stored)); err != nil {
		return err
	}
	touched, err := s.graph.Insert(key, stored)
	if err != nil {
		return err
	}
	for _, n := range touched {
		if err := s.rs.Put(graphNodeKey(n.Key), encodeNode(n)); err != nil {
			return err
		}
	}
	return nil
}

// GetVector returns the stored (possibly normalized, per metric)
// components for key, or errs.NotFound if absent.
func (s *Store) GetVector(key []byte) ([]float32, error) {
	if !s.cfg.Enabled {
		return nil, errs.New(errs.Unimplemented, "vector.get_vector")
	}
	raw, err := s.rs.Get(vectorDataKey(key))
	if err != nil {
		return nil, err
	}
	return decodeVector(raw)
}

// Vectors enumerates every stored vector, keyed by its original user
// key (spec §6 get_all_vectors). Scans only the reserved vector-data
// namespace of the shared record.Store keyspace, not the whole
// keyspace, so plain KV entries never leak in and are never mistaken
// for vectors.
func (s *Store) Vectors() (map[string][]float32, error) {
	if !s.cfg.Enabled {
		return nil, errs.New(errs.Unimplemented, "vector.get_all_vectors")
	}
	start, end := vectorDataKeyBounds()
	entries, err := s.rs.Scan(start, end, 0, false)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]float32, len(entries))
	for _, ent := range entries {
		key, err := decodeVectorDataKey(ent.Key)
		if err != nil {
			return nil, err
		}
		vec, err := decodeVector(ent.Value)
		if err != nil {
			return nil, err
		}
		out[string(key)] = vec
	}
	return out, nil
}

// Match is one result of SearchSimilar: a stored key and its distance
// to the query vector under the configured metric.
type Match struct {
	Key      []byte
	Distance float32
}

// SearchSimilar returns the k closest stored vectors to query, in
// ascending distance order (spec §4.5).
func (s *Store) SearchSimilar(query []float32, k int) ([]Match, error) {
	if !s.cfg.Enabled {
		return nil, errs.New(errs.Unimplemented, "vector.search_similar")
	}
	if len(query) != s.cfg.Dimension {
		return nil, errs.New(errs.InvalidArgument, "vector.search_similar")
	}
	if k <= 0 {
		return nil, nil
	}

	q := append([]float32(nil), query...)
	if s.cfg.Metric == Cosine {
		Normalize(q)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results, err := s.graph.Search(q, k, s.cfg.EFSearch)
	if err != nil {
		return nil, err
	}
	out := make([]Match, len(results))
	for i, r := range results {
		out[i] = Match{Key: []byte(r.key), Distance: r.dist}
	}
	return out, nil
}

// Stats is the snapshot returned by get_vector_stats (spec §6).
type Stats struct {
	IndexEnabled          bool
	NumVectors            int
	Dimension             int
	Metric                string
	NumLayers             int
	AvgConnectionsPerNode float64
}

// Stats reports a point-in-time snapshot of the index's shape.
func (s *Store) Stats() Stats {
	st := Stats{IndexEnabled: s.cfg.Enabled, Dimension: s.cfg.Dimension, Metric: s.cfg.Metric.String()}
	if !s.cfg.Enabled {
		return st
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	st.NumVectors = len(s.graph.vectors)
	st.NumLayers = s.graph.topLevel + 1

	totalEdges, totalLevels := 0, 0
	for _, n := range s.graph.nodes {
		for _, level := range n.Neighbors {
			totalEdges += len(level)
			totalLevels++
		}
	}
	if totalLevels > 0 {
		st.AvgConnectionsPerNode = float64(totalEdges) / float64(totalLevels)
	}
	return st
}
