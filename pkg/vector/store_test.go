package vector

import (
	"path/filepath"
	"testing"

	"github.com/nainya/corestore/pkg/buffer"
	"github.com/nainya/corestore/pkg/disk"
	"github.com/nainya/corestore/pkg/page"
	"github.com/nainya/corestore/pkg/record"
	"github.com/nainya/corestore/pkg/wal"
)

func newTestRecordStore(t *testing.T) *record.Store {
	t.Helper()
	dir := t.TempDir()
	b, err := disk.NewSyncBackend(filepath.Join(dir, "pages.db"))
	if err != nil {
		t.Fatal(err)
	}
	dm, err := disk.Open(b, nil)
	if err != nil {
		t.Fatal(err)
	}
	w, err := wal.Open(filepath.Join(dir, "wal"), wal.SyncEveryWrite, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	pool := buffer.New(64, dm, w, nil, nil)
	rs, err := record.Open(pool, w, page.InvalidPageID, record.SyncOnCommit)
	if err != nil {
		t.Fatal(err)
	}
	return rs
}

func testConfig() Config {
	return Config{Enabled: true, Dimension: 4, Metric: Euclidean, M: 8, EFConstruction: 32, EFSearch: 16}
}

func TestVectorSelfMatch(t *testing.T) {
	rs := newTestRecordStore(t)
	s, err := Open(rs, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PutVector([]byte("a"), []float32{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutVector([]byte("b"), []float32{5, 6, 7, 8}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutVector([]byte("c"), []float32{9, 10, 11, 12}); err != nil {
		t.Fatal(err)
	}

	results, err := s.SearchSimilar([]float32{1, 2, 3, 4}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || string(results[0].Key) != "a" || results[0].Distance != 0 {
		t.Fatalf("expected exact self-match, got %+v", results)
	}

	results, err = s.SearchSimilar([]float32{1, 2, 3, 4}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	wantOrder := []string{"a", "b", "c"}
	for i, r := range results {
		if string(r.Key) != wantOrder[i] {
			t.Fatalf("result %d: got %q, want %q", i, r.Key, wantOrder[i])
		}
		if i > 0 && r.Distance <= results[i-1].Distance {
			t.Fatalf("distances not strictly ascending at %d", i)
		}
	}
}

func TestDimensionMismatchRejected(t *testing.T) {
	rs := newTestRecordStore(t)
	s, err := Open(rs, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PutVector([]byte("x"), []float32{1, 2, 3}); err == nil {
		t.Fatal("expected InvalidArgument for dimension mismatch")
	}
	if _, err := s.GetVector([]byte("x")); err == nil {
		t.Fatal("expected not found, vector was never stored")
	}
}

func TestVectorOpsUnimplementedWhenDisabled(t *testing.T) {
	rs := newTestRecordStore(t)
	cfg := testConfig()
	cfg.Enabled = false
	s, err := Open(rs, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PutVector([]byte("x"), []float32{1, 2, 3, 4}); err == nil {
		t.Fatal("expected Unimplemented when index disabled")
	}
}

func TestGraphInvariantsAfterManyInserts(t *testing.T) {
	rs := newTestRecordStore(t)
	cfg := testConfig()
	cfg.M = 4
	s, err := Open(rs, cfg)
	if err != nil {
		t.Fatal(err)
	}

	n := 200
	for i := 0; i < n; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		vec := []float32{float32(i), float32(i % 7), float32(i % 13), float32(i % 3)}
		if err := s.PutVector(key, vec); err != nil {
			t.Fatal(err)
		}
	}

	g := s.graph
	for _, node := range g.nodes {
		for level, neighbors := range node.Neighbors {
			if len(neighbors) > g.maxConnections(level) {
				t.Fatalf("node exceeds max_connections(%d): %d > %d", level, len(neighbors), g.maxConnections(level))
			}
			for _, nb := range neighbors {
				other := g.nodes[string(nb)]
				if other == nil {
					t.Fatalf("neighbor %v missing from graph", nb)
				}
				if level > other.TopLevel {
					t.Fatalf("edge to neighbor at level %d exceeds its top level %d", level, other.TopLevel)
				}
			}
		}
		if node.TopLevel > g.topLevel {
			t.Fatalf("node top level %d exceeds global top level %d", node.TopLevel, g.topLevel)
		}
	}
	if g.nodes[g.entryPoint].TopLevel != g.topLevel {
		t.Fatalf("entry point top level mismatch")
	}

	stats := s.Stats()
	if stats.NumVectors != n {
		t.Fatalf("expected %d vectors in stats, got %d", n, stats.NumVectors)
	}
}

// Vectors must scan only the vector-data namespace, recovering the
// original user key for each entry even when the record store also
// holds plain KV pairs sharing the same underlying keyspace.
func TestVectorsSkipsPlainKVEntries(t *testing.T) {
	rs := newTestRecordStore(t)
	s, err := Open(rs, testConfig())
	if err != nil {
		t.Fatal(err)
	}

	if err := rs.Put([]byte("plain:a"), []byte("unrelated")); err != nil {
		t.Fatal(err)
	}
	want := map[string][]float32{
		"x": {1, 0, 0, 0},
		"y": {0, 1, 0, 0},
	}
	for k, v := range want {
		if err := s.PutVector([]byte(k), v); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Vectors()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d vectors, want %d: %v", len(got), len(want), got)
	}
	for k, v := range want {
		gv, ok := got[k]
		if !ok {
			t.Fatalf("missing key %q in result", k)
		}
		for i := range v {
			if gv[i] != v[i] {
				t.Fatalf("vector %q component %d = %v, want %v", k, i, gv[i], v[i])
			}
		}
	}
}
