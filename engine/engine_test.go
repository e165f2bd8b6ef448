package engine_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/nainya/corestore/engine"
	"github.com/nainya/corestore/pkg/vector"
	"github.com/nainya/corestore/pkg/wal"
)

func openTest(t *testing.T, root string) *engine.Engine {
	t.Helper()
	e, err := engine.Open(engine.Config{
		RootDir:        root,
		BufferPoolSize: 32,
		WALSyncMode:    wal.SyncEveryWrite,
	}, engine.Dependencies{})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

// Scenario 1: Recovery after Put.
func TestRecoveryAfterPut(t *testing.T) {
	root := t.TempDir()

	e := openTest(t, root)
	if err := e.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	// Simulate a crash: skip the orderly Close, which would otherwise
	// flush and write a manifest we want recovery to reconstruct from
	// the WAL instead.

	e2 := openTest(t, root)
	defer e2.Close()
	val, err := e2.Get([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(val) != "v1" {
		t.Fatalf("got %q", val)
	}
}

// Scenario 2: Tombstone persistence.
func TestTombstonePersistence(t *testing.T) {
	root := t.TempDir()

	e := openTest(t, root)
	if err := e.Put([]byte("x"), []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := e.Delete([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	e2 := openTest(t, root)
	if _, err := e2.Get([]byte("x")); err == nil {
		t.Fatal("expected x to stay deleted after reopen")
	}
	if err := e2.Put([]byte("x"), []byte("b")); err != nil {
		t.Fatal(err)
	}
	val, err := e2.Get([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if string(val) != "b" {
		t.Fatalf("got %q", val)
	}
	e2.Close()
}

// Scenario 3: Ordered scan with limit.
func TestOrderedScanWithLimit(t *testing.T) {
	root := t.TempDir()
	e := openTest(t, root)
	defer e.Close()

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key_%03d", i)
		val := fmt.Sprintf("value%d", i)
		if err := e.Put([]byte(key), []byte(val)); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := e.Scan([]byte("key_010"), []byte("key_020"), engine.ScanOptions{Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	for i, ent := range entries {
		want := fmt.Sprintf("key_%03d", 10+i)
		if string(ent.Key) != want {
			t.Fatalf("entry %d: got key %q, want %q", i, ent.Key, want)
		}
	}

	rev, err := e.Scan([]byte("key_010"), []byte("key_020"), engine.ScanOptions{Limit: 5, Reverse: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(rev) != 5 {
		t.Fatalf("expected 5 reverse entries, got %d", len(rev))
	}
	for i, ent := range rev {
		want := fmt.Sprintf("key_%03d", 19-i)
		if string(ent.Key) != want {
			t.Fatalf("reverse entry %d: got key %q, want %q", i, ent.Key, want)
		}
	}
}

// Scenario 4: Batch atomicity.
func TestBatchAtomicity(t *testing.T) {
	root := t.TempDir()
	e := openTest(t, root)
	defer e.Close()

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key_%d", i)
		val := fmt.Sprintf("original_%d", i)
		if err := e.Put([]byte(key), []byte(val)); err != nil {
			t.Fatal(err)
		}
	}

	var ops []engine.Op
	for i := 0; i < 25; i++ {
		ops = append(ops, engine.Op{Key: []byte(fmt.Sprintf("key_%d", i)), Value: []byte(fmt.Sprintf("updated_%d", i))})
	}
	for i := 25; i < 50; i++ {
		ops = append(ops, engine.Op{Delete: true, Key: []byte(fmt.Sprintf("key_%d", i))})
	}
	for i := 50; i < 100; i++ {
		ops = append(ops, engine.Op{Key: []byte(fmt.Sprintf("key_%d", i)), Value: []byte(fmt.Sprintf("new_%d", i))})
	}
	if err := e.BatchWrite(ops); err != nil {
		t.Fatal(err)
	}

	v10, err := e.Get([]byte("key_10"))
	if err != nil || string(v10) != "updated_10" {
		t.Fatalf("key_10 = %q, %v", v10, err)
	}
	if _, err := e.Get([]byte("key_30")); err == nil {
		t.Fatal("expected key_30 to be deleted")
	}
	v75, err := e.Get([]byte("key_75"))
	if err != nil || string(v75) != "new_75" {
		t.Fatalf("key_75 = %q, %v", v75, err)
	}
}

// Scenario 5: Vector self-match, through the Engine façade.
func TestVectorSelfMatchThroughEngine(t *testing.T) {
	root := t.TempDir()
	e, err := engine.Open(engine.Config{
		RootDir:           root,
		BufferPoolSize:    32,
		WALSyncMode:       wal.SyncEveryWrite,
		EnableVectorIndex: true,
		VectorDimension:   4,
		VectorMetric:      vector.Euclidean,
		HNSW:              engine.HNSWConfig{M: 8, EFConstruction: 32, EFSearch: 16},
	}, engine.Dependencies{})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if err := e.PutVector([]byte("a"), []float32{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := e.PutVector([]byte("b"), []float32{5, 6, 7, 8}); err != nil {
		t.Fatal(err)
	}
	if err := e.PutVector([]byte("c"), []float32{9, 10, 11, 12}); err != nil {
		t.Fatal(err)
	}

	top1, err := e.SearchSimilar([]float32{1, 2, 3, 4}, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(top1) != 1 || string(top1[0].Key) != "a" || top1[0].Distance != 0 {
		t.Fatalf("unexpected top1: %+v", top1)
	}
}

// Empty key is InvalidArgument.
func TestEmptyKeyRejected(t *testing.T) {
	root := t.TempDir()
	e := openTest(t, root)
	defer e.Close()

	if err := e.Put(nil, []byte("v")); err == nil {
		t.Fatal("expected InvalidArgument for empty key")
	}
}

// Buffer pool of size 1 still suffices for correctness.
func TestSingleFrameBufferPool(t *testing.T) {
	root := t.TempDir()
	e, err := engine.Open(engine.Config{
		RootDir:        root,
		BufferPoolSize: 1,
		WALSyncMode:    wal.SyncEveryWrite,
	}, engine.Dependencies{})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("k%d", i)
		if err := e.Put([]byte(key), []byte("v")); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	val, err := e.Get([]byte("k5"))
	if err != nil || string(val) != "v" {
		t.Fatalf("k5 = %q, %v", val, err)
	}
}

func TestDataAndWALDirsDefaultUnderRoot(t *testing.T) {
	root := t.TempDir()
	e := openTest(t, root)
	defer e.Close()

	if err := e.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	for _, sub := range []string{"data", "wal"} {
		if _, err := os.Stat(filepath.Join(root, sub)); err != nil {
			t.Fatalf("expected %s directory to exist: %v", sub, err)
		}
	}
}

func TestGetAllEntries(t *testing.T) {
	root := t.TempDir()
	e := openTest(t, root)
	defer e.Close()

	want := map[string]string{"a": "1", "b": "2", "c": "3"}
	for k, v := range want {
		if err := e.Put([]byte(k), []byte(v)); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.Delete([]byte("b")); err != nil {
		t.Fatal(err)
	}
	delete(want, "b")

	entries, err := e.GetAllEntries()
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]string{}
	for _, ent := range entries {
		got[string(ent.Key)] = string(ent.Value)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d: %v", len(got), len(want), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("entry %q = %q, want %q", k, got[k], v)
		}
	}
}

func TestGetAllVectors(t *testing.T) {
	root := t.TempDir()
	e, err := engine.Open(engine.Config{
		RootDir:           root,
		BufferPoolSize:    32,
		WALSyncMode:       wal.SyncEveryWrite,
		EnableVectorIndex: true,
		VectorDimension:   3,
		VectorMetric:      vector.Euclidean,
		HNSW:              engine.HNSWConfig{M: 8, EFConstruction: 32, EFSearch: 16},
	}, engine.Dependencies{})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if err := e.PutVector([]byte("x"), []float32{1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := e.PutVector([]byte("y"), []float32{0, 1, 0}); err != nil {
		t.Fatal(err)
	}

	all, err := e.GetAllVectors()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 vectors, got %d: %v", len(all), all)
	}
	if all["x"][0] != 1 {
		t.Fatalf("unexpected vector for x: %v", all["x"])
	}
}

func TestGetAllVectorsDisabledIsUnimplemented(t *testing.T) {
	root := t.TempDir()
	e := openTest(t, root)
	defer e.Close()

	if _, err := e.GetAllVectors(); err == nil {
		t.Fatal("expected an error when the vector index is disabled")
	}
}

// Checkpoint flushes, persists the manifest, and truncates the WAL
// without losing any previously committed data.
func TestCheckpointPreservesData(t *testing.T) {
	root := t.TempDir()
	e := openTest(t, root)
	defer e.Close()

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("ckpt_%d", i)
		if err := e.Put([]byte(key), []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.Checkpoint(); err != nil {
		t.Fatal(err)
	}
	if err := e.Put([]byte("after_checkpoint"), []byte("v")); err != nil {
		t.Fatal(err)
	}

	val, err := e.Get([]byte("ckpt_5"))
	if err != nil || string(val) != "v" {
		t.Fatalf("ckpt_5 = %q, %v", val, err)
	}
	val, err = e.Get([]byte("after_checkpoint"))
	if err != nil || string(val) != "v" {
		t.Fatalf("after_checkpoint = %q, %v", val, err)
	}
}

func TestCheckpointAfterCloseFails(t *testing.T) {
	root := t.TempDir()
	e := openTest(t, root)
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if err := e.Checkpoint(); err == nil {
		t.Fatal("expected Checkpoint to fail on a closed Engine")
	}
}
