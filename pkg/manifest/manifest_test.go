package manifest

import "testing"

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{NextPageID: 42, FreeListHead: 5, RecordHead: 7, DurableLSN: 1000, VectorEntryPoint: []byte("node-9"), VectorTopLevel: 3}
	if err := Write(dir, m); err != nil {
		t.Fatal(err)
	}
	got, err := Read(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got.NextPageID != m.NextPageID || got.FreeListHead != m.FreeListHead || got.RecordHead != m.RecordHead || got.DurableLSN != m.DurableLSN || got.VectorTopLevel != m.VectorTopLevel {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if string(got.VectorEntryPoint) != string(m.VectorEntryPoint) {
		t.Fatalf("entry point mismatch: %q", got.VectorEntryPoint)
	}
}

func TestReadMissingManifestReturnsZeroValue(t *testing.T) {
	dir := t.TempDir()
	m, err := Read(dir)
	if err != nil {
		t.Fatal(err)
	}
	if m.NextPageID != 0 || m.DurableLSN != 0 {
		t.Fatalf("expected zero-value manifest, got %+v", m)
	}
}

func TestWriteOverwritesExistingManifest(t *testing.T) {
	dir := t.TempDir()
	if err := Write(dir, &Manifest{NextPageID: 1}); err != nil {
		t.Fatal(err)
	}
	if err := Write(dir, &Manifest{NextPageID: 2}); err != nil {
		t.Fatal(err)
	}
	got, err := Read(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got.NextPageID != 2 {
		t.Fatalf("expected latest manifest to win, got %d", got.NextPageID)
	}
}
