package disk

import (
	"path/filepath"
	"testing"

	"github.com/nainya/corestore/pkg/page"
)

func writePages(t *testing.T, b Backend, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		p := page.New(uint64(i), page.KindData)
		copy(p.Payload[:], []byte{byte(i), byte(i + 1), byte(i + 2)})
		if err := b.WritePage(uint64(i), p.Marshal()); err != nil {
			t.Fatalf("write page %d: %v", i, err)
		}
	}
}

func TestSyncBackendReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b, err := NewSyncBackend(filepath.Join(dir, "pages.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	writePages(t, b, 5)
	if err := b.Fsync(); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, page.Size)
	if err := b.ReadPage(3, buf); err != nil {
		t.Fatal(err)
	}
	p, err := page.Unmarshal(buf)
	if err != nil {
		t.Fatal(err)
	}
	if p.Payload[0] != 3 {
		t.Fatalf("got payload[0]=%d, want 3", p.Payload[0])
	}
	if b.PageCount() != 5 {
		t.Fatalf("page count = %d, want 5", b.PageCount())
	}
}

func TestSyncBackendReadOutOfRange(t *testing.T) {
	dir := t.TempDir()
	b, err := NewSyncBackend(filepath.Join(dir, "pages.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	buf := make([]byte, page.Size)
	if err := b.ReadPage(10, buf); err == nil {
		t.Fatal("expected NotFound error for out-of-range read")
	}
}

func TestBackendEquivalence(t *testing.T) {
	dir1, dir2 := t.TempDir(), t.TempDir()
	sb, err := NewSyncBackend(filepath.Join(dir1, "pages.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer sb.Close()
	ab, err := NewAsyncBackend(filepath.Join(dir2, "pages.db"), 4)
	if err != nil {
		t.Fatal(err)
	}
	defer ab.Close()

	ids := []uint64{0, 1, 2, 3, 4, 5, 6, 7}
	bufsSync := make([][]byte, len(ids))
	bufsAsync := make([][]byte, len(ids))
	for i, id := range ids {
		p := page.New(id, page.KindData)
		copy(p.Payload[:], []byte{byte(id * 7)})
		bufsSync[i] = p.Marshal()
		bufsAsync[i] = append([]byte(nil), bufsSync[i]...)
	}

	if err := sb.WritePagesBatch(ids, bufsSync); err != nil {
		t.Fatal(err)
	}
	if err := ab.WritePagesBatch(ids, bufsAsync); err != nil {
		t.Fatal(err)
	}
	if err := sb.Fsync(); err != nil {
		t.Fatal(err)
	}
	if err := ab.Fsync(); err != nil {
		t.Fatal(err)
	}

	readSync := make([][]byte, len(ids))
	readAsync := make([][]byte, len(ids))
	for i := range ids {
		readSync[i] = make([]byte, page.Size)
		readAsync[i] = make([]byte, page.Size)
	}
	if err := sb.ReadPagesBatch(ids, readSync); err != nil {
		t.Fatal(err)
	}
	if err := ab.ReadPagesBatch(ids, readAsync); err != nil {
		t.Fatal(err)
	}
	for i := range ids {
		if string(readSync[i]) != string(readAsync[i]) {
			t.Fatalf("backend divergence at page %d", ids[i])
		}
	}
}

func TestManagerAllocateRecyclesFreedPages(t *testing.T) {
	dir := t.TempDir()
	b, err := NewSyncBackend(filepath.Join(dir, "pages.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	m, err := Open(b, nil)
	if err != nil {
		t.Fatal(err)
	}

	id1, err := m.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	id2, err := m.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if id1 == page.InvalidPageID || id2 == page.InvalidPageID || id1 == id2 {
		t.Fatalf("expected distinct non-zero ids, got %d %d", id1, id2)
	}

	if err := m.Free(id2); err != nil {
		t.Fatal(err)
	}
	id3, err := m.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if id3 != id2 {
		t.Fatalf("expected recycled id %d, got %d", id2, id3)
	}
}
