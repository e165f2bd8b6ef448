package buffer

import (
	"path/filepath"
	"testing"

	"github.com/nainya/corestore/pkg/disk"
	"github.com/nainya/corestore/pkg/page"
)

func newTestPool(t *testing.T, capacity int) *Pool {
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
	return New(capacity, dm, nil, nil, nil)
}

func TestNewPageThenFetchPage(t *testing.T) {
	p := newTestPool(t, 4)
	id, g, err := p.NewPage(page.KindData)
	if err != nil {
		t.Fatal(err)
	}
	copy(g.Page().Payload[:], []byte("hi"))
	g.MarkDirty(1)
	g.Release()

	if err := p.FlushPage(id); err != nil {
		t.Fatal(err)
	}

	g2, err := p.FetchPage(id)
	if err != nil {
		t.Fatal(err)
	}
	defer g2.Release()
	if string(g2.Page().Payload[:2]) != "hi" {
		t.Fatalf("payload mismatch: %q", g2.Page().Payload[:2])
	}
}

func TestBufferPoolExhaustedWhenAllPinned(t *testing.T) {
	p := newTestPool(t, 2)
	_, g1, err := p.NewPage(page.KindData)
	if err != nil {
		t.Fatal(err)
	}
	_, g2, err := p.NewPage(page.KindData)
	if err != nil {
		t.Fatal(err)
	}
	defer g1.Release()
	defer g2.Release()

	if _, _, err := p.NewPage(page.KindData); err == nil {
		t.Fatal("expected BufferPoolExhausted")
	}
}

func TestPoolSizeOneSucceeds(t *testing.T) {
	p := newTestPool(t, 1)
	id1, g1, err := p.NewPage(page.KindData)
	if err != nil {
		t.Fatal(err)
	}
	g1.MarkDirty(1)
	g1.Release()

	id2, g2, err := p.NewPage(page.KindData)
	if err != nil {
		t.Fatal(err)
	}
	g2.MarkDirty(1)
	g2.Release()

	if id1 == id2 {
		t.Fatal("expected distinct page ids")
	}

	g3, err := p.FetchPage(id1)
	if err != nil {
		t.Fatal(err)
	}
	g3.Release()
}

func TestEvictionPrefersFramesWithFewerReferences(t *testing.T) {
	p := newTestPool(t, 2)
	id1, g1, _ := p.NewPage(page.KindData)
	g1.MarkDirty(1)
	g1.Release()
	id2, g2, _ := p.NewPage(page.KindData)
	g2.MarkDirty(1)
	g2.Release()

	// Reference id1 twice more so it has full k=2 history with a very
	// recent access; id2 still has only its original reference.
	gg, _ := p.FetchPage(id1)
	gg.Release()
	gg, _ = p.FetchPage(id1)
	gg.Release()

	// A third page forces an eviction; id2 (fewer references) should
	// be the victim, leaving id1 resident.
	id3, g3, err := p.NewPage(page.KindData)
	if err != nil {
		t.Fatal(err)
	}
	g3.MarkDirty(1)
	g3.Release()

	if _, ok := p.pageTable[id2]; ok {
		t.Fatalf("expected id2 to be evicted")
	}
	if _, ok := p.pageTable[id1]; !ok {
		t.Fatalf("expected id1 to remain resident")
	}
	_ = id3
}
