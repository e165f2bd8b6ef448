package disk

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/nainya/corestore/internal/logger"
	"github.com/nainya/corestore/pkg/errs"
	"github.com/nainya/corestore/pkg/page"
)

// freeListCap is the number of freed page ids one free-list node can
// hold, mirroring the teacher's unrolled-linked-list free list
// (pkg/storage/freelist.go LNode), generalized from a 4096/8 ptr array
// to the corestore page payload size.
const freeListCap = (page.PayloadSize - 16) / 8

// Manager is the Disk Manager of spec §4.1: allocation, recycling, and
// read/write/fsync delegated to a Backend (sync or async).
type Manager struct {
	backend Backend
	log     *logger.Logger

	mu       sync.Mutex
	nextID   atomic.Uint64
	freeHead uint64 // page id of the head free-list node, 0 if empty
}

// Open wraps backend as a Manager. Page id 0 is reserved invalid, so
// the manager always ensures at least one page (id 0, unused padding)
// exists before handing out id 1 on the very first Allocate.
func Open(backend Backend, log *logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.Nop()
	}
	m := &Manager{backend: backend, log: log}
	count := backend.PageCount()
	if count == 0 {
		zero := page.New(0, page.KindInvalid)
		if err := backend.WritePage(0, zero.Marshal()); err != nil {
			return nil, err
		}
		count = 1
	}
	m.nextID.Store(count)
	return m, nil
}

// SetNextID overrides the allocation counter, used by the manifest on
// recovery to restore "next page id to allocate".
func (m *Manager) SetNextID(next uint64) { m.nextID.Store(next) }

// NextID returns the next id that would be handed out by Allocate,
// informational for manifest persistence.
func (m *Manager) NextID() uint64 { return m.nextID.Load() }

// SetFreeListHead restores the persisted free-list head on recovery.
func (m *Manager) SetFreeListHead(id uint64) {
	m.mu.Lock()
	m.freeHead = id
	m.mu.Unlock()
}

// FreeListHead returns the current free-list head page id.
func (m *Manager) FreeListHead() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freeHead
}

// Allocate returns a fresh page id. It first tries to recycle a page
// off the free list; otherwise it extends the file with monotonically
// increasing ids, matching the "never reuse an id within a lifetime"
// invariant for newly-extended ids (a recycled id is, by definition,
// handed back rather than new, which SPEC_FULL.md resolves as
// acceptable reuse of storage and id together).
func (m *Manager) Allocate() (uint64, error) {
	if id, ok, err := m.popFree(); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}
	id := m.nextID.Add(1) - 1
	zero := page.New(id, page.KindInvalid)
	if err := m.backend.WritePage(id, zero.Marshal()); err != nil {
		return 0, err
	}
	return id, nil
}

// Free returns a page id to the free list for future recycling.
func (m *Manager) Free(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushFreeLocked(id)
}

// popFree pops one id off the free list, or returns ok=false if empty.
func (m *Manager) popFree() (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.freeHead == page.InvalidPageID {
		return 0, false, nil
	}
	buf := make([]byte, page.Size)
	if err := m.backend.ReadPage(m.freeHead, buf); err != nil {
		return 0, false, err
	}
	node, err := page.Unmarshal(buf)
	if err != nil {
		return 0, false, err
	}
	count := binary.LittleEndian.Uint64(node.Payload[0:8])
	next := binary.LittleEndian.Uint64(node.Payload[8:16])
	if count == 0 {
		// Empty node: recycle the node page itself and move on.
		nodeID := m.freeHead
		m.freeHead = next
		return nodeID, true, nil
	}
	idx := count - 1
	off := 16 + idx*8
	id := binary.LittleEndian.Uint64(node.Payload[off : off+8])
	binary.LittleEndian.PutUint64(node.Payload[0:8], idx)
	if err := m.backend.WritePage(m.freeHead, node.Marshal()); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (m *Manager) pushFreeLocked(id uint64) error {
	if m.freeHead != page.InvalidPageID {
		buf := make([]byte, page.Size)
		if err := m.backend.ReadPage(m.freeHead, buf); err == nil {
			node, uerr := page.Unmarshal(buf)
			if uerr == nil {
				count := binary.LittleEndian.Uint64(node.Payload[0:8])
				if count < freeListCap {
					off := 16 + count*8
					binary.LittleEndian.PutUint64(node.Payload[off:off+8], id)
					binary.LittleEndian.PutUint64(node.Payload[0:8], count+1)
					return m.backend.WritePage(m.freeHead, node.Marshal())
				}
			}
		}
	}
	// Need a fresh node: id itself becomes the new head, pointing at
	// the old head, holding zero entries.
	node := page.New(id, page.KindFreeList)
	binary.LittleEndian.PutUint64(node.Payload[0:8], 0)
	binary.LittleEndian.PutUint64(node.Payload[8:16], m.freeHead)
	if err := m.backend.WritePage(id, node.Marshal()); err != nil {
		return err
	}
	m.freeHead = id
	return nil
}

// ReadPage reads exactly one page.
func (m *Manager) ReadPage(id uint64) (*page.Page, error) {
	if id == page.InvalidPageID {
		return nil, errs.New(errs.InvalidArgument, "disk.read_page")
	}
	buf := make([]byte, page.Size)
	if err := m.backend.ReadPage(id, buf); err != nil {
		return nil, err
	}
	return page.Unmarshal(buf)
}

// WritePage writes exactly one page. Caller must have already ensured
// page.LSN <= durable_lsn (WAL-before-page rule, enforced by the
// buffer pool, not re-checked here).
func (m *Manager) WritePage(p *page.Page) error {
	return m.backend.WritePage(p.ID, p.Marshal())
}

// ReadPagesBatch reads a batch of pages in input order.
func (m *Manager) ReadPagesBatch(ids []uint64) ([]*page.Page, error) {
	bufs := make([][]byte, len(ids))
	for i := range bufs {
		bufs[i] = make([]byte, page.Size)
	}
	if err := m.backend.ReadPagesBatch(ids, bufs); err != nil {
		return nil, err
	}
	out := make([]*page.Page, len(ids))
	for i, buf := range bufs {
		p, err := page.Unmarshal(buf)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// WritePagesBatch writes a batch of pages.
func (m *Manager) WritePagesBatch(pages []*page.Page) error {
	ids := make([]uint64, len(pages))
	bufs := make([][]byte, len(pages))
	for i, p := range pages {
		ids[i] = p.ID
		bufs[i] = p.Marshal()
	}
	return m.backend.WritePagesBatch(ids, bufs)
}

// Fsync forces all previously issued writes to stable storage.
func (m *Manager) Fsync() error { return m.backend.Fsync() }

// PageCount reports the current size of the page file, in pages.
func (m *Manager) PageCount() uint64 { return m.backend.PageCount() }

// Close closes the underlying backend.
func (m *Manager) Close() error { return m.backend.Close() }
