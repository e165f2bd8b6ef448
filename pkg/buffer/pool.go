// Package buffer implements the Buffer Pool Manager of spec §4.3: a
// bounded in-memory cache of pages with pin/unpin guards, LRU-K(K=2)
// eviction, and WAL-before-page write-back.
//
// Grounded on cobaltdb's CachedPage/BufferPool (pin counts, dirty
// flag, evict-scans-for-unpinned-victim protocol) generalized from a
// single intrusive LRU list to the frame-arena + page-id-map split
// DESIGN NOTES calls for ("Back-references in the buffer pool...
// Implement as indices into an arena of frames plus a page-id ->
// frame-index map; the frame array is the owner, the map is a lookup
// structure only").
package buffer

import (
	"sync"

	"github.com/nainya/corestore/internal/logger"
	"github.com/nainya/corestore/internal/metrics"
	"github.com/nainya/corestore/pkg/disk"
	"github.com/nainya/corestore/pkg/errs"
	"github.com/nainya/corestore/pkg/page"
	"github.com/nainya/corestore/pkg/wal"
)

// Frame pairs a resident page image with its buffer-pool metadata
// (spec §3 "Buffer frame").
type Frame struct {
	mu       sync.Mutex
	page     *page.Page
	pinCount int32
	dirty    bool
}

// Pool is the Buffer Pool Manager.
type Pool struct {
	mu        sync.Mutex
	frames    []*Frame       // arena, owns the frames
	pageTable map[uint64]int // page id -> frame index, lookup only
	freeSlots []int
	replacer  *lruKReplacer

	disk *disk.Manager
	wal  *wal.WAL
	log  *logger.Logger
	m    *metrics.Metrics
}

// New creates a buffer pool of the given capacity (number of frames).
func New(capacity int, diskMgr *disk.Manager, log *wal.WAL, lg *logger.Logger, m *metrics.Metrics) *Pool {
	if lg == nil {
		lg = logger.Nop()
	}
	p := &Pool{
		frames:    make([]*Frame, capacity),
		pageTable: make(map[uint64]int, capacity),
		replacer:  newLRUKReplacer(2),
		disk:      diskMgr,
		wal:       log,
		log:       lg.BufferLogger(),
		m:         m,
	}
	for i := 0; i < capacity; i++ {
		p.frames[i] = &Frame{}
		p.freeSlots = append(p.freeSlots, i)
	}
	return p
}

// Guard is a scoped pin on a frame (spec §9 "Scoped pin guards"): a
// mutating caller calls MarkDirty, which sets the dirty flag and the
// frame's page LSN to the LSN of the mutating WAL record at once; on
// Release, the pin count is decremented.
type Guard struct {
	pool     *Pool
	frameIdx int
	released bool
}

// Page exposes the pinned page for the caller to read or mutate
// in-place. The caller must hold the guard for every byte of access.
func (g *Guard) Page() *page.Page {
	return g.pool.frames[g.frameIdx].page
}

// MarkDirty sets the frame's dirty flag and records the LSN of the WAL
// record that justified the mutation, enforcing the WAL-before-page
// invariant at the point of mutation rather than only at write-back.
func (g *Guard) MarkDirty(lsn uint64) {
	f := g.pool.frames[g.frameIdx]
	f.mu.Lock()
	f.dirty = true
	f.page.LSN = lsn
	f.mu.Unlock()
}

// Release decrements the pin count. Safe to call more than once; only
// the first call has effect.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	g.pool.unpin(g.frameIdx)
}

func (p *Pool) unpin(frameIdx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.frames[frameIdx]
	f.mu.Lock()
	f.pinCount--
	pinned := f.pinCount > 0
	f.mu.Unlock()
	if !pinned {
		p.replacer.SetEvictable(frameIdx, true)
	}
}

// NewPage allocates a fresh page through the disk manager and returns
// it pinned and resident, per spec §4.3 new_page().
func (p *Pool) NewPage(kind page.Kind) (uint64, *Guard, error) {
	id, err := p.disk.Allocate()
	if err != nil {
		return 0, nil, err
	}
	np := page.New(id, kind)

	p.mu.Lock()
	idx, err := p.acquireFrameLocked()
	if err != nil {
		p.mu.Unlock()
		return 0, nil, err
	}
	f := p.frames[idx]
	f.mu.Lock()
	f.page = np
	f.pinCount = 1
	f.dirty = true
	f.mu.Unlock()
	p.pageTable[id] = idx
	p.mu.Unlock()

	p.replacer.RecordAccess(idx)
	p.replacer.SetEvictable(idx, false)

	return id, &Guard{pool: p, frameIdx: idx}, nil
}

// FetchPage returns a pinned frame holding pageID, faulting it in from
// disk if absent, per spec §4.3 fetch_page().
func (p *Pool) FetchPage(pageID uint64) (*Guard, error) {
	p.mu.Lock()
	if idx, ok := p.pageTable[pageID]; ok {
		f := p.frames[idx]
		f.mu.Lock()
		f.pinCount++
		f.mu.Unlock()
		p.mu.Unlock()
		p.replacer.RecordAccess(idx)
		p.replacer.SetEvictable(idx, false)
		if p.m != nil {
			p.m.BufferHits.Inc()
		}
		return &Guard{pool: p, frameIdx: idx}, nil
	}

	idx, err := p.acquireFrameLocked()
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.mu.Unlock()

	pg, err := p.disk.ReadPage(pageID)
	if err != nil {
		p.mu.Lock()
		p.freeSlots = append(p.freeSlots, idx)
		p.mu.Unlock()
		return nil, err
	}
	if p.m != nil {
		p.m.BufferMisses.Inc()
		p.m.TotalReads.Inc()
	}

	p.mu.Lock()
	f := p.frames[idx]
	f.mu.Lock()
	f.page = pg
	f.pinCount = 1
	f.dirty = false
	f.mu.Unlock()
	p.pageTable[pageID] = idx
	p.mu.Unlock()

	p.replacer.RecordAccess(idx)
	p.replacer.SetEvictable(idx, false)

	return &Guard{pool: p, frameIdx: idx}, nil
}

// acquireFrameLocked returns a free or evicted frame index. Caller
// must hold p.mu.
func (p *Pool) acquireFrameLocked() (int, error) {
	if n := len(p.freeSlots); n > 0 {
		idx := p.freeSlots[n-1]
		p.freeSlots = p.freeSlots[:n-1]
		return idx, nil
	}
	idx, ok := p.replacer.Evict()
	if !ok {
		return 0, errs.New(errs.BufferPoolExhausted, "buffer.fetch_page")
	}
	if p.m != nil {
		p.m.BufferEvictions.Inc()
	}
	f := p.frames[idx]
	f.mu.Lock()
	victimPage := f.page
	dirty := f.dirty
	f.mu.Unlock()

	if victimPage != nil {
		delete(p.pageTable, victimPage.ID)
		if dirty {
			// Eviction protocol (spec §4.3): flush WAL through the
			// frame's page LSN before the dirty page may hit disk.
			p.mu.Unlock()
			err := p.flushFrame(idx)
			p.mu.Lock()
			if err != nil {
				return 0, err
			}
		}
	}
	return idx, nil
}

func (p *Pool) flushFrame(idx int) error {
	f := p.frames[idx]
	f.mu.Lock()
	pg := f.page
	dirty := f.dirty
	f.mu.Unlock()
	if pg == nil || !dirty {
		return nil
	}
	if p.wal != nil {
		if err := p.wal.FlushThrough(pg.LSN); err != nil {
			return err
		}
	}
	if err := p.disk.WritePage(pg); err != nil {
		return err
	}
	if p.m != nil {
		p.m.TotalWrites.Inc()
	}
	f.mu.Lock()
	f.dirty = false
	f.mu.Unlock()
	return nil
}

// FlushPage flushes one page if dirty, enforcing WAL-before-page.
func (p *Pool) FlushPage(pageID uint64) error {
	p.mu.Lock()
	idx, ok := p.pageTable[pageID]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return p.flushFrame(idx)
}

// FlushAll flushes every dirty frame, for checkpoint use.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	indices := make([]int, 0, len(p.pageTable))
	for _, idx := range p.pageTable {
		indices = append(indices, idx)
	}
	p.mu.Unlock()
	for _, idx := range indices {
		if err := p.flushFrame(idx); err != nil {
			return err
		}
	}
	return nil
}

// DeletePage retires pageID: if resident, its frame is returned to the
// buffer pool's free slots (only permitted when unpinned and
// non-dirty), and in all cases the id itself is handed back to the
// disk manager's on-disk free list so a later Allocate can recycle it.
// Callers that only want the in-memory frame dropped without
// releasing the id on disk have no use case in this system — every
// caller deletes a page because it is being permanently retired.
func (p *Pool) DeletePage(pageID uint64) error {
	p.mu.Lock()
	idx, ok := p.pageTable[pageID]
	if ok {
		f := p.frames[idx]
		f.mu.Lock()
		pinned := f.pinCount > 0
		dirty := f.dirty
		f.mu.Unlock()
		if pinned || dirty {
			p.mu.Unlock()
			return errs.New(errs.InvalidArgument, "buffer.delete_page")
		}
		delete(p.pageTable, pageID)
		p.replacer.Forget(idx)
		f.mu.Lock()
		f.page = nil
		f.mu.Unlock()
		p.freeSlots = append(p.freeSlots, idx)
	}
	p.mu.Unlock()
	return p.disk.Free(pageID)
}

// Size returns the pool's frame capacity.
func (p *Pool) Size() int { return len(p.frames) }
