package record

import (
	"sync"

	"github.com/nainya/corestore/pkg/buffer"
	"github.com/nainya/corestore/pkg/errs"
	"github.com/nainya/corestore/pkg/page"
	"github.com/nainya/corestore/pkg/wal"
)

// SyncPolicy controls whether a mutating call blocks until its
// commit record is durable before returning, mirroring wal_sync_mode
// (spec §6) at the record-store boundary.
type SyncPolicy int

const (
	// SyncOnCommit blocks Put/Delete until the commit record is fsynced.
	SyncOnCommit SyncPolicy = iota
	// SyncDeferred returns once the record is appended, leaving
	// durability to the WAL's periodic flusher or a later explicit flush.
	SyncDeferred
)

// Store is the Record Store of spec §4.4: Put/Get/Delete/Scan over a
// sorted chain of slotted leaf pages, rooted at Head.
type Store struct {
	pool   *buffer.Pool
	log    *wal.WAL
	policy SyncPolicy

	mu   sync.RWMutex // serializes structural mutation (insert/split/delete)
	Head uint64
}

// Open attaches a Store to an existing head page, or creates a fresh
// empty leaf and uses it as the head when head == page.InvalidPageID.
func Open(pool *buffer.Pool, log *wal.WAL, head uint64, policy SyncPolicy) (*Store, error) {
	s := &Store{pool: pool, log: log, policy: policy}
	if head != page.InvalidPageID {
		s.Head = head
		return s, nil
	}
	id, g, err := pool.NewPage(page.KindData)
	if err != nil {
		return nil, err
	}
	newLeaf(g.Page())
	g.MarkDirty(0)
	g.Release()
	s.Head = id
	return s, nil
}

// Entry is one live key/value pair as surfaced by Scan/IterateAll.
type Entry struct {
	Key   []byte
	Value []byte
}

type buildEntry struct {
	key          []byte
	tombstone    bool
	inline       []byte
	overflow     bool
	overflowHead uint64
	totalLen     uint32
}

func (e buildEntry) size() int {
	if e.overflow {
		return encodedOverflowSize(e.key)
	}
	return encodedInlineSize(e.key, e.inline)
}

func toBuildEntry(rv recordView) buildEntry {
	return buildEntry{
		key: rv.key, tombstone: rv.tombstone, inline: rv.inline,
		overflow: rv.overflow, overflowHead: rv.overflowHead, totalLen: rv.totalLen,
	}
}

func maxInlineCapacity() int {
	return page.PayloadSize - leafHeaderSize - slotSize
}

// findLeaf walks the sorted leaf chain from Head, returning the id of
// the leaf whose range contains key.
func (s *Store) findLeaf(key []byte) (uint64, error) {
	cur := s.Head
	for {
		g, err := s.pool.FetchPage(cur)
		if err != nil {
			return 0, err
		}
		l := wrapLeaf(g.Page())
		next := l.nextLeaf()
		if next == page.InvalidPageID {
			g.Release()
			return cur, nil
		}
		ng, err := s.pool.FetchPage(next)
		if err != nil {
			g.Release()
			return 0, err
		}
		nextFirst := wrapLeaf(ng.Page()).firstKey()
		g.Release()
		if nextFirst == nil || cmp(nextFirst, key) > 0 {
			ng.Release()
			return cur, nil
		}
		ng.Release()
		cur = next
	}
}

// Put inserts or overwrites key with val, as one atomic WAL transaction.
func (s *Store) Put(key, val []byte) error {
	if len(key) == 0 {
		return errs.New(errs.InvalidArgument, "record.put")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	writes, err := s.preparePut(key, val)
	if err != nil {
		return err
	}
	return s.commit(writes)
}

// preparePut builds the pending WAL writes for one Put, without
// appending or committing them, so BatchWrite can fold several ops
// into a single WAL transaction (spec §6 batch_write).
func (s *Store) preparePut(key, val []byte) ([]walWrite, error) {
	leafID, err := s.findLeaf(key)
	if err != nil {
		return nil, err
	}
	g, err := s.pool.FetchPage(leafID)
	if err != nil {
		return nil, err
	}
	l := wrapLeaf(g.Page())
	entries := l.all()
	built := make([]buildEntry, 0, len(entries)+1)

	var pendingOverflow []walWrite
	newEntry := buildEntry{key: key, inline: val}
	if encodedInlineSize(key, val) > maxInlineCapacity() {
		head, pw, err := writeOverflowChain(s.pool, val)
		if err != nil {
			g.Release()
			return nil, err
		}
		pendingOverflow = pw
		newEntry = buildEntry{key: key, overflow: true, overflowHead: head, totalLen: uint32(len(val))}
	}

	inserted := false
	var oldOverflowToFree uint64
	for _, rv := range entries {
		c := cmp(rv.key, key)
		if c == 0 {
			if rv.overflow {
				oldOverflowToFree = rv.overflowHead
			}
			built = append(built, newEntry)
			inserted = true
			continue
		}
		if c > 0 && !inserted {
			built = append(built, newEntry)
			inserted = true
		}
		built = append(built, toBuildEntry(rv))
	}
	if !inserted {
		built = append(built, newEntry)
	}

	writes, err := s.layout(leafID, l.nextLeaf(), built)
	if err != nil {
		g.Release()
		return nil, err
	}
	g.Release()

	if oldOverflowToFree != 0 {
		if err := freeOverflowChain(s.pool, oldOverflowToFree); err != nil {
			return nil, err
		}
	}
	return append(pendingOverflow, writes...), nil
}

// Get returns the value for key, or errs.NotFound if absent or
// tombstoned.
func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	leafID, err := s.findLeaf(key)
	if err != nil {
		return nil, err
	}
	g, err := s.pool.FetchPage(leafID)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	l := wrapLeaf(g.Page())
	idx, found := l.find(key)
	if !found {
		return nil, errs.New(errs.NotFound, "record.get").WithKey(key)
	}
	rv := l.recordAt(l.slotOffset(idx))
	if rv.tombstone {
		return nil, errs.New(errs.NotFound, "record.get").WithKey(key)
	}
	if !rv.overflow {
		return rv.inline, nil
	}
	return readOverflowChain(s.pool, rv.overflowHead, rv.totalLen)
}

// Delete tombstones key. Deleting an absent key is a no-op success,
// matching spec §4.4 "deleting an absent key succeeds silently".
func (s *Store) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	writes, err := s.prepareDelete(key)
	if err != nil {
		return err
	}
	return s.commit(writes)
}

// prepareDelete builds the pending WAL writes for one Delete (empty if
// key is already absent or tombstoned), without committing them.
func (s *Store) prepareDelete(key []byte) ([]walWrite, error) {
	leafID, err := s.findLeaf(key)
	if err != nil {
		return nil, err
	}
	g, err := s.pool.FetchPage(leafID)
	if err != nil {
		return nil, err
	}
	l := wrapLeaf(g.Page())
	idx, found := l.find(key)
	if !found {
		g.Release()
		return nil, nil
	}
	rv := l.recordAt(l.slotOffset(idx))
	if rv.tombstone {
		g.Release()
		return nil, nil
	}
	before := append([]byte(nil), g.Page().Payload[:]...)
	l.markTombstone(idx)
	after := append([]byte(nil), g.Page().Payload[:]...)
	g.Release()

	return []walWrite{{pageID: leafID, before: before, after: after}}, nil
}

// BatchOp is one operation within a BatchWrite call.
type BatchOp struct {
	Delete bool
	Key    []byte
	Value  []byte
}

// BatchWrite applies every op as a single WAL transaction: either all
// ops are durable on success or none appear as durable (spec §6
// batch_write — "allocate one WAL transaction, append all records,
// single flush, apply to pages").
func (s *Store) BatchWrite(ops []BatchOp) error {
	if len(ops) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var writes []walWrite
	for _, op := range ops {
		if op.Delete {
			w, err := s.prepareDelete(op.Key)
			if err != nil {
				return err
			}
			writes = append(writes, w...)
			continue
		}
		if len(op.Key) == 0 {
			return errs.New(errs.InvalidArgument, "record.batch_write")
		}
		w, err := s.preparePut(op.Key, op.Value)
		if err != nil {
			return err
		}
		writes = append(writes, w...)
	}
	return s.commit(writes)
}

// layout rebuilds leafID's content from entries, splitting into a new
// leaf page if entries no longer fit in one page. Returns the pending
// WAL writes for every page whose content changed.
func (s *Store) layout(leafID, nextLeaf uint64, entries []buildEntry) ([]walWrite, error) {
	g, err := s.pool.FetchPage(leafID)
	if err != nil {
		return nil, err
	}
	before := append([]byte(nil), g.Page().Payload[:]...)

	total := leafHeaderSize
	for _, e := range entries {
		total += e.size() + slotSize
	}

	if total <= page.PayloadSize {
		l := wrapLeaf(g.Page())
		l.resetInPlace(nextLeaf)
		if err := writeEntries(l, entries); err != nil {
			g.Release()
			return nil, err
		}
		after := append([]byte(nil), g.Page().Payload[:]...)
		return []walWrite{{pageID: leafID, before: before, after: after, guard: g}}, nil
	}

	split := len(entries) / 2
	firstHalf, secondHalf := entries[:split], entries[split:]

	newID, ng, err := s.pool.NewPage(page.KindData)
	if err != nil {
		g.Release()
		return nil, err
	}
	nl := newLeaf(ng.Page())
	nl.setNextLeaf(nextLeaf)
	if err := writeEntries(nl, secondHalf); err != nil {
		g.Release()
		ng.Release()
		return nil, err
	}
	newAfter := append([]byte(nil), ng.Page().Payload[:]...)

	l := wrapLeaf(g.Page())
	l.resetInPlace(newID)
	if err := writeEntries(l, firstHalf); err != nil {
		g.Release()
		ng.Release()
		return nil, err
	}
	after := append([]byte(nil), g.Page().Payload[:]...)

	return []walWrite{
		{pageID: leafID, before: before, after: after, guard: g},
		{pageID: newID, before: nil, after: newAfter, guard: ng},
	}, nil
}

func writeEntries(l *leaf, entries []buildEntry) error {
	for i, e := range entries {
		var err error
		if e.overflow {
			err = l.insertOverflow(i, e.key, e.overflowHead, e.totalLen, e.tombstone)
		} else {
			err = l.insertInline(i, e.key, e.inline, e.tombstone)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// commit appends one WAL transaction covering every page write and,
// depending on the store's sync policy, blocks until it is durable.
func (s *Store) commit(writes []walWrite) error {
	if len(writes) == 0 {
		return nil
	}
	txn := wal.NewTxnID()
	prev, err := s.log.AppendBegin(txn)
	if err != nil {
		return err
	}
	frames := make([]*buffer.Guard, 0, len(writes))
	for _, w := range writes {
		lsn, err := s.log.AppendUpdate(txn, prev, w.pageID, 0, w.before, w.after)
		if err != nil {
			return err
		}
		prev = lsn
		g := w.guard
		if g == nil {
			g, err = s.pool.FetchPage(w.pageID)
			if err != nil {
				return err
			}
		}
		copy(g.Page().Payload[:], w.after)
		g.MarkDirty(lsn)
		frames = append(frames, g)
	}
	commitLSN, err := s.log.AppendCommit(txn, prev)
	if err != nil {
		return err
	}
	for _, g := range frames {
		g.Release()
	}
	if s.policy == SyncOnCommit {
		return s.log.FlushThrough(commitLSN)
	}
	return nil
}

// Scan returns live entries with keys in [start, end) (end == nil
// means unbounded), honoring limit (0 == unbounded) and reverse order.
func (s *Store) Scan(start, end []byte, limit int, reverse bool) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	leafID := s.Head
	if start != nil {
		id, err := s.findLeaf(start)
		if err != nil {
			return nil, err
		}
		leafID = id
	}

	var out []Entry
	for leafID != page.InvalidPageID {
		g, err := s.pool.FetchPage(leafID)
		if err != nil {
			return nil, err
		}
		l := wrapLeaf(g.Page())
		for _, rv := range l.all() {
			if rv.tombstone {
				continue
			}
			if start != nil && cmp(rv.key, start) < 0 {
				continue
			}
			if end != nil && cmp(rv.key, end) >= 0 {
				continue
			}
			val := rv.inline
			if rv.overflow {
				v, err := readOverflowChain(s.pool, rv.overflowHead, rv.totalLen)
				if err != nil {
					g.Release()
					return nil, err
				}
				val = v
			}
			out = append(out, Entry{Key: rv.key, Value: val})
		}
		next := l.nextLeaf()
		g.Release()
		leafID = next
	}

	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// IterateAll returns every live entry in the store, in key order
// (spec §4.4 allows unordered enumeration; a sorted result satisfies it).
func (s *Store) IterateAll() ([]Entry, error) {
	return s.Scan(nil, nil, 0, false)
}
