package record

import (
	"encoding/binary"

	"github.com/nainya/corestore/pkg/buffer"
	"github.com/nainya/corestore/pkg/page"
)

// overflow pages form a singly-linked chain (spec §4.4 "An overflow
// protocol handles values larger than one page's free space"):
// payload[0:8) next page id (0 = end of chain), payload[8:10) bytes
// used in this page, payload[10:] chunk of value bytes.
const overflowChunkCap = page.PayloadSize - 10

// writeOverflowChain stores val across a chain of overflow pages and
// returns the head page id. Every page written is appended to txn's
// WAL stream as its own UPDATE record, so the whole chain redoes or
// is ignored atomically together with the leaf record that references
// it once the enclosing transaction commits. Returned pages stay
// pinned (guard included in each walWrite) until the caller commits,
// so a concurrent eviction can never write them out ahead of their WAL
// record.
func writeOverflowChain(pool *buffer.Pool, val []byte) (uint64, []walWrite, error) {
	var head uint64
	var pending []walWrite
	offset := 0
	for offset < len(val) {
		n := len(val) - offset
		if n > overflowChunkCap {
			n = overflowChunkCap
		}
		id, g, err := pool.NewPage(page.KindOverflow)
		if err != nil {
			return 0, nil, err
		}
		binary.LittleEndian.PutUint16(g.Page().Payload[8:10], uint16(n))
		copy(g.Page().Payload[10:10+n], val[offset:offset+n])
		pending = append(pending, walWrite{pageID: id, guard: g})

		if head == 0 {
			head = id
		}
		if len(pending) > 1 {
			prev := pending[len(pending)-2]
			binary.LittleEndian.PutUint64(prev.guard.Page().Payload[0:8], id)
		}
		offset += n
	}
	for i := range pending {
		pending[i].after = append([]byte(nil), pending[i].guard.Page().Payload[:]...)
	}
	return head, pending, nil
}

// readOverflowChain reconstructs a value of totalLen bytes starting at
// head.
func readOverflowChain(pool *buffer.Pool, head uint64, totalLen uint32) ([]byte, error) {
	out := make([]byte, 0, totalLen)
	id := head
	for id != 0 && uint32(len(out)) < totalLen {
		g, err := pool.FetchPage(id)
		if err != nil {
			return nil, err
		}
		n := int(binary.LittleEndian.Uint16(g.Page().Payload[8:10]))
		next := binary.LittleEndian.Uint64(g.Page().Payload[0:8])
		out = append(out, g.Page().Payload[10:10+n]...)
		g.Release()
		id = next
	}
	return out, nil
}

// freeOverflowChain releases every page in the chain back to the disk
// manager's free list.
func freeOverflowChain(pool *buffer.Pool, head uint64) error {
	id := head
	for id != 0 {
		g, err := pool.FetchPage(id)
		if err != nil {
			return err
		}
		next := binary.LittleEndian.Uint64(g.Page().Payload[0:8])
		g.Release()
		if err := pool.FlushPage(id); err != nil {
			return err
		}
		if err := pool.DeletePage(id); err != nil {
			return err
		}
		id = next
	}
	return nil
}

// walWrite is a pending (pageID, after-image) pair queued for WAL
// append once the caller knows the full set of pages touched by one
// logical operation. When guard is non-nil the page is already pinned
// and commit() reuses the pin instead of re-fetching, so the page
// cannot be evicted and written to disk ahead of its WAL record.
type walWrite struct {
	pageID uint64
	before []byte
	after  []byte
	guard  *buffer.Guard
}
