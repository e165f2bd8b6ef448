// Package recovery implements the ARIES-flavored Analysis/Redo/Undo
// protocol of spec §4.6: restore the record store and vector graph to
// a state consistent with all committed WAL records after a crash or
// clean shutdown.
//
// Because every mutation in this system logs a whole-page before/after
// image (pkg/record's "Open Question" resolution, recorded in
// DESIGN.md, favoring page-level snapshots over byte-range diffs for
// implementation tractability), redo and undo both reduce to "copy an
// image into the page and bump its LSN" rather than interpreting
// per-operation deltas.
package recovery

import (
	"container/heap"

	"github.com/nainya/corestore/internal/logger"
	"github.com/nainya/corestore/pkg/disk"
	"github.com/nainya/corestore/pkg/errs"
	"github.com/nainya/corestore/pkg/page"
	"github.com/nainya/corestore/pkg/wal"
)

// Stats summarizes one recovery pass, for logging and tests.
type Stats struct {
	RecordsScanned int
	RedoApplied    int
	UndoApplied    int
	TxnsRolledBack int
}

// Recover replays dm's WAL against its page file. Safe to call on a
// cleanly-shut-down database (no loser transactions, redo is a no-op
// since every page.LSN already dominates its WAL record).
func Recover(dm *disk.Manager, w *wal.WAL, log *logger.Logger) (*Stats, error) {
	if log == nil {
		log = logger.Nop()
	}
	files, err := w.Files()
	if err != nil {
		return nil, err
	}
	records, err := wal.ReadAll(files)
	if err != nil {
		return nil, err
	}

	stats := &Stats{RecordsScanned: len(records)}

	committed := make(map[uint64]bool)
	aborted := make(map[uint64]bool)
	lastTxnLSN := make(map[uint64]uint64)
	byLSN := make(map[uint64]*wal.Record, len(records))
	for _, r := range records {
		byLSN[r.LSN] = r
		switch r.Type {
		case wal.RecordCommit:
			committed[r.TxnID] = true
		case wal.RecordAbort:
			aborted[r.TxnID] = true
		case wal.RecordUpdate, wal.RecordCLR:
			lastTxnLSN[r.TxnID] = r.LSN
		}
	}

	for _, r := range records {
		if r.Type != wal.RecordUpdate && r.Type != wal.RecordCLR {
			continue
		}
		applied, err := redoOne(dm, r)
		if err != nil {
			return nil, err
		}
		if applied {
			stats.RedoApplied++
		}
	}

	// ARIES undo (step 3) processes the union of every loser transaction's
	// pending LSNs in one globally descending order, not one loser's
	// chain at a time: two losers can share a page (different keys on
	// the same leaf), so undoing all of txn A before starting txn B can
	// apply B's before-image first and then have A clobber it with a
	// stale one. toUndo is a max-heap over LSNs across all losers;
	// lsnOwner tracks which loser chain each pending LSN belongs to so
	// its predecessor can be re-queued once popped.
	toUndo := &lsnHeap{}
	lsnOwner := make(map[uint64]uint64, len(lastTxnLSN))
	for txnID, lastLSN := range lastTxnLSN {
		if committed[txnID] || aborted[txnID] {
			continue
		}
		heap.Push(toUndo, lastLSN)
		lsnOwner[lastLSN] = txnID
	}

	for toUndo.Len() > 0 {
		lsn := heap.Pop(toUndo).(uint64)
		txnID := lsnOwner[lsn]
		r, ok := byLSN[lsn]
		if !ok {
			continue
		}

		var next uint64
		switch r.Type {
		case wal.RecordUpdate:
			if err := undoOne(dm, w, r); err != nil {
				return nil, err
			}
			stats.UndoApplied++
			next = r.PrevLSNInTxn
		case wal.RecordCLR:
			next = r.UndoNextLSN
		default:
			next = r.PrevLSNInTxn
		}

		if next != 0 {
			heap.Push(toUndo, next)
			lsnOwner[next] = txnID
			continue
		}
		if _, err := w.AppendAbort(txnID, lastTxnLSN[txnID]); err != nil {
			return nil, err
		}
		stats.TxnsRolledBack++
	}

	if lsn := w.LastLSN(); lsn > 0 {
		if err := w.FlushThrough(lsn); err != nil {
			return nil, err
		}
	}
	if err := dm.Fsync(); err != nil {
		return nil, err
	}

	log.LogRecovery("complete", 0, stats.RedoApplied+stats.UndoApplied, nil)
	return stats, nil
}

// redoOne applies r's after-image to its page if the page's LSN does
// not already dominate it (ARIES redo guard: record.lsn > page.lsn).
func redoOne(dm *disk.Manager, r *wal.Record) (bool, error) {
	pg, err := loadOrCreate(dm, r.PageID)
	if err != nil {
		return false, err
	}
	if r.LSN <= pg.LSN {
		return false, nil
	}
	copy(pg.Payload[:], r.After)
	pg.LSN = r.LSN
	if err := dm.WritePage(pg); err != nil {
		return false, err
	}
	return true, nil
}

// undoOne reverts r's effect by writing its before-image back, logging
// a compensation record so a repeated crash during undo stays
// idempotent (spec §4.6 "idempotence").
func undoOne(dm *disk.Manager, w *wal.WAL, r *wal.Record) error {
	pg, err := loadOrCreate(dm, r.PageID)
	if err != nil {
		return err
	}
	copy(pg.Payload[:], r.Before)
	lsn, err := w.AppendCLR(r.TxnID, r.PageID, r.Offset, r.Before, r.PrevLSNInTxn)
	if err != nil {
		return err
	}
	pg.LSN = lsn
	return dm.WritePage(pg)
}

// lsnHeap is a max-heap of LSNs, letting Recover pop the globally
// largest pending undo LSN across every loser transaction instead of
// draining one transaction's chain at a time.
type lsnHeap []uint64

func (h lsnHeap) Len() int            { return len(h) }
func (h lsnHeap) Less(i, j int) bool  { return h[i] > h[j] }
func (h lsnHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *lsnHeap) Push(x interface{}) { *h = append(*h, x.(uint64)) }
func (h *lsnHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

func loadOrCreate(dm *disk.Manager, id uint64) (*page.Page, error) {
	pg, err := dm.ReadPage(id)
	if err == nil {
		return pg, nil
	}
	if errs.KindOf(err) == errs.NotFound {
		return page.New(id, page.KindData), nil
	}
	return nil, err
}
