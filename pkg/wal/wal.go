package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/corestore/internal/logger"
	"github.com/nainya/corestore/internal/metrics"
	"github.com/nainya/corestore/pkg/errs"
)

// SyncMode is the wal_sync_mode configuration option (spec §6).
type SyncMode int

const (
	SyncEveryWrite SyncMode = iota
	SyncPeriodic
	SyncNone
)

const (
	// MaxLogFileSize bounds a single log file before rotation.
	MaxLogFileSize = 100 << 20
	// MaxLogFiles is not consulted by TruncateBefore, which removes a
	// log file only when a checkpoint covers all of its records.
	MaxLogFiles = 3
	walFilePrefix = "wal"
)

// WAL is the Log Manager: an append-only, LSN-ordered record stream
// with group-commit flushing, matching spec §4.2 and §9's "single
// flusher task plus a bounded queue of pending fsync requests" design.
type WAL struct {
	dir      string
	log      *logger.Logger
	metrics  *metrics.Metrics
	syncMode SyncMode

	mu              sync.Mutex
	cond            *sync.Cond
	fd              *os.File
	fileIndex       int
	fileSize        int64
	nextLSN         uint64
	lastAppendedLSN uint64
	durableLSN      uint64
	closed          bool

	flushSignal chan struct{}
	flushDoneCh chan struct{}
	periodic    time.Duration
}

// Open creates or resumes a WAL directory, scanning existing segment
// files for the highest LSN observed so nextLSN continues from there.
func Open(dir string, syncMode SyncMode, log *logger.Logger, m *metrics.Metrics) (*WAL, error) {
	if log == nil {
		log = logger.Nop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.IO, "wal.open", err)
	}

	w := &WAL{
		dir:         dir,
		log:         log.WalLogger(),
		metrics:     m,
		syncMode:    syncMode,
		flushSignal: make(chan struct{}, 1),
		flushDoneCh: make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)

	files, err := findLogFiles(dir)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "wal.open", err)
	}

	highest := uint64(0)
	if len(files) > 0 {
		entries, _ := ReadAll(files)
		for _, e := range entries {
			if e.LSN > highest {
				highest = e.LSN
			}
		}
		fd, err := os.OpenFile(files[len(files)-1], os.O_RDWR|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errs.Wrap(errs.IO, "wal.open", err)
		}
		info, _ := fd.Stat()
		w.fd = fd
		w.fileIndex = indexOf(files[len(files)-1])
		w.fileSize = info.Size()
	} else {
		fd, err := os.OpenFile(w.logFilePath(0), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errs.Wrap(errs.IO, "wal.open", err)
		}
		w.fd = fd
		w.fileIndex = 0
		w.fileSize = 0
	}
	w.nextLSN = highest + 1
	w.lastAppendedLSN = highest
	w.durableLSN = highest

	go w.flusher()
	return w, nil
}

func (w *WAL) logFilePath(index int) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s.%03d", walFilePrefix, index))
}

func indexOf(path string) int {
	base := filepath.Base(path)
	parts := strings.Split(base, ".")
	n, _ := strconv.Atoi(parts[len(parts)-1])
	return n
}

func isWALFile(name string) bool {
	return strings.HasPrefix(name, walFilePrefix+".")
}

func findLogFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && isWALFile(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Slice(files, func(i, j int) bool { return indexOf(files[i]) < indexOf(files[j]) })
	return files, nil
}

// NewTxnID allocates a fresh transaction identifier.
func NewTxnID() uint64 {
	u := uuid.New()
	// Fold the 128-bit uuid down to 64 bits; collision probability is
	// irrelevant here since txn ids only need uniqueness within one
	// open WAL's lifetime, not global uniqueness.
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(u[i]^u[i+8])
	}
	if v == 0 {
		v = 1
	}
	return v
}

func (w *WAL) appendLocked(r *Record) (uint64, error) {
	if w.closed {
		return 0, errs.New(errs.IO, "wal.append")
	}
	w.nextLSN++
	r.LSN = w.nextLSN - 1
	data := r.Encode()

	if w.fileSize+int64(len(data)) > MaxLogFileSize {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}
	n, err := w.fd.Write(data)
	if err != nil {
		return 0, errs.Wrap(errs.IO, "wal.append", err)
	}
	w.fileSize += int64(n)
	w.lastAppendedLSN = r.LSN
	if w.metrics != nil {
		w.metrics.WalBytesAppended.Add(float64(n))
	}
	return r.LSN, nil
}

func (w *WAL) rotateLocked() error {
	if err := w.fd.Sync(); err != nil {
		return errs.Wrap(errs.IO, "wal.rotate", err)
	}
	if err := w.fd.Close(); err != nil {
		return errs.Wrap(errs.IO, "wal.rotate", err)
	}
	w.fileIndex++
	w.fileSize = 0
	fd, err := os.OpenFile(w.logFilePath(w.fileIndex), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return errs.Wrap(errs.IO, "wal.rotate", err)
	}
	w.fd = fd
	return nil
}

// AppendBegin appends a BEGIN record for txnID.
func (w *WAL) AppendBegin(txnID uint64) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	lsn, err := w.appendLocked(&Record{TxnID: txnID, Type: RecordBegin})
	w.maybeSyncLocked()
	return lsn, err
}

// AppendUpdate appends an UPDATE record carrying before/after page images.
func (w *WAL) AppendUpdate(txnID, prevLSN, pageID uint64, offset uint32, before, after []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	lsn, err := w.appendLocked(&Record{
		TxnID: txnID, PrevLSNInTxn: prevLSN, Type: RecordUpdate,
		PageID: pageID, Offset: offset, Before: before, After: after,
	})
	w.maybeSyncLocked()
	return lsn, err
}

// AppendCommit appends a COMMIT record for txnID.
func (w *WAL) AppendCommit(txnID, prevLSN uint64) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	lsn, err := w.appendLocked(&Record{TxnID: txnID, PrevLSNInTxn: prevLSN, Type: RecordCommit})
	w.maybeSyncLocked()
	return lsn, err
}

// AppendAbort appends an ABORT record for txnID.
func (w *WAL) AppendAbort(txnID, prevLSN uint64) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	lsn, err := w.appendLocked(&Record{TxnID: txnID, PrevLSNInTxn: prevLSN, Type: RecordAbort})
	w.maybeSyncLocked()
	return lsn, err
}

// AppendCheckpoint appends a CHECKPOINT record carrying an opaque state
// blob (Engine.Checkpoint passes none; the manifest is a separate file).
func (w *WAL) AppendCheckpoint(state []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	lsn, err := w.appendLocked(&Record{Type: RecordCheckpoint, After: state})
	w.maybeSyncLocked()
	return lsn, err
}

// AppendCLR appends a compensation log record during undo.
func (w *WAL) AppendCLR(txnID, pageID uint64, offset uint32, before []byte, undoNextLSN uint64) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	lsn, err := w.appendLocked(&Record{
		TxnID: txnID, Type: RecordCLR, PageID: pageID, Offset: offset,
		After: before, UndoNextLSN: undoNextLSN,
	})
	w.maybeSyncLocked()
	return lsn, err
}

// maybeSyncLocked triggers an immediate flush request for SyncEveryWrite;
// other modes rely on the periodic ticker or an explicit FlushThrough
// call from a caller that needs durability now. Must hold w.mu... but
// triggering only sends a non-blocking signal, it does not flush inline,
// preserving "append itself never blocks on disk" (spec §4.2).
func (w *WAL) maybeSyncLocked() {
	if w.syncMode == SyncEveryWrite {
		w.signalFlush()
	}
}

func (w *WAL) signalFlush() {
	select {
	case w.flushSignal <- struct{}{}:
	default:
	}
}

// flusher is the single group-commit flusher goroutine (spec §9:
// "Model as a single flusher task plus a bounded queue of pending
// fsync requests").
func (w *WAL) flusher() {
	defer close(w.flushDoneCh)
	for range w.flushSignal {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		fd := w.fd
		target := w.lastAppendedLSN
		w.mu.Unlock()

		start := time.Now()
		err := fd.Sync()
		if w.metrics != nil {
			w.metrics.WalFlushDuration.Observe(time.Since(start).Seconds())
		}

		w.mu.Lock()
		if err == nil && target > w.durableLSN {
			w.durableLSN = target
		}
		w.cond.Broadcast()
		w.mu.Unlock()
	}
}

// FlushThrough guarantees that on return every record with LSN <= lsn
// is on stable storage, per spec §4.2.
func (w *WAL) FlushThrough(lsn uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if lsn == 0 {
		return nil
	}
	w.signalFlush()
	for w.durableLSN < lsn && !w.closed {
		w.cond.Wait()
	}
	if w.closed && w.durableLSN < lsn {
		return errs.New(errs.IO, "wal.flush_through")
	}
	return nil
}

// DurableLSN returns the highest LSN known to be fsynced.
func (w *WAL) DurableLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.durableLSN
}

// LastLSN returns the highest LSN appended so far (not necessarily durable).
func (w *WAL) LastLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastAppendedLSN
}

// StartPeriodicFlush launches a ticker-driven background flush for
// wal_sync_mode=periodic, in the idiom of the teacher's Checkpointer
// (pkg/wal/checkpoint.go): a single ticker goroutine, stopped via a
// dedicated channel.
func (w *WAL) StartPeriodicFlush(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.signalFlush()
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// Files returns the ordered list of segment files currently on disk,
// used by recovery to replay from the start (or from a checkpoint).
func (w *WAL) Files() ([]string, error) {
	return findLogFiles(w.dir)
}

// TruncateBefore removes log segment files whose highest LSN is below
// safeLSN (everything in them is covered by a later checkpoint),
// retaining at least one file and never the currently-open one.
func (w *WAL) TruncateBefore(safeLSN uint64) error {
	files, err := findLogFiles(w.dir)
	if err != nil {
		return err
	}
	if len(files) <= 1 {
		return nil
	}
	for _, f := range files[:len(files)-1] {
		entries, err := ReadAll([]string{f})
		if err != nil {
			continue
		}
		maxLSN := uint64(0)
		for _, e := range entries {
			if e.LSN > maxLSN {
				maxLSN = e.LSN
			}
		}
		if maxLSN != 0 && maxLSN <= safeLSN {
			_ = os.Remove(f)
		}
	}
	return nil
}

// Close flushes and closes the WAL.
func (w *WAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.flushSignal)
	<-w.flushDoneCh

	if err := w.fd.Sync(); err != nil {
		return errs.Wrap(errs.IO, "wal.close", err)
	}
	if err := w.fd.Close(); err != nil {
		return errs.Wrap(errs.IO, "wal.close", err)
	}
	return nil
}
