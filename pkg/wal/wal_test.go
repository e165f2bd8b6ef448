package wal

import (
	"testing"
)

func TestAppendAndFlushThrough(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, SyncEveryWrite, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	txn := NewTxnID()
	if _, err := w.AppendBegin(txn); err != nil {
		t.Fatal(err)
	}
	lsn, err := w.AppendUpdate(txn, 0, 5, 0, []byte("old"), []byte("new"))
	if err != nil {
		t.Fatal(err)
	}
	commitLSN, err := w.AppendCommit(txn, lsn)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.FlushThrough(commitLSN); err != nil {
		t.Fatal(err)
	}
	if w.DurableLSN() < commitLSN {
		t.Fatalf("durable lsn %d should be >= commit lsn %d", w.DurableLSN(), commitLSN)
	}
}

func TestRecordEncodeDecodeRoundTrip(t *testing.T) {
	r := &Record{
		LSN: 10, PrevLSNInTxn: 3, TxnID: 99, Type: RecordUpdate,
		PageID: 7, Offset: 128, Before: []byte("before"), After: []byte("after-image"),
	}
	data := r.Encode()
	got, err := DecodeRecord(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.LSN != r.LSN || got.TxnID != r.TxnID || got.PageID != r.PageID {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if string(got.Before) != "before" || string(got.After) != "after-image" {
		t.Fatalf("image mismatch: %+v", got)
	}
}

func TestDecodeRecordDetectsCorruption(t *testing.T) {
	r := &Record{LSN: 1, Type: RecordBegin, TxnID: 1}
	data := r.Encode()
	data[len(data)-1] ^= 0xFF
	if _, err := DecodeRecord(data); err == nil {
		t.Fatal("expected corruption error")
	}
}

func TestWALResumesLSNAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, SyncEveryWrite, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	txn := NewTxnID()
	lsn, err := w.AppendCommit(txn, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.FlushThrough(lsn); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	w2, err := Open(dir, SyncEveryWrite, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w2.Close()
	txn2 := NewTxnID()
	lsn2, err := w2.AppendCommit(txn2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if lsn2 <= lsn {
		t.Fatalf("expected new lsn %d > previous %d", lsn2, lsn)
	}
}

func TestGroupCommitCoalescesConcurrentFlushers(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, SyncPeriodic, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	const n = 20
	lsns := make([]uint64, n)
	for i := 0; i < n; i++ {
		lsn, err := w.AppendCommit(NewTxnID(), 0)
		if err != nil {
			t.Fatal(err)
		}
		lsns[i] = lsn
	}
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		go func() { done <- w.FlushThrough(lsns[i]) }()
	}
	for i := 0; i < n; i++ {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}
	if w.DurableLSN() < lsns[n-1] {
		t.Fatalf("expected all appended records durable")
	}
}
