// Package disk implements the persistent page file: a bounded sequence
// of fixed-size pages accessed through a narrow Backend capability set,
// with two interchangeable implementations (sync and async), plus a
// Manager that layers page allocation and recycling on top.
//
// Grounded on the teacher's pkg/storage/kv.go (createFileSync: open,
// fstat, directory-fsync-on-create) for the sync backend's durability
// protocol, and on the VittoriaDB StorageEngine/Backend interface shape
// for the narrow capability split (DESIGN NOTES: "the Disk Manager is
// polymorphic only in one axis (sync vs async backend)").
package disk

import "github.com/nainya/corestore/pkg/page"

// Backend is the narrow capability set a disk implementation must
// provide. Both implementations must produce identical observable
// results for the same sequence of calls (spec §8, "Backend
// equivalence").
type Backend interface {
	ReadPage(id uint64, buf []byte) error
	WritePage(id uint64, buf []byte) error
	ReadPagesBatch(ids []uint64, bufs [][]byte) error
	WritePagesBatch(ids []uint64, bufs [][]byte) error
	Fsync() error
	PageCount() uint64
	Close() error

	// RegisterBuffer registers a contiguous buffer region (the buffer
	// pool's frame array). Both backends record it and neither uses it
	// when submitting I/O; there is no zero-copy fixed-buffer path.
	// Registering twice returns an AlreadyExists error.
	RegisterBuffer(buf []byte) error
}

func offsetOf(id uint64) int64 { return int64(id) * int64(page.Size) }
