// Package manifest implements the small persistent record of
// database-wide state described in spec §3 "Manifest": next page id,
// durable LSN at last clean shutdown, and the vector index's entry
// point/top level. Grounded on the teacher's disk-backend directory-
// fsync-on-create idiom (pkg/disk/sync_backend.go, itself adapted from
// the teacher's createFileSync helper): write-new, fsync, rename over
// old, then fsync the containing directory so the rename itself is
// durable.
package manifest

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/nainya/corestore/pkg/errs"
)

const fileName = "MANIFEST"

// Manifest is the database's small persistent root record.
type Manifest struct {
	NextPageID       uint64
	FreeListHead     uint64 // disk manager's free-list head, page.InvalidPageID if empty
	RecordHead       uint64 // record store's head leaf page id
	DurableLSN       uint64 // highest LSN known durable at last clean shutdown
	VectorEntryPoint []byte // vector graph entry point key, empty if no vectors
	VectorTopLevel   uint32
}

// encode serializes the manifest as a fixed header plus the variable-
// length entry point key, checksummed the same way pages and WAL
// records are (spec's ambient framing convention).
func (m *Manifest) encode() []byte {
	size := 8 + 8 + 8 + 8 + 4 + 2 + len(m.VectorEntryPoint) + 4
	buf := make([]byte, size)
	pos := 0
	binary.LittleEndian.PutUint64(buf[pos:], m.NextPageID)
	pos += 8
	binary.LittleEndian.PutUint64(buf[pos:], m.FreeListHead)
	pos += 8
	binary.LittleEndian.PutUint64(buf[pos:], m.RecordHead)
	pos += 8
	binary.LittleEndian.PutUint64(buf[pos:], m.DurableLSN)
	pos += 8
	binary.LittleEndian.PutUint32(buf[pos:], m.VectorTopLevel)
	pos += 4
	binary.LittleEndian.PutUint16(buf[pos:], uint16(len(m.VectorEntryPoint)))
	pos += 2
	copy(buf[pos:], m.VectorEntryPoint)
	pos += len(m.VectorEntryPoint)
	binary.LittleEndian.PutUint32(buf[pos:], crc32.ChecksumIEEE(buf[:pos]))
	return buf
}

func decode(buf []byte) (*Manifest, error) {
	if len(buf) < 8+8+8+8+4+2+4 {
		return nil, errs.New(errs.Corruption, "manifest.decode")
	}
	m := &Manifest{}
	pos := 0
	m.NextPageID = binary.LittleEndian.Uint64(buf[pos:])
	pos += 8
	m.FreeListHead = binary.LittleEndian.Uint64(buf[pos:])
	pos += 8
	m.RecordHead = binary.LittleEndian.Uint64(buf[pos:])
	pos += 8
	m.DurableLSN = binary.LittleEndian.Uint64(buf[pos:])
	pos += 8
	m.VectorTopLevel = binary.LittleEndian.Uint32(buf[pos:])
	pos += 4
	klen := int(binary.LittleEndian.Uint16(buf[pos:]))
	pos += 2
	if pos+klen+4 > len(buf) {
		return nil, errs.New(errs.Corruption, "manifest.decode")
	}
	m.VectorEntryPoint = append([]byte(nil), buf[pos:pos+klen]...)
	pos += klen
	want := binary.LittleEndian.Uint32(buf[pos:])
	if crc32.ChecksumIEEE(buf[:pos]) != want {
		return nil, errs.New(errs.Corruption, "manifest.decode")
	}
	return m, nil
}

// Path returns the manifest file's path within dir.
func Path(dir string) string {
	return filepath.Join(dir, fileName)
}

// Read loads the manifest from dir. A missing file is not an error:
// it means a fresh database, and the zero-value Manifest is returned.
func Read(dir string) (*Manifest, error) {
	buf, err := os.ReadFile(Path(dir))
	if os.IsNotExist(err) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.IO, "manifest.read", err)
	}
	return decode(buf)
}

// Write atomically persists m to dir: write a temp file, fsync it,
// rename over the old manifest, then fsync the directory so the
// rename survives a crash (spec §3 "manifest is written atomically:
// write new, fsync, rename over old").
func Write(dir string, m *Manifest) error {
	tmp := Path(dir) + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.IO, "manifest.write", err)
	}
	if _, err := f.Write(m.encode()); err != nil {
		f.Close()
		return errs.Wrap(errs.IO, "manifest.write", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errs.Wrap(errs.IO, "manifest.write", err)
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(errs.IO, "manifest.write", err)
	}
	if err := os.Rename(tmp, Path(dir)); err != nil {
		return errs.Wrap(errs.IO, "manifest.write", err)
	}
	dirFd, err := unix.Open(dir, unix.O_RDONLY, 0)
	if err != nil {
		return errs.Wrap(errs.IO, "manifest.write", err)
	}
	defer unix.Close(dirFd)
	if err := unix.Fsync(dirFd); err != nil {
		return errs.Wrap(errs.IO, "manifest.write", err)
	}
	return nil
}
