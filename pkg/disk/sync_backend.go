package disk

import (
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/nainya/corestore/pkg/errs"
	"github.com/nainya/corestore/pkg/page"
)

// SyncBackend performs synchronous positional I/O against a single
// fixed-page file, fsyncing the parent directory once at creation time
// so the file's existence itself survives a crash (teacher's
// createFileSync pattern in pkg/storage/kv.go).
type SyncBackend struct {
	mu       sync.Mutex
	fd       *os.File
	pages    uint64
	registry []byte // registered buffer region, if any
}

// NewSyncBackend opens (creating if absent) the page file at path.
func NewSyncBackend(path string) (*SyncBackend, error) {
	dir := filepath.Dir(path)
	_, statErr := os.Stat(path)
	created := os.IsNotExist(statErr)

	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "disk.open", err)
	}

	if created {
		dirFd, err := unix.Open(dir, unix.O_RDONLY, 0)
		if err == nil {
			_ = unix.Fsync(dirFd)
			_ = unix.Close(dirFd)
		}
	}

	info, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, errs.Wrap(errs.IO, "disk.stat", err)
	}
	pages := uint64(info.Size()) / uint64(page.Size)

	return &SyncBackend{fd: fd, pages: pages}, nil
}

func (b *SyncBackend) RegisterBuffer(buf []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.registry != nil {
		return errs.New(errs.AlreadyExists, "disk.register_buffer")
	}
	b.registry = buf
	return nil
}

func (b *SyncBackend) ReadPage(id uint64, buf []byte) error {
	if len(buf) != page.Size {
		return errs.New(errs.IO, "disk.read_page")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if id >= b.pages {
		return errs.New(errs.NotFound, "disk.read_page")
	}
	n, err := b.fd.ReadAt(buf, offsetOf(id))
	if err != nil {
		return errs.Wrap(errs.IO, "disk.read_page", err)
	}
	if n != page.Size {
		return errs.New(errs.IO, "disk.read_page")
	}
	return nil
}

func (b *SyncBackend) WritePage(id uint64, buf []byte) error {
	if len(buf) != page.Size {
		return errs.New(errs.IO, "disk.write_page")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writePageLocked(id, buf)
}

func (b *SyncBackend) writePageLocked(id uint64, buf []byte) error {
	n, err := b.fd.WriteAt(buf, offsetOf(id))
	if err != nil {
		return errs.Wrap(errs.IO, "disk.write_page", err)
	}
	if n != page.Size {
		return errs.New(errs.IO, "disk.write_page")
	}
	if id+1 > b.pages {
		b.pages = id + 1
	}
	return nil
}

func (b *SyncBackend) ReadPagesBatch(ids []uint64, bufs [][]byte) error {
	if len(ids) != len(bufs) {
		return errs.New(errs.InvalidArgument, "disk.read_pages_batch")
	}
	for i, id := range ids {
		if err := b.ReadPage(id, bufs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (b *SyncBackend) WritePagesBatch(ids []uint64, bufs [][]byte) error {
	if len(ids) != len(bufs) {
		return errs.New(errs.InvalidArgument, "disk.write_pages_batch")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, id := range ids {
		if len(bufs[i]) != page.Size {
			return errs.New(errs.IO, "disk.write_pages_batch")
		}
		if err := b.writePageLocked(id, bufs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (b *SyncBackend) Fsync() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fd.Sync(); err != nil {
		return errs.Wrap(errs.IO, "disk.fsync", err)
	}
	return nil
}

func (b *SyncBackend) PageCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pages
}

func (b *SyncBackend) Close() error {
	if err := b.fd.Close(); err != nil {
		return errs.Wrap(errs.IO, "disk.close", err)
	}
	return nil
}
