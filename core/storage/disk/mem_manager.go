package disk

import (
	"fmt"
	"sync"

	"github.com/soradb/soradb/core/storage/page"
)

// MemManager replicates the Manager contract in memory. It is used by unit
// tests and data-structure benchmarks where real file I/O would only add
// noise.
type MemManager struct {
	pageSize int
	mu       sync.Mutex
	pages    map[page.PageID][]byte
	log      []byte
	closed   bool
}

// NewMemManager creates an empty in-memory manager.
func NewMemManager(pageSize int) *MemManager {
	return &MemManager{
		pageSize: pageSize,
		pages:    make(map[page.PageID][]byte),
	}
}

// ReadPage copies the stored page into buf, zero-filling when the page was
// never written.
func (mm *MemManager) ReadPage(id page.PageID, buf []byte) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.closed {
		return ErrClosed
	}
	if len(buf) != mm.pageSize {
		return fmt.Errorf("%w: got %d, want %d", ErrBadBufferSize, len(buf), mm.pageSize)
	}
	stored, ok := mm.pages[id]
	if !ok {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	copy(buf, stored)
	return nil
}

// WritePage stores a copy of buf under the page id.
func (mm *MemManager) WritePage(id page.PageID, buf []byte) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.closed {
		return ErrClosed
	}
	if len(buf) != mm.pageSize {
		return fmt.Errorf("%w: got %d, want %d", ErrBadBufferSize, len(buf), mm.pageSize)
	}
	stored := make([]byte, mm.pageSize)
	copy(stored, buf)
	mm.pages[id] = stored
	return nil
}

// ReadLog copies from the stored log region.
func (mm *MemManager) ReadLog(buf []byte, offset int64) (int, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.closed {
		return 0, ErrClosed
	}
	if offset >= int64(len(mm.log)) {
		return 0, nil
	}
	n := copy(buf, mm.log[offset:])
	return n, nil
}

// WriteLog replaces the stored log region.
func (mm *MemManager) WriteLog(buf []byte) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.closed {
		return ErrClosed
	}
	mm.log = make([]byte, len(buf))
	copy(mm.log, buf)
	return nil
}

// FileSize reports the extent implied by the highest written page id.
func (mm *MemManager) FileSize() (int64, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.closed {
		return 0, ErrClosed
	}
	var max page.PageID
	for id := range mm.pages {
		if id >= max {
			max = id + 1
		}
	}
	return int64(max) * int64(mm.pageSize), nil
}

// PageSize reports the configured page size.
func (mm *MemManager) PageSize() int { return mm.pageSize }

// Initialized reports whether any page was ever written.
func (mm *MemManager) Initialized() bool {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return len(mm.pages) > 0
}

// Sync is a no-op.
func (mm *MemManager) Sync() error { return nil }

// Close drops the stored pages.
func (mm *MemManager) Close() error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.pages = nil
	mm.closed = true
	return nil
}
