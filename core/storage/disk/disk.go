// Package disk provides fixed-size block I/O for the index engine. Pages live
// at offset id*pageSize in the data file; a sibling log file holds small
// auxiliary records such as the next-page-id counter.
package disk

import (
	"errors"

	"github.com/soradb/soradb/core/storage/page"
)

var (
	// ErrIO wraps any failure of the underlying file operations.
	ErrIO = errors.New("disk i/o error")
	// ErrClosed is returned when a manager is used after Close.
	ErrClosed = errors.New("disk manager closed")
	// ErrBadBufferSize is returned when a caller passes a buffer whose
	// length does not match the configured page size.
	ErrBadBufferSize = errors.New("buffer size does not match page size")
)

// Manager is the block I/O interface the buffer pool consumes.
type Manager interface {
	// ReadPage fills buf with the page's on-disk bytes. Reads past the end
	// of the file zero-fill the remainder of buf.
	ReadPage(id page.PageID, buf []byte) error
	// WritePage writes buf at the page's offset and flushes it.
	WritePage(id page.PageID, buf []byte) error
	// ReadLog reads up to len(buf) bytes from the auxiliary log region at
	// the given offset.
	ReadLog(buf []byte, offset int64) (int, error)
	// WriteLog overwrites the auxiliary log region with buf.
	WriteLog(buf []byte) error
	// FileSize reports the current size of the data file in bytes.
	FileSize() (int64, error)
	// PageSize reports the configured page size in bytes.
	PageSize() int
	// Initialized reports whether the data file already holds pages.
	Initialized() bool
	// Sync flushes buffered data to stable storage.
	Sync() error
	// Close releases the underlying resources.
	Close() error
}
