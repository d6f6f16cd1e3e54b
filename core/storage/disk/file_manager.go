package disk

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/soradb/soradb/core/storage/page"
	"github.com/soradb/soradb/pkg/logger"
)

// FileManager stores pages in a single data file and auxiliary records in a
// sibling ".log" file.
type FileManager struct {
	dataPath string
	logPath  string
	dataFile *os.File
	logFile  *os.File
	pageSize int
	mu       sync.Mutex
	logger   *zap.Logger

	// errLimiter throttles I/O error logging so a failing disk does not
	// flood the sink.
	errLimiter *rate.Limiter

	numReads  uint64
	numWrites uint64
}

// NewFileManager opens or creates the data file at dataPath and its sibling
// log file at dataPath+".log".
func NewFileManager(dataPath string, pageSize int, logger *zap.Logger) (*FileManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dataFile, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening data file %s: %v", ErrIO, dataPath, err)
	}
	logPath := dataPath + ".log"
	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("%w: opening log file %s: %v", ErrIO, logPath, err)
	}
	return &FileManager{
		dataPath:   dataPath,
		logPath:    logPath,
		dataFile:   dataFile,
		logFile:    logFile,
		pageSize:   pageSize,
		logger:     logger,
		errLimiter: rate.NewLimiter(rate.Limit(1), 5),
	}, nil
}

// ReadPage fills buf with the page's bytes. Reads past the end of the file
// zero-fill the remainder.
func (fm *FileManager) ReadPage(id page.PageID, buf []byte) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.dataFile == nil {
		return ErrClosed
	}
	if len(buf) != fm.pageSize {
		return fmt.Errorf("%w: got %d, want %d", ErrBadBufferSize, len(buf), fm.pageSize)
	}
	offset := int64(id) * int64(fm.pageSize)
	n, err := fm.dataFile.ReadAt(buf, offset)
	fm.numReads++
	if err != nil && err != io.EOF {
		fm.logIOError("read", id, err)
		return fmt.Errorf("%w: reading page %d at offset %d: %v", ErrIO, id, offset, err)
	}
	if n < fm.pageSize {
		for i := n; i < fm.pageSize; i++ {
			buf[i] = 0
		}
	}
	return nil
}

// WritePage writes buf at the page's offset and flushes it.
func (fm *FileManager) WritePage(id page.PageID, buf []byte) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.dataFile == nil {
		return ErrClosed
	}
	if len(buf) != fm.pageSize {
		return fmt.Errorf("%w: got %d, want %d", ErrBadBufferSize, len(buf), fm.pageSize)
	}
	offset := int64(id) * int64(fm.pageSize)
	if _, err := fm.dataFile.WriteAt(buf, offset); err != nil {
		fm.logIOError("write", id, err)
		return fmt.Errorf("%w: writing page %d at offset %d: %v", ErrIO, id, offset, err)
	}
	fm.numWrites++
	if err := fm.dataFile.Sync(); err != nil {
		fm.logIOError("sync", id, err)
		return fmt.Errorf("%w: syncing after page %d write: %v", ErrIO, id, err)
	}
	return nil
}

// ReadLog reads up to len(buf) bytes from the log file at the given offset.
func (fm *FileManager) ReadLog(buf []byte, offset int64) (int, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.logFile == nil {
		return 0, ErrClosed
	}
	n, err := fm.logFile.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("%w: reading log at offset %d: %v", ErrIO, offset, err)
	}
	return n, nil
}

// WriteLog overwrites the log region with buf.
func (fm *FileManager) WriteLog(buf []byte) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.logFile == nil {
		return ErrClosed
	}
	if _, err := fm.logFile.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("%w: writing log: %v", ErrIO, err)
	}
	return fm.logFile.Sync()
}

// FileSize reports the current size of the data file.
func (fm *FileManager) FileSize() (int64, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.dataFile == nil {
		return 0, ErrClosed
	}
	fi, err := fm.dataFile.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stating data file: %v", ErrIO, err)
	}
	return fi.Size(), nil
}

// PageSize reports the configured page size.
func (fm *FileManager) PageSize() int { return fm.pageSize }

// Initialized reports whether the data file already holds at least one page.
func (fm *FileManager) Initialized() bool {
	size, err := fm.FileSize()
	return err == nil && size >= int64(fm.pageSize)
}

// Sync flushes both files.
func (fm *FileManager) Sync() error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.dataFile == nil {
		return ErrClosed
	}
	if err := fm.dataFile.Sync(); err != nil {
		return fmt.Errorf("%w: syncing data file: %v", ErrIO, err)
	}
	return fm.logFile.Sync()
}

// Close syncs and closes both files.
func (fm *FileManager) Close() error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.dataFile == nil {
		return nil
	}
	if err := fm.dataFile.Sync(); err != nil {
		fm.logger.Warn("Sync on close failed", logger.DataFile(fm.dataPath), zap.Error(err))
	}
	dataErr := fm.dataFile.Close()
	logErr := fm.logFile.Close()
	fm.dataFile = nil
	fm.logFile = nil
	if dataErr != nil {
		return fmt.Errorf("%w: closing data file: %v", ErrIO, dataErr)
	}
	if logErr != nil {
		return fmt.Errorf("%w: closing log file: %v", ErrIO, logErr)
	}
	return nil
}

// NumReads reports the number of page reads issued so far.
func (fm *FileManager) NumReads() uint64 {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.numReads
}

// NumWrites reports the number of page writes issued so far.
func (fm *FileManager) NumWrites() uint64 {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.numWrites
}

func (fm *FileManager) logIOError(op string, id page.PageID, err error) {
	if fm.errLimiter.Allow() {
		fm.logger.Error("Disk I/O error",
			zap.String("op", op),
			logger.Page(id),
			zap.Error(err),
		)
	}
}
