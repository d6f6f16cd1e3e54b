package buffer

import (
	"container/list"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/soradb/soradb/core/storage/disk"
	"github.com/soradb/soradb/core/storage/page"
	"github.com/soradb/soradb/pkg/logger"
	"github.com/soradb/soradb/pkg/telemetry"
)

var (
	// ErrPoolExhausted is returned when no frame is free and none is
	// evictable.
	ErrPoolExhausted = errors.New("buffer pool exhausted")
	// ErrPageNotResident is returned when an operation requires the page
	// to be in the pool.
	ErrPageNotResident = errors.New("page not resident in buffer pool")
	// ErrPagePinned is returned when deleting a page that is still pinned.
	ErrPagePinned = errors.New("page is pinned")
)

// Mode selects the concurrency contract of the pool and its frames.
type Mode int

const (
	// ModeThreadSafe guards the pool with a mutex and gives every frame a
	// live reader/writer latch.
	ModeThreadSafe Mode = iota
	// ModeSingleThreaded elides the pool mutex and frame latches. The
	// caller promises a single logical thread of execution.
	ModeSingleThreaded
)

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// Option customizes a BufferPoolManager.
type Option func(*BufferPoolManager)

// WithLogger sets the pool's logger.
func WithLogger(lg *zap.Logger) Option {
	return func(m *BufferPoolManager) { m.logger = lg }
}

// WithMode selects the concurrency mode.
func WithMode(mode Mode) Option {
	return func(m *BufferPoolManager) { m.mode = mode }
}

// WithMetrics attaches engine counters.
func WithMetrics(em *telemetry.EngineMetrics) Option {
	return func(m *BufferPoolManager) { m.metrics = em }
}

// BufferPoolManager stages disk pages through a fixed pool of frames. It owns
// the page table, the free list, the replacer, and the monotonic page id
// allocator.
type BufferPoolManager struct {
	mu        sync.Locker
	mode      Mode
	poolSize  int
	pageSize  int
	frames    []*page.Page
	pageTable map[page.PageID]FrameID
	freeList  *list.List // FrameID
	replacer  *LRUKReplacer
	dm        disk.Manager
	logger    *zap.Logger
	metrics   *telemetry.EngineMetrics

	nextPageID page.PageID
}

// NewBufferPoolManager creates a pool of poolSize frames over the given disk
// manager, using LRU-K eviction with the given k. The next-page-id counter is
// restored from the disk manager's log region when present.
func NewBufferPoolManager(poolSize int, k int, dm disk.Manager, opts ...Option) (*BufferPoolManager, error) {
	m := &BufferPoolManager{
		mode:      ModeThreadSafe,
		poolSize:  poolSize,
		pageSize:  dm.PageSize(),
		pageTable: make(map[page.PageID]FrameID),
		freeList:  list.New(),
		replacer:  NewLRUKReplacer(poolSize, k),
		dm:        dm,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.mode == ModeThreadSafe {
		m.mu = &sync.Mutex{}
	} else {
		m.mu = nopLocker{}
	}
	m.frames = make([]*page.Page, poolSize)
	for i := range m.frames {
		m.frames[i] = page.New(m.pageSize, m.mode == ModeThreadSafe)
		m.freeList.PushBack(FrameID(i))
	}
	m.nextPageID = m.restoreNextPageID()
	return m, nil
}

// restoreNextPageID reads the allocation counter from the log region,
// defaulting to the first id past the header.
func (m *BufferPoolManager) restoreNextPageID() page.PageID {
	buf := make([]byte, 8)
	n, err := m.dm.ReadLog(buf, 0)
	if err != nil || n < 8 {
		return page.HeaderPageID + 1
	}
	restored := page.PageID(binary.LittleEndian.Uint64(buf))
	if restored <= page.HeaderPageID {
		return page.HeaderPageID + 1
	}
	return restored
}

// allocatePage hands out the next page id and persists the counter. Ids are
// never reused.
func (m *BufferPoolManager) allocatePage() page.PageID {
	id := m.nextPageID
	m.nextPageID++
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(m.nextPageID))
	if err := m.dm.WriteLog(buf); err != nil {
		m.logger.Warn("Failed to persist next page id", zap.Error(err))
	}
	return id
}

// getVictimFrame finds a frame for a new occupant: free list first, then the
// replacer. A dirty victim is written back before the frame is handed out.
// Caller holds the pool mutex.
func (m *BufferPoolManager) getVictimFrame() (FrameID, error) {
	if front := m.freeList.Front(); front != nil {
		m.freeList.Remove(front)
		return front.Value.(FrameID), nil
	}
	fid, ok := m.replacer.Evict()
	if !ok {
		return InvalidFrameID, ErrPoolExhausted
	}
	frame := m.frames[fid]
	if frame.IsDirty() {
		if err := m.dm.WritePage(frame.ID(), frame.Data()); err != nil {
			m.logger.Error("Write-back of evicted page failed",
				logger.Page(frame.ID()), zap.Error(err))
		}
		m.countDiskWrite()
	}
	delete(m.pageTable, frame.ID())
	frame.Reset()
	m.countEviction()
	return fid, nil
}

// NewPage allocates a fresh page id, installs it in a frame, and returns the
// frame pinned once.
func (m *BufferPoolManager) NewPage() (*page.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, err := m.getVictimFrame()
	if err != nil {
		return nil, err
	}
	id := m.allocatePage()
	frame := m.frames[fid]
	frame.Reset()
	frame.SetID(id)
	frame.SetPinCount(1)
	m.pageTable[id] = fid
	m.recordAccess(fid)
	return frame, nil
}

// FetchPage returns the frame holding the page, reading it from disk when it
// is not resident. The frame comes back pinned.
func (m *BufferPoolManager) FetchPage(id page.PageID) (*page.Page, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: invalid page id", ErrPageNotResident)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if fid, ok := m.pageTable[id]; ok {
		frame := m.frames[fid]
		frame.Pin()
		m.recordAccess(fid)
		m.countHit()
		return frame, nil
	}

	fid, err := m.getVictimFrame()
	if err != nil {
		return nil, err
	}
	frame := m.frames[fid]
	if err := m.dm.ReadPage(id, frame.Data()); err != nil {
		// Best effort: keep whatever bytes came back and surface the
		// page anyway, the error has been logged at the disk layer.
		m.logger.Warn("Read fault on fetch", logger.Page(id), zap.Error(err))
	}
	m.countDiskRead()
	m.countMiss()
	frame.SetID(id)
	frame.SetPinCount(1)
	frame.SetDirty(false)
	m.pageTable[id] = fid
	m.recordAccess(fid)
	return frame, nil
}

// UnpinPage decrements the page's pin count, folding madeDirty into its dirty
// bit. Returns false when the pin count was already zero; unpinning a
// non-resident page reports success.
func (m *BufferPoolManager) UnpinPage(id page.PageID, madeDirty bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.pageTable[id]
	if !ok {
		return true
	}
	frame := m.frames[fid]
	if frame.PinCount() <= 0 {
		return false
	}
	frame.Unpin()
	if madeDirty {
		frame.SetDirty(true)
	}
	if frame.PinCount() == 0 {
		m.replacer.SetEvictable(fid, true)
	}
	return true
}

// FlushPage writes the resident page to disk unconditionally and clears its
// dirty bit.
func (m *BufferPoolManager) FlushPage(id page.PageID) error {
	if !id.Valid() {
		return fmt.Errorf("%w: invalid page id", ErrPageNotResident)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.pageTable[id]
	if !ok {
		return fmt.Errorf("%w: page %d", ErrPageNotResident, id)
	}
	frame := m.frames[fid]
	if err := m.dm.WritePage(id, frame.Data()); err != nil {
		return err
	}
	m.countDiskWrite()
	frame.SetDirty(false)
	return nil
}

// FlushAllPages flushes every resident page.
func (m *BufferPoolManager) FlushAllPages() error {
	m.mu.Lock()
	ids := make([]page.PageID, 0, len(m.pageTable))
	for id := range m.pageTable {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.FlushPage(id); err != nil && !errors.Is(err, ErrPageNotResident) {
			return err
		}
	}
	return nil
}

// DeletePage evicts the page from the pool and recycles its frame. The page
// id itself is never reused. Deleting a non-resident page succeeds; deleting
// a pinned page is refused.
func (m *BufferPoolManager) DeletePage(id page.PageID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.pageTable[id]
	if !ok {
		return true, nil
	}
	frame := m.frames[fid]
	if frame.PinCount() > 0 {
		return false, fmt.Errorf("%w: page %d has pin count %d", ErrPagePinned, id, frame.PinCount())
	}
	if err := m.replacer.Remove(fid); err != nil {
		return false, err
	}
	delete(m.pageTable, id)
	frame.Reset()
	m.freeList.PushBack(fid)
	return true, nil
}

// PoolSize reports the number of frames in the pool.
func (m *BufferPoolManager) PoolSize() int { return m.poolSize }

// PageSize reports the page size in bytes.
func (m *BufferPoolManager) PageSize() int { return m.pageSize }

// Mode reports the pool's concurrency mode.
func (m *BufferPoolManager) Mode() Mode { return m.mode }

// PinCount reports the pin count of a resident page, or -1 when the page is
// not resident.
func (m *BufferPoolManager) PinCount(id page.PageID) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	fid, ok := m.pageTable[id]
	if !ok {
		return -1
	}
	return m.frames[fid].PinCount()
}

// recordAccess tells the replacer about the access and pins the frame against
// eviction. Caller holds the pool mutex.
func (m *BufferPoolManager) recordAccess(fid FrameID) {
	if err := m.replacer.RecordAccess(fid); err != nil {
		// Cannot happen while the replacer capacity equals the pool
		// size; treat as a structural fault.
		m.logger.Error("Replacer rejected access", logger.Frame(int32(fid)), zap.Error(err))
	}
	m.replacer.SetEvictable(fid, false)
}

func (m *BufferPoolManager) countHit() {
	if m.metrics != nil {
		m.metrics.PoolHits.Add(context.Background(), 1)
	}
}

func (m *BufferPoolManager) countMiss() {
	if m.metrics != nil {
		m.metrics.PoolMisses.Add(context.Background(), 1)
	}
}

func (m *BufferPoolManager) countEviction() {
	if m.metrics != nil {
		m.metrics.PoolEvictions.Add(context.Background(), 1)
	}
}

func (m *BufferPoolManager) countDiskRead() {
	if m.metrics != nil {
		m.metrics.DiskReads.Add(context.Background(), 1)
	}
}

func (m *BufferPoolManager) countDiskWrite() {
	if m.metrics != nil {
		m.metrics.DiskWrites.Add(context.Background(), 1)
	}
}
