// Package buffer implements the frame pool of the index engine: the LRU-K
// eviction policy, the buffer pool manager that stages pages through a fixed
// set of frames, and the scoped guards that tie pinning and latching to
// lexical scope.
package buffer

import (
	"container/list"
	"errors"
	"sync"
)

var (
	// ErrReplacerOverflow is returned when recording an access to a new
	// frame would exceed the replacer's capacity.
	ErrReplacerOverflow = errors.New("replacer capacity exceeded")
	// ErrFrameNotEvictable is returned when removing a frame that is
	// currently pinned.
	ErrFrameNotEvictable = errors.New("frame is not evictable")
)

// FrameID indexes a slot in the buffer pool's frame array.
type FrameID int32

// InvalidFrameID marks "no frame".
const InvalidFrameID FrameID = -1

// frameEntry is what the ordered lists hold: a frame id plus the timestamp
// that orders it within its class.
type frameEntry struct {
	fid FrameID
	ts  uint64
}

type frameNode struct {
	fid       FrameID
	count     uint64
	history   []uint64 // at most k most recent access timestamps, oldest first
	evictable bool
	elem      *list.Element // position in historyList or cacheList
}

// LRUKReplacer ranks frames by the recency of their k-th-most-recent access.
// Frames with fewer than k accesses form the history class, evicted before
// the cache class and ordered by first access time. Frames with at least k
// accesses form the cache class, ordered by the timestamp of their
// k-th-most-recent access.
type LRUKReplacer struct {
	mu        sync.Mutex
	capacity  int
	k         int
	timestamp uint64
	currSize  int // number of evictable tracked frames

	nodeStore   map[FrameID]*frameNode
	historyList *list.List // frameEntry, insertion ordered by first access
	cacheList   *list.List // frameEntry, sorted by k-th-most-recent access
}

// NewLRUKReplacer creates a replacer that tracks at most capacity frames.
func NewLRUKReplacer(capacity int, k int) *LRUKReplacer {
	return &LRUKReplacer{
		capacity:    capacity,
		k:           k,
		nodeStore:   make(map[FrameID]*frameNode),
		historyList: list.New(),
		cacheList:   list.New(),
	}
}

// RecordAccess notes an access to the frame at the current timestamp. A frame
// seen for the first time when the replacer is already at capacity is
// rejected with ErrReplacerOverflow; the caller owns frame allocation and
// must evict first.
func (r *LRUKReplacer) RecordAccess(fid FrameID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodeStore[fid]
	if !ok {
		if len(r.nodeStore) >= r.capacity {
			return ErrReplacerOverflow
		}
		node = &frameNode{fid: fid}
		r.nodeStore[fid] = node
	}

	r.timestamp++
	node.count++
	node.history = append(node.history, r.timestamp)

	if node.count == 1 {
		node.evictable = true
		r.currSize++
		node.elem = r.historyList.PushBack(frameEntry{fid: fid, ts: r.timestamp})
	}
	switch {
	case node.count == uint64(r.k):
		// Graduates to the cache class, ordered by its oldest retained
		// access which is now its k-th-most-recent.
		entry := frameEntry{fid: fid, ts: node.history[0]}
		r.historyList.Remove(node.elem)
		node.elem = r.insertSorted(entry)
	case node.count > uint64(r.k):
		node.history = node.history[1:]
		entry := frameEntry{fid: fid, ts: node.history[0]}
		r.cacheList.Remove(node.elem)
		node.elem = r.insertSorted(entry)
	}
	return nil
}

// insertSorted places entry into cacheList keeping it ascending by ts.
func (r *LRUKReplacer) insertSorted(entry frameEntry) *list.Element {
	for e := r.cacheList.Front(); e != nil; e = e.Next() {
		if e.Value.(frameEntry).ts > entry.ts {
			return r.cacheList.InsertBefore(entry, e)
		}
	}
	return r.cacheList.PushBack(entry)
}

// SetEvictable toggles whether the frame may be chosen as a victim. No-op
// when the frame is not tracked.
func (r *LRUKReplacer) SetEvictable(fid FrameID, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodeStore[fid]
	if !ok {
		return
	}
	if node.evictable && !evictable {
		r.currSize--
	}
	if !node.evictable && evictable {
		r.currSize++
	}
	node.evictable = evictable
}

// Evict removes and returns the best victim: the oldest evictable frame of
// the history class, falling back to the cache class. Returns false when no
// evictable frame exists.
func (r *LRUKReplacer) Evict() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currSize == 0 {
		return InvalidFrameID, false
	}
	for _, l := range []*list.List{r.historyList, r.cacheList} {
		for e := l.Front(); e != nil; e = e.Next() {
			entry := e.Value.(frameEntry)
			node := r.nodeStore[entry.fid]
			if node.evictable {
				l.Remove(e)
				delete(r.nodeStore, entry.fid)
				r.currSize--
				return entry.fid, true
			}
		}
	}
	return InvalidFrameID, false
}

// Remove drops a tracked evictable frame regardless of its access history.
// Removing a non-evictable frame is refused with ErrFrameNotEvictable;
// removing an untracked frame is a no-op.
func (r *LRUKReplacer) Remove(fid FrameID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodeStore[fid]
	if !ok {
		return nil
	}
	if !node.evictable {
		return ErrFrameNotEvictable
	}
	if node.count < uint64(r.k) {
		r.historyList.Remove(node.elem)
	} else {
		r.cacheList.Remove(node.elem)
	}
	delete(r.nodeStore, fid)
	r.currSize--
	return nil
}

// Size reports the number of evictable tracked frames.
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currSize
}
