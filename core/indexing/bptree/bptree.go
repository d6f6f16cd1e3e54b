// Package bptree implements a disk-backed B+ tree index on top of the buffer
// pool. Keys and values are fixed-width records packed into page slots; all
// structural state is persistent, so a tree can be reopened over an existing
// file. The multi-threaded variant coordinates concurrent operations with
// latch crabbing over page guards.
package bptree

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/soradb/soradb/core/buffer"
	"github.com/soradb/soradb/core/storage/page"
	"github.com/soradb/soradb/pkg/telemetry"
)

// BPlusTree is a disk-backed B+ tree index over fixed-width keys and values.
// All state lives in pages staged through the buffer pool; the struct itself
// only carries configuration, so concurrent operations coordinate purely
// through page latches.
type BPlusTree[K, V any] struct {
	bpm             *buffer.BufferPoolManager
	name            string
	headerPageID    page.PageID
	keyCodec        Codec[K]
	valCodec        Codec[V]
	cmp             Comparator[K]
	leafMaxSize     int
	internalMaxSize int
	inheritFile     bool
	logger          *zap.Logger
	metrics         *telemetry.EngineMetrics
}

// Option customizes a BPlusTree.
type Option[K, V any] func(*BPlusTree[K, V])

// WithLeafMaxSize overrides the computed leaf fan-out.
func WithLeafMaxSize[K, V any](n int) Option[K, V] {
	return func(t *BPlusTree[K, V]) { t.leafMaxSize = n }
}

// WithInternalMaxSize overrides the computed internal fan-out.
func WithInternalMaxSize[K, V any](n int) Option[K, V] {
	return func(t *BPlusTree[K, V]) { t.internalMaxSize = n }
}

// WithHeaderPageID places the tree's header on a specific page, letting
// several trees share one pool and file.
func WithHeaderPageID[K, V any](id page.PageID) Option[K, V] {
	return func(t *BPlusTree[K, V]) { t.headerPageID = id }
}

// WithIndexName labels the tree in log output.
func WithIndexName[K, V any](name string) Option[K, V] {
	return func(t *BPlusTree[K, V]) { t.name = name }
}

// WithInheritFile(false) discards any root recorded by a previous run,
// starting the index empty over the existing file.
func WithInheritFile[K, V any](inherit bool) Option[K, V] {
	return func(t *BPlusTree[K, V]) { t.inheritFile = inherit }
}

// WithTreeLogger sets the tree's logger.
func WithTreeLogger[K, V any](lg *zap.Logger) Option[K, V] {
	return func(t *BPlusTree[K, V]) { t.logger = lg }
}

// WithTreeMetrics attaches engine counters.
func WithTreeMetrics[K, V any](em *telemetry.EngineMetrics) Option[K, V] {
	return func(t *BPlusTree[K, V]) { t.metrics = em }
}

// New opens a B+ tree over the pool. The header page is formatted on first
// use and adopted as-is on reopen, so an index survives process restarts.
// Fan-outs default to what fits in a page, minus one slot of headroom so a
// node can briefly overflow before it splits.
func New[K, V any](bpm *buffer.BufferPoolManager, kc Codec[K], vc Codec[V], cmp Comparator[K], opts ...Option[K, V]) (*BPlusTree[K, V], error) {
	t := &BPlusTree[K, V]{
		bpm:          bpm,
		headerPageID: page.HeaderPageID,
		keyCodec:     kc,
		valCodec:     vc,
		cmp:          cmp,
		inheritFile:  true,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	avail := bpm.PageSize() - nodeHeaderSize
	if t.leafMaxSize == 0 {
		t.leafMaxSize = avail/(kc.Size()+vc.Size()) - 1
	}
	if t.internalMaxSize == 0 {
		t.internalMaxSize = avail/(kc.Size()+4) - 1
	}
	if t.leafMaxSize < 2 || t.internalMaxSize < 3 {
		return nil, fmt.Errorf("%w: page size %d too small for key width %d", ErrInvariantViolated, bpm.PageSize(), kc.Size())
	}
	if err := t.ensureHeader(); err != nil {
		return nil, err
	}
	return t, nil
}

// ensureHeader formats the header page unless a previous run already did.
func (t *BPlusTree[K, V]) ensureHeader() error {
	guard, err := t.bpm.FetchPageWrite(t.headerPageID)
	if err != nil {
		return fmt.Errorf("fetch header page %d: %w", t.headerPageID, err)
	}
	defer guard.Drop()
	h := node{guard.Data()}
	switch h.pageType() {
	case pageTypeHeader:
		if !t.inheritFile {
			node{guard.DataMut()}.setAux(page.InvalidPageID)
		}
		return nil
	case pageTypeInvalid:
		h = node{guard.DataMut()}
		h.setPageType(pageTypeHeader)
		h.setSize(0)
		h.setMaxSize(0)
		h.setAux(page.InvalidPageID)
		return nil
	default:
		return fmt.Errorf("%w: page %d carries type %d, cannot host a header", ErrTreeCorrupted, t.headerPageID, h.pageType())
	}
}

func (t *BPlusTree[K, V]) headerOf(data []byte) node {
	h := node{data}
	h.checkType(pageTypeHeader)
	return h
}

// GetRootPageID reports the current root, or the invalid id when the tree is
// empty.
func (t *BPlusTree[K, V]) GetRootPageID() (page.PageID, error) {
	guard, err := t.bpm.FetchPageRead(t.headerPageID)
	if err != nil {
		return page.InvalidPageID, err
	}
	defer guard.Drop()
	return t.headerOf(guard.Data()).aux(), nil
}

// IsEmpty reports whether the tree holds no keys.
func (t *BPlusTree[K, V]) IsEmpty() (bool, error) {
	root, err := t.GetRootPageID()
	if err != nil {
		return false, err
	}
	return !root.Valid(), nil
}

// GetValue collects every value whose key compares equal to key under the
// tree's comparator. The unique-key tree yields at most one value.
func (t *BPlusTree[K, V]) GetValue(ctx context.Context, key K) ([]V, error) {
	return t.GetValueWith(ctx, key, t.cmp)
}

// GetValueWith collects matches under an alternative comparator, typically a
// prefix comparator that equates a range of stored keys.
func (t *BPlusTree[K, V]) GetValueWith(ctx context.Context, key K, cmp Comparator[K]) ([]V, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	guard, err := t.bpm.FetchPageRead(t.headerPageID)
	if err != nil {
		return nil, err
	}
	rootID := t.headerOf(guard.Data()).aux()
	if !rootID.Valid() {
		guard.Drop()
		return nil, nil
	}

	cur, err := t.bpm.FetchPageRead(rootID)
	guard.Drop()
	if err != nil {
		return nil, err
	}
	for pageKind(cur.Data()) == pageTypeInternal {
		iv := t.internal(cur.Data())
		childID := iv.childAt(iv.lastIndexLT(key, cmp))
		next, err := t.bpm.FetchPageRead(childID)
		cur.Drop()
		if err != nil {
			return nil, err
		}
		cur = next
	}

	var out []V
	lv := t.leaf(cur.Data())
	idx := lv.lastIndexLT(key, cmp) + 1
	for {
		for ; idx < lv.size(); idx++ {
			if cmp(lv.keyAt(idx), key) != 0 {
				cur.Drop()
				return out, nil
			}
			out = append(out, lv.valueAt(idx))
		}
		nextID := lv.nextLeafID()
		if !nextID.Valid() {
			cur.Drop()
			return out, nil
		}
		next, err := t.bpm.FetchPageRead(nextID)
		cur.Drop()
		if err != nil {
			return nil, err
		}
		cur = next
		lv = t.leaf(cur.Data())
		idx = 0
	}
}

func (t *BPlusTree[K, V]) countSplit() {
	if t.metrics != nil {
		t.metrics.TreeSplits.Add(context.Background(), 1)
	}
}

func (t *BPlusTree[K, V]) countCoalesce() {
	if t.metrics != nil {
		t.metrics.TreeCoalesces.Add(context.Background(), 1)
	}
}
