package bptree

import (
	"github.com/soradb/soradb/core/buffer"
	"github.com/soradb/soradb/core/storage/page"
)

// Iterator walks leaf entries in ascending key order. It pins the current
// leaf without latching it, so concurrent mutation of the index while an
// iterator is seated yields undefined results. Close releases the pin early;
// exhausting the iterator releases it implicitly.
type Iterator[K, V any] struct {
	tree   *BPlusTree[K, V]
	guard  *buffer.BasicGuard
	pageID page.PageID
	index  int
}

// End returns the sentinel iterator.
func (t *BPlusTree[K, V]) End() *Iterator[K, V] {
	return &Iterator[K, V]{tree: t, pageID: page.InvalidPageID}
}

// descendToLeaf walks to a leaf choosing the child slot with pick at every
// internal node, holding only pins on the way down.
func (t *BPlusTree[K, V]) descendToLeaf(pick func(internalView[K]) int) (*buffer.BasicGuard, error) {
	guard, err := t.bpm.FetchPageBasic(t.headerPageID)
	if err != nil {
		return nil, err
	}
	rootID := t.headerOf(guard.Data()).aux()
	guard.Drop()
	if !rootID.Valid() {
		return nil, nil
	}
	cur, err := t.bpm.FetchPageBasic(rootID)
	if err != nil {
		return nil, err
	}
	for pageKind(cur.Data()) == pageTypeInternal {
		iv := t.internal(cur.Data())
		next, err := t.bpm.FetchPageBasic(iv.childAt(pick(iv)))
		cur.Drop()
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// Begin seats an iterator on the first entry of the index.
func (t *BPlusTree[K, V]) Begin() (*Iterator[K, V], error) {
	guard, err := t.descendToLeaf(func(internalView[K]) int { return 0 })
	if err != nil {
		return nil, err
	}
	if guard == nil || t.leaf(guard.Data()).size() == 0 {
		if guard != nil {
			guard.Drop()
		}
		return t.End(), nil
	}
	return &Iterator[K, V]{tree: t, guard: guard, pageID: guard.PageID(), index: 0}, nil
}

// BeginAt seats an iterator on the last entry whose key compares <= key,
// seeding range scans at or below a bound.
func (t *BPlusTree[K, V]) BeginAt(key K) (*Iterator[K, V], error) {
	guard, err := t.descendToLeaf(func(iv internalView[K]) int { return iv.lastIndexLE(key, t.cmp) })
	if err != nil {
		return nil, err
	}
	if guard == nil {
		return t.End(), nil
	}
	idx := t.leaf(guard.Data()).lastIndexLE(key, t.cmp)
	if idx < 0 {
		guard.Drop()
		return t.End(), nil
	}
	return &Iterator[K, V]{tree: t, guard: guard, pageID: guard.PageID(), index: idx}, nil
}

// First seats an iterator on the first entry comparing equal to key under
// cmp, stepping into the next leaf when the match begins at a page boundary.
// Intended for prefix comparators that equate a run of stored keys.
func (t *BPlusTree[K, V]) First(key K, cmp Comparator[K]) (*Iterator[K, V], error) {
	guard, err := t.descendToLeaf(func(iv internalView[K]) int { return iv.lastIndexLT(key, cmp) })
	if err != nil {
		return nil, err
	}
	if guard == nil {
		return t.End(), nil
	}
	lv := t.leaf(guard.Data())
	idx := lv.lastIndexLT(key, cmp) + 1
	if idx == lv.size() {
		nextID := lv.nextLeafID()
		guard.Drop()
		if !nextID.Valid() {
			return t.End(), nil
		}
		if guard, err = t.bpm.FetchPageBasic(nextID); err != nil {
			return nil, err
		}
		lv = t.leaf(guard.Data())
		idx = 0
	}
	if idx >= lv.size() || cmp(lv.keyAt(idx), key) != 0 {
		guard.Drop()
		return t.End(), nil
	}
	return &Iterator[K, V]{tree: t, guard: guard, pageID: guard.PageID(), index: idx}, nil
}

// Find seats an iterator on the exact key under the default comparator, or
// returns the sentinel.
func (t *BPlusTree[K, V]) Find(key K) (*Iterator[K, V], error) {
	guard, err := t.descendToLeaf(func(iv internalView[K]) int { return iv.lastIndexLE(key, t.cmp) })
	if err != nil {
		return nil, err
	}
	if guard == nil {
		return t.End(), nil
	}
	idx := t.leaf(guard.Data()).indexEq(key, t.cmp)
	if idx < 0 {
		guard.Drop()
		return t.End(), nil
	}
	return &Iterator[K, V]{tree: t, guard: guard, pageID: guard.PageID(), index: idx}, nil
}

// IsEnd reports whether the iterator is past the last entry.
func (it *Iterator[K, V]) IsEnd() bool { return !it.pageID.Valid() }

// Entry returns the current pair.
func (it *Iterator[K, V]) Entry() (K, V, error) {
	if it.IsEnd() {
		var k K
		var v V
		return k, v, ErrIteratorExhausted
	}
	lv := it.tree.leaf(it.guard.Data())
	return lv.keyAt(it.index), lv.valueAt(it.index), nil
}

// Key returns the current key, panicking past the end.
func (it *Iterator[K, V]) Key() K {
	k, _, err := it.Entry()
	if err != nil {
		panic(err)
	}
	return k
}

// Value returns the current value, panicking past the end.
func (it *Iterator[K, V]) Value() V {
	_, v, err := it.Entry()
	if err != nil {
		panic(err)
	}
	return v
}

// Next advances to the following entry, hopping the leaf chain at page
// boundaries and collapsing to the sentinel at the last leaf.
func (it *Iterator[K, V]) Next() error {
	if it.IsEnd() {
		return ErrIteratorExhausted
	}
	it.index++
	lv := it.tree.leaf(it.guard.Data())
	if it.index < lv.size() {
		return nil
	}
	nextID := lv.nextLeafID()
	it.guard.Drop()
	it.guard = nil
	if !nextID.Valid() {
		it.pageID = page.InvalidPageID
		return nil
	}
	guard, err := it.tree.bpm.FetchPageBasic(nextID)
	if err != nil {
		it.pageID = page.InvalidPageID
		return err
	}
	it.guard = guard
	it.pageID = nextID
	it.index = 0
	return nil
}

// Equal reports whether two iterators sit on the same entry. Any two
// sentinels compare equal.
func (it *Iterator[K, V]) Equal(other *Iterator[K, V]) bool {
	if it.IsEnd() || other.IsEnd() {
		return it.IsEnd() && other.IsEnd()
	}
	return it.pageID == other.pageID && it.index == other.index
}

// Close releases the pin on the current leaf. Safe to call more than once.
func (it *Iterator[K, V]) Close() {
	if it.guard != nil {
		it.guard.Drop()
		it.guard = nil
	}
	it.pageID = page.InvalidPageID
}
