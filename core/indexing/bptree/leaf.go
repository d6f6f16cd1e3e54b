package bptree

import (
	"github.com/soradb/soradb/core/storage/page"
)

// leafView overlays the slotted leaf layout on a guarded page buffer. Slots
// hold (key, value) pairs packed back to back, sorted by key. The view never
// copies page bytes except when decoding a slot.
type leafView[K, V any] struct {
	node
	kc  Codec[K]
	vc  Codec[V]
	cmp Comparator[K]
}

func (t *BPlusTree[K, V]) leaf(data []byte) leafView[K, V] {
	v := leafView[K, V]{node: node{data}, kc: t.keyCodec, vc: t.valCodec, cmp: t.cmp}
	v.checkType(pageTypeLeaf)
	return v
}

// initLeaf formats a raw buffer as an empty leaf.
func (t *BPlusTree[K, V]) initLeaf(data []byte, maxSize int) leafView[K, V] {
	n := node{data}
	n.setPageType(pageTypeLeaf)
	n.setSize(0)
	n.setMaxSize(maxSize)
	n.setAux(page.InvalidPageID)
	return leafView[K, V]{node: n, kc: t.keyCodec, vc: t.valCodec, cmp: t.cmp}
}

func (v leafView[K, V]) slotSize() int { return v.kc.Size() + v.vc.Size() }

func (v leafView[K, V]) slot(i int) []byte {
	off := nodeHeaderSize + i*v.slotSize()
	return v.data[off : off+v.slotSize()]
}

func (v leafView[K, V]) keyAt(i int) K {
	v.checkIndex(i, v.size())
	return v.kc.Decode(v.slot(i))
}

func (v leafView[K, V]) valueAt(i int) V {
	v.checkIndex(i, v.size())
	return v.vc.Decode(v.slot(i)[v.kc.Size():])
}

func (v leafView[K, V]) setAt(i int, key K, val V) {
	s := v.slot(i)
	v.kc.Encode(s, key)
	v.vc.Encode(s[v.kc.Size():], val)
}

func (v leafView[K, V]) nextLeafID() page.PageID { return v.aux() }
func (v leafView[K, V]) setNextLeafID(id page.PageID) { v.setAux(id) }

// minSize is half the fan-out rounded down. Rounding up would leave a node
// that a failed borrow cannot merge either, since the combined size of an
// underfull node and a minimal sibling would already exceed max.
func (v leafView[K, V]) minSize() int { return v.maxSize() / 2 }

func (v leafView[K, V]) sizeNotEnough() bool { return v.size() < v.minSize() }
func (v leafView[K, V]) removeSafe() bool { return v.size()-1 >= v.minSize() }

// lastIndexLE returns the largest index whose key compares <= key, or -1.
func (v leafView[K, V]) lastIndexLE(key K, cmp Comparator[K]) int {
	lo, hi, res := 0, v.size()-1, -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if cmp(v.keyAt(mid), key) <= 0 {
			res = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return res
}

// lastIndexLT returns the largest index whose key compares < key, or -1.
func (v leafView[K, V]) lastIndexLT(key K, cmp Comparator[K]) int {
	lo, hi, res := 0, v.size()-1, -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if cmp(v.keyAt(mid), key) < 0 {
			res = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return res
}

// firstIndexGE returns the smallest index whose key compares >= key, or size.
func (v leafView[K, V]) firstIndexGE(key K, cmp Comparator[K]) int {
	return v.lastIndexLT(key, cmp) + 1
}

// indexEq returns the index of an exactly matching key, or -1.
func (v leafView[K, V]) indexEq(key K, cmp Comparator[K]) int {
	idx := v.lastIndexLE(key, cmp)
	if idx < 0 || cmp(v.keyAt(idx), key) != 0 {
		return -1
	}
	return idx
}

// insertSorted places the pair at its sorted position. Returns the insertion
// index, or -1 when the key already exists.
func (v leafView[K, V]) insertSorted(key K, val V) int {
	idx := v.lastIndexLE(key, v.cmp)
	if idx >= 0 && v.cmp(v.keyAt(idx), key) == 0 {
		return -1
	}
	ss := v.slotSize()
	start := nodeHeaderSize + (idx+1)*ss
	end := nodeHeaderSize + v.size()*ss
	copy(v.data[start+ss:end+ss], v.data[start:end])
	v.increaseSize(1)
	v.setAt(idx+1, key, val)
	return idx + 1
}

// removeByKey deletes the pair with the exactly matching key. Returns the
// index it occupied, or -1 when absent.
func (v leafView[K, V]) removeByKey(key K) int {
	idx := v.indexEq(key, v.cmp)
	if idx < 0 {
		return -1
	}
	v.removeAt(idx)
	return idx
}

// removeAt deletes the slot at index i and returns its pair.
func (v leafView[K, V]) removeAt(i int) (K, V) {
	key, val := v.keyAt(i), v.valueAt(i)
	ss := v.slotSize()
	start := nodeHeaderSize + (i+1)*ss
	end := nodeHeaderSize + v.size()*ss
	copy(v.data[start-ss:end-ss], v.data[start:end])
	v.increaseSize(-1)
	return key, val
}

// copySecondHalfTo moves the upper half of the slots into an empty sibling.
// The receiver keeps the first size/2 slots.
func (v leafView[K, V]) copySecondHalfTo(other leafView[K, V]) {
	sz := v.size()
	start := sz / 2
	ss := v.slotSize()
	copy(other.data[nodeHeaderSize:], v.data[nodeHeaderSize+start*ss:nodeHeaderSize+sz*ss])
	v.setSize(start)
	other.setSize(sz - start)
}

// copyFirstNTo appends the receiver's first n slots to other's tail and
// compacts the receiver.
func (v leafView[K, V]) copyFirstNTo(n int, other leafView[K, V]) {
	ss := v.slotSize()
	copy(other.data[nodeHeaderSize+other.size()*ss:], v.data[nodeHeaderSize:nodeHeaderSize+n*ss])
	copy(v.data[nodeHeaderSize:], v.data[nodeHeaderSize+n*ss:nodeHeaderSize+v.size()*ss])
	other.increaseSize(n)
	v.increaseSize(-n)
}

// copyLastNTo prepends the receiver's last n slots to other's front.
func (v leafView[K, V]) copyLastNTo(n int, other leafView[K, V]) {
	ss := v.slotSize()
	copy(other.data[nodeHeaderSize+n*ss:], other.data[nodeHeaderSize:nodeHeaderSize+other.size()*ss])
	copy(other.data[nodeHeaderSize:], v.data[nodeHeaderSize+(v.size()-n)*ss:nodeHeaderSize+v.size()*ss])
	other.increaseSize(n)
	v.increaseSize(-n)
}
