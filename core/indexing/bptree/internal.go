package bptree

import (
	"encoding/binary"

	"github.com/soradb/soradb/core/storage/page"
)

// internalView overlays the slotted internal layout on a guarded page buffer.
// Size counts children: child i lives in slot i's value, separator keys occupy
// slots 1 through size-1, and slot 0's key bytes carry no meaning except as
// scratch during sibling redistribution.
type internalView[K any] struct {
	node
	kc  Codec[K]
	cmp Comparator[K]
}

func (t *BPlusTree[K, V]) internal(data []byte) internalView[K] {
	v := internalView[K]{node: node{data}, kc: t.keyCodec, cmp: t.cmp}
	v.checkType(pageTypeInternal)
	return v
}

// initInternal formats a raw buffer as an empty internal node.
func (t *BPlusTree[K, V]) initInternal(data []byte, maxSize int) internalView[K] {
	n := node{data}
	n.setPageType(pageTypeInternal)
	n.setSize(0)
	n.setMaxSize(maxSize)
	n.setAux(page.InvalidPageID)
	return internalView[K]{node: n, kc: t.keyCodec, cmp: t.cmp}
}

func (v internalView[K]) slotSize() int { return v.kc.Size() + 4 }

func (v internalView[K]) slot(i int) []byte {
	off := nodeHeaderSize + i*v.slotSize()
	return v.data[off : off+v.slotSize()]
}

func (v internalView[K]) keyAt(i int) K {
	v.checkIndex(i, v.size())
	return v.kc.Decode(v.slot(i))
}

func (v internalView[K]) setKeyAt(i int, key K) {
	v.checkIndex(i, v.size())
	v.kc.Encode(v.slot(i), key)
}

func (v internalView[K]) childAt(i int) page.PageID {
	v.checkIndex(i, v.size())
	return page.PageID(binary.LittleEndian.Uint32(v.slot(i)[v.kc.Size():]))
}

func (v internalView[K]) setChildAt(i int, id page.PageID) {
	v.checkIndex(i, v.size())
	binary.LittleEndian.PutUint32(v.slot(i)[v.kc.Size():], uint32(id))
}

func (v internalView[K]) minSize() int { return (v.maxSize() + 1) / 2 }

func (v internalView[K]) sizeNotEnough() bool { return v.size() < v.minSize() }
func (v internalView[K]) removeSafe() bool { return v.size()-1 >= v.minSize() }

// lastIndexLE returns the largest key slot comparing <= key, or 0 when every
// separator is greater. The result is always a valid child index.
func (v internalView[K]) lastIndexLE(key K, cmp Comparator[K]) int {
	lo, hi, res := 1, v.size()-1, 0
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

// lastIndexLT returns the largest key slot comparing < key, or 0 when none.
func (v internalView[K]) lastIndexLT(key K, cmp Comparator[K]) int {
	lo, hi, res := 1, v.size()-1, 0
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

// indexEq returns the key slot exactly matching key, or -1.
func (v internalView[K]) indexEq(key K, cmp Comparator[K]) int {
	idx := v.lastIndexLE(key, cmp)
	if idx < 1 || cmp(v.keyAt(idx), key) != 0 {
		return -1
	}
	return idx
}

// insertSorted places a separator and its right child at the sorted position.
// Returns the insertion index, or -1 when the separator already exists.
func (v internalView[K]) insertSorted(key K, child page.PageID) int {
	idx := v.lastIndexLE(key, v.cmp)
	if idx >= 1 && v.cmp(v.keyAt(idx), key) == 0 {
		return -1
	}
	ss := v.slotSize()
	start := nodeHeaderSize + (idx+1)*ss
	end := nodeHeaderSize + v.size()*ss
	copy(v.data[start+ss:end+ss], v.data[start:end])
	v.increaseSize(1)
	v.kc.Encode(v.slot(idx+1), key)
	binary.LittleEndian.PutUint32(v.slot(idx+1)[v.kc.Size():], uint32(child))
	return idx + 1
}

// removeAt deletes slot i and returns its separator and child.
func (v internalView[K]) removeAt(i int) (K, page.PageID) {
	key, child := v.keyAt(i), v.childAt(i)
	ss := v.slotSize()
	start := nodeHeaderSize + (i+1)*ss
	end := nodeHeaderSize + v.size()*ss
	copy(v.data[start-ss:end-ss], v.data[start:end])
	v.increaseSize(-1)
	return key, child
}

// removeByKey deletes the slot whose separator matches exactly. Returns the
// index it occupied, or -1 when absent.
func (v internalView[K]) removeByKey(key K) int {
	idx := v.indexEq(key, v.cmp)
	if idx < 0 {
		return -1
	}
	v.removeAt(idx)
	return idx
}

// copySecondHalfTo moves the upper half of the slots into an empty sibling.
// The slot at size/2 carries the separator the caller promotes to the parent;
// its child becomes the sibling's slot-0 value.
func (v internalView[K]) copySecondHalfTo(other internalView[K]) {
	sz := v.size()
	start := sz / 2
	ss := v.slotSize()
	copy(other.data[nodeHeaderSize:], v.data[nodeHeaderSize+start*ss:nodeHeaderSize+sz*ss])
	v.setSize(start)
	other.setSize(sz - start)
}

// copyFirstNTo appends the receiver's first n slots to other's tail and
// compacts the receiver. Callers stage the parent separator into the relevant
// slot-0 key bytes first so separators travel with their children.
func (v internalView[K]) copyFirstNTo(n int, other internalView[K]) {
	ss := v.slotSize()
	copy(other.data[nodeHeaderSize+other.size()*ss:], v.data[nodeHeaderSize:nodeHeaderSize+n*ss])
	copy(v.data[nodeHeaderSize:], v.data[nodeHeaderSize+n*ss:nodeHeaderSize+v.size()*ss])
	other.increaseSize(n)
	v.increaseSize(-n)
}

// copyLastNTo prepends the receiver's last n slots to other's front.
func (v internalView[K]) copyLastNTo(n int, other internalView[K]) {
	ss := v.slotSize()
	copy(other.data[nodeHeaderSize+n*ss:], other.data[nodeHeaderSize:nodeHeaderSize+other.size()*ss])
	copy(other.data[nodeHeaderSize:], v.data[nodeHeaderSize+(v.size()-n)*ss:nodeHeaderSize+v.size()*ss])
	other.increaseSize(n)
	v.increaseSize(-n)
}
