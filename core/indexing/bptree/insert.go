package bptree

import (
	"context"

	"github.com/soradb/soradb/core/buffer"
)

// Insert adds the pair to the index. Returns false without error when the key
// is already present.
//
// The fast path descends with read guards and only write-latches the target
// leaf. It gives up whenever a node on the path could need restructuring and
// the slow path repeats the descent with write guards, crabbing: ancestors are
// released as soon as the current node can absorb a child growth.
func (t *BPlusTree[K, V]) Insert(ctx context.Context, key K, value V) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	inserted, done, err := t.insertOptimistic(key, value)
	if err != nil || done {
		return inserted, err
	}
	return t.insertPessimistic(key, value)
}

func (t *BPlusTree[K, V]) insertOptimistic(key K, value V) (bool, bool, error) {
	guard, err := t.bpm.FetchPageRead(t.headerPageID)
	if err != nil {
		return false, false, err
	}
	rootID := t.headerOf(guard.Data()).aux()
	if !rootID.Valid() {
		guard.Drop()
		return false, false, nil
	}

	cur, err := t.bpm.FetchPageRead(rootID)
	guard.Drop()
	if err != nil {
		return false, false, err
	}
	for pageKind(cur.Data()) == pageTypeInternal {
		iv := t.internal(cur.Data())
		if !iv.insertSafe() {
			cur.Drop()
			return false, false, nil
		}
		childID := iv.childAt(iv.lastIndexLE(key, t.cmp))
		next, err := t.bpm.FetchPageRead(childID)
		cur.Drop()
		if err != nil {
			return false, false, err
		}
		cur = next
	}

	leafID := cur.PageID()
	cur.Drop()
	w, err := t.bpm.FetchPageWrite(leafID)
	if err != nil {
		return false, false, err
	}
	defer w.Drop()
	lv := t.leaf(w.Data())
	// Inserting at position zero is only sound while the parent latch pins
	// the leaf's key range, which the fast path gave up.
	if !lv.insertSafe() || lv.size() == 0 || t.cmp(lv.keyAt(0), key) >= 0 {
		return false, false, nil
	}
	lv = t.leaf(w.DataMut())
	if lv.insertSorted(key, value) < 0 {
		return false, true, nil
	}
	return true, true, nil
}

func (t *BPlusTree[K, V]) insertPessimistic(key K, value V) (bool, error) {
	header, err := t.bpm.FetchPageWrite(t.headerPageID)
	if err != nil {
		return false, err
	}
	defer dropGuard(&header)

	rootID := t.headerOf(header.Data()).aux()
	if !rootID.Valid() {
		root, err := t.bpm.NewPageWrite()
		if err != nil {
			return false, err
		}
		defer root.Drop()
		lv := t.initLeaf(root.DataMut(), t.leafMaxSize)
		lv.insertSorted(key, value)
		t.headerOf(header.DataMut()).setAux(root.PageID())
		return true, nil
	}

	// writeSet[0] is the shallowest still-latched node; indexSet[i] is the
	// slot writeSet[i] occupies in writeSet[i-1].
	var writeSet []*buffer.WriteGuard
	var indexSet []int
	defer func() { dropGuards(writeSet) }()

	cur, err := t.bpm.FetchPageWrite(rootID)
	if err != nil {
		return false, err
	}
	writeSet = append(writeSet, cur)
	indexSet = append(indexSet, -1)

	for pageKind(cur.Data()) == pageTypeInternal {
		iv := t.internal(cur.Data())
		if iv.insertSafe() {
			dropGuard(&header)
			writeSet, indexSet = retainTop(writeSet, indexSet)
		}
		idx := iv.lastIndexLE(key, t.cmp)
		child, err := t.bpm.FetchPageWrite(iv.childAt(idx))
		if err != nil {
			return false, err
		}
		writeSet = append(writeSet, child)
		indexSet = append(indexSet, idx)
		cur = child
	}

	lv := t.leaf(cur.Data())
	if lv.insertSafe() {
		dropGuard(&header)
		writeSet, indexSet = retainTop(writeSet, indexSet)
	}
	if t.leaf(cur.DataMut()).insertSorted(key, value) < 0 {
		return false, nil
	}

	// Restructure bottom-up. Each shift or split grows the parent by at
	// most one slot, so only latched ancestors can overflow.
	for i := len(writeSet) - 1; i >= 0; i-- {
		g := writeSet[i]
		nv := node{g.Data()}
		if !nv.sizeExceeded() {
			break
		}
		if i > 0 {
			parent := t.internal(writeSet[i-1].DataMut())
			if err := t.restructureChild(g, parent, indexSet[i]); err != nil {
				return false, err
			}
			continue
		}
		if err := t.growRoot(header, g); err != nil {
			return false, err
		}
	}
	return true, nil
}

// restructureChild resolves an overfull node under a latched parent: shift
// into an adjacent sibling when one has room, split otherwise.
func (t *BPlusTree[K, V]) restructureChild(g *buffer.WriteGuard, parent internalView[K], index int) error {
	if pageKind(g.Data()) == pageTypeLeaf {
		moved, err := t.shiftLeaf(t.leaf(g.DataMut()), parent, index)
		if err != nil || moved {
			return err
		}
		return t.splitLeaf(t.leaf(g.DataMut()), parent)
	}
	moved, err := t.shiftInternal(t.internal(g.DataMut()), parent, index)
	if err != nil || moved {
		return err
	}
	return t.splitInternal(t.internal(g.DataMut()), parent)
}

// growRoot replaces an overfull root with a fresh internal root holding the
// old root and its split-off sibling.
func (t *BPlusTree[K, V]) growRoot(header *buffer.WriteGuard, oldRoot *buffer.WriteGuard) error {
	root, err := t.bpm.NewPageWrite()
	if err != nil {
		return err
	}
	defer root.Drop()
	rv := t.initInternal(root.DataMut(), t.internalMaxSize)
	rv.increaseSize(1)
	rv.setChildAt(0, oldRoot.PageID())
	if pageKind(oldRoot.Data()) == pageTypeLeaf {
		if err := t.splitLeaf(t.leaf(oldRoot.DataMut()), rv); err != nil {
			return err
		}
	} else {
		if err := t.splitInternal(t.internal(oldRoot.DataMut()), rv); err != nil {
			return err
		}
	}
	t.headerOf(header.DataMut()).setAux(root.PageID())
	return nil
}

// shiftLeaf moves half the surplus into a sibling with room, right first.
// Reports whether a shift happened.
func (t *BPlusTree[K, V]) shiftLeaf(cur leafView[K, V], parent internalView[K], index int) (bool, error) {
	if index != parent.size()-1 {
		sib, err := t.bpm.FetchPageWrite(parent.childAt(index + 1))
		if err != nil {
			return false, err
		}
		next := t.leaf(sib.DataMut())
		if diff := cur.size() - next.size(); diff >= 2 {
			cur.copyLastNTo(diff/2, next)
			parent.setKeyAt(index+1, next.keyAt(0))
			sib.Drop()
			return true, nil
		}
		sib.Drop()
	}
	if index != 0 {
		sib, err := t.bpm.FetchPageWrite(parent.childAt(index - 1))
		if err != nil {
			return false, err
		}
		prev := t.leaf(sib.DataMut())
		if diff := cur.size() - prev.size(); diff >= 2 {
			cur.copyFirstNTo(diff/2, prev)
			parent.setKeyAt(index, cur.keyAt(0))
			sib.Drop()
			return true, nil
		}
		sib.Drop()
	}
	return false, nil
}

// shiftInternal is the internal-node analog. The parent separator is staged
// into the scratch slot-0 key so it travels with its child, and the key that
// surfaces at the boundary replaces it in the parent.
func (t *BPlusTree[K, V]) shiftInternal(cur internalView[K], parent internalView[K], index int) (bool, error) {
	var zero K
	if index != parent.size()-1 {
		sib, err := t.bpm.FetchPageWrite(parent.childAt(index + 1))
		if err != nil {
			return false, err
		}
		next := t.internal(sib.DataMut())
		if diff := cur.size() - next.size(); diff >= 2 {
			next.setKeyAt(0, parent.keyAt(index+1))
			cur.copyLastNTo(diff/2, next)
			parent.setKeyAt(index+1, next.keyAt(0))
			next.setKeyAt(0, zero)
			sib.Drop()
			return true, nil
		}
		sib.Drop()
	}
	if index != 0 {
		sib, err := t.bpm.FetchPageWrite(parent.childAt(index - 1))
		if err != nil {
			return false, err
		}
		prev := t.internal(sib.DataMut())
		if diff := cur.size() - prev.size(); diff >= 2 {
			cur.setKeyAt(0, parent.keyAt(index))
			cur.copyFirstNTo(diff/2, prev)
			parent.setKeyAt(index, cur.keyAt(0))
			cur.setKeyAt(0, zero)
			sib.Drop()
			return true, nil
		}
		sib.Drop()
	}
	return false, nil
}

// splitLeaf creates a right sibling, moves the upper half into it, and hooks
// it into the parent and the leaf chain.
func (t *BPlusTree[K, V]) splitLeaf(cur leafView[K, V], parent internalView[K]) error {
	sib, err := t.bpm.NewPageWrite()
	if err != nil {
		return err
	}
	defer sib.Drop()
	next := t.initLeaf(sib.DataMut(), t.leafMaxSize)
	cur.copySecondHalfTo(next)
	parent.insertSorted(next.keyAt(0), sib.PageID())
	next.setNextLeafID(cur.nextLeafID())
	cur.setNextLeafID(sib.PageID())
	t.countSplit()
	return nil
}

// splitInternal creates a right sibling and promotes the split-point key into
// the parent; the promoted key's child becomes the sibling's slot-0 child.
func (t *BPlusTree[K, V]) splitInternal(cur internalView[K], parent internalView[K]) error {
	sib, err := t.bpm.NewPageWrite()
	if err != nil {
		return err
	}
	defer sib.Drop()
	next := t.initInternal(sib.DataMut(), t.internalMaxSize)
	parent.insertSorted(cur.keyAt(cur.size()/2), sib.PageID())
	cur.copySecondHalfTo(next)
	t.countSplit()
	return nil
}

// retainTop drops every guard except the deepest one.
func retainTop(ws []*buffer.WriteGuard, is []int) ([]*buffer.WriteGuard, []int) {
	for i := 0; i < len(ws)-1; i++ {
		ws[i].Drop()
	}
	last := len(ws) - 1
	return []*buffer.WriteGuard{ws[last]}, []int{is[last]}
}

func dropGuard(g **buffer.WriteGuard) {
	if *g != nil {
		(*g).Drop()
		*g = nil
	}
}

func dropGuards(gs []*buffer.WriteGuard) {
	for _, g := range gs {
		g.Drop()
	}
}
