package bptree

import (
	"context"

	"go.uber.org/zap"

	"github.com/soradb/soradb/core/buffer"
	"github.com/soradb/soradb/core/storage/page"
	"github.com/soradb/soradb/pkg/logger"
)

// Remove deletes the pair with the given key. Returns false without error
// when the key is absent.
//
// Mirrors Insert: a read-guarded fast path that only write-latches the leaf,
// falling back to a write-guarded crabbing descent whenever restructuring or
// a separator rewrite could reach above the leaf.
func (t *BPlusTree[K, V]) Remove(ctx context.Context, key K) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	removed, done, err := t.removeOptimistic(key)
	if err != nil || done {
		return removed, err
	}
	return t.removePessimistic(key)
}

func (t *BPlusTree[K, V]) removeOptimistic(key K) (bool, bool, error) {
	guard, err := t.bpm.FetchPageRead(t.headerPageID)
	if err != nil {
		return false, false, err
	}
	rootID := t.headerOf(guard.Data()).aux()
	if !rootID.Valid() {
		guard.Drop()
		return false, true, nil
	}

	cur, err := t.bpm.FetchPageRead(rootID)
	guard.Drop()
	if err != nil {
		return false, false, err
	}
	for pageKind(cur.Data()) == pageTypeInternal {
		iv := t.internal(cur.Data())
		atRoot := cur.PageID() == rootID
		if (atRoot && iv.size() == 1) || (!atRoot && !iv.removeSafe()) {
			cur.Drop()
			return false, false, nil
		}
		idx := iv.lastIndexLE(key, t.cmp)
		// A separator equal to the target would need rewriting on the
		// way back up, which the fast path cannot do.
		if idx != 0 && t.cmp(iv.keyAt(idx), key) == 0 {
			cur.Drop()
			return false, false, nil
		}
		next, err := t.bpm.FetchPageRead(iv.childAt(idx))
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
	if !lv.removeSafe() || lv.size() == 0 || t.cmp(lv.keyAt(0), key) == 0 {
		return false, false, nil
	}
	idx := lv.indexEq(key, t.cmp)
	if idx < 0 {
		return false, true, nil
	}
	t.leaf(w.DataMut()).removeAt(idx)
	return true, true, nil
}

func (t *BPlusTree[K, V]) removePessimistic(key K) (bool, error) {
	header, err := t.bpm.FetchPageWrite(t.headerPageID)
	if err != nil {
		return false, err
	}
	defer dropGuard(&header)

	rootID := t.headerOf(header.Data()).aux()
	if !rootID.Valid() {
		return false, nil
	}

	var writeSet []*buffer.WriteGuard
	var indexSet []int
	defer func() { dropGuards(writeSet) }()

	cur, err := t.bpm.FetchPageWrite(rootID)
	if err != nil {
		return false, err
	}
	writeSet = append(writeSet, cur)
	indexSet = append(indexSet, -1)

	// sepLocked pins the remaining ancestors once a separator equal to the
	// target appears on the path; that node must stay latched until the
	// replacement key is known.
	sepLocked := false
	for pageKind(cur.Data()) == pageTypeInternal {
		iv := t.internal(cur.Data())
		if !sepLocked && iv.removeSafe() {
			dropGuard(&header)
			writeSet, indexSet = retainTop(writeSet, indexSet)
		}
		idx := iv.lastIndexLE(key, t.cmp)
		if idx != 0 && t.cmp(iv.keyAt(idx), key) == 0 {
			sepLocked = true
		}
		child, err := t.bpm.FetchPageWrite(iv.childAt(idx))
		if err != nil {
			return false, err
		}
		writeSet = append(writeSet, child)
		indexSet = append(indexSet, idx)
		cur = child
	}

	lv := t.leaf(cur.Data())
	if !sepLocked && lv.removeSafe() {
		dropGuard(&header)
		writeSet, indexSet = retainTop(writeSet, indexSet)
	}
	ridx := lv.indexEq(key, t.cmp)
	if ridx < 0 {
		return false, nil
	}
	lvm := t.leaf(cur.DataMut())
	lvm.removeAt(ridx)

	var replacement K
	haveReplacement := false
	if ridx == 0 && lvm.size() > 0 {
		replacement = lvm.keyAt(0)
		haveReplacement = true
	}

	// Walk back up: rewrite the matching separator, then cure underflow
	// at each latched level while its parent is still held.
	for j := len(writeSet) - 1; j >= 0; j-- {
		g := writeSet[j]
		if pageKind(g.Data()) == pageTypeLeaf {
			if t.leaf(g.Data()).sizeNotEnough() && j > 0 {
				parent := t.internal(writeSet[j-1].DataMut())
				if err := t.cureLeafUnderflow(g, parent, indexSet[j]); err != nil {
					return false, err
				}
			}
			continue
		}
		iv := t.internal(g.Data())
		childIdx := indexSet[j+1]
		if haveReplacement && childIdx > 0 && childIdx < iv.size() && t.cmp(iv.keyAt(childIdx), key) == 0 {
			t.internal(g.DataMut()).setKeyAt(childIdx, replacement)
		}
		if iv.sizeNotEnough() && j > 0 {
			parent := t.internal(writeSet[j-1].DataMut())
			if err := t.cureInternalUnderflow(g, parent, indexSet[j]); err != nil {
				return false, err
			}
		}
	}

	if header != nil {
		if err := t.shrinkRoot(header, writeSet[0]); err != nil {
			return false, err
		}
	}
	return true, nil
}

// shrinkRoot collapses a single-child internal root onto its child and resets
// an emptied leaf root to the sentinel. The freed root page is returned to
// the pool.
func (t *BPlusTree[K, V]) shrinkRoot(header *buffer.WriteGuard, root *buffer.WriteGuard) error {
	switch pageKind(root.Data()) {
	case pageTypeInternal:
		iv := t.internal(root.Data())
		if iv.size() != 1 {
			return nil
		}
		child := iv.childAt(0)
		t.headerOf(header.DataMut()).setAux(child)
	case pageTypeLeaf:
		if t.leaf(root.Data()).size() != 0 {
			return nil
		}
		t.headerOf(header.DataMut()).setAux(page.InvalidPageID)
	default:
		return nil
	}
	id := root.PageID()
	root.Drop()
	t.deletePage(id)
	return nil
}

// cureLeafUnderflow borrows from a sibling when possible and merges
// otherwise. The freed page, if any, is deleted after its guard drops.
func (t *BPlusTree[K, V]) cureLeafUnderflow(g *buffer.WriteGuard, parent internalView[K], index int) error {
	cur := t.leaf(g.DataMut())
	ok, err := t.replenishLeaf(cur, parent, index)
	if err != nil || ok {
		return err
	}
	freed, err := t.coalesceLeaf(cur, parent, index)
	if err != nil {
		return err
	}
	if freed == g.PageID() {
		g.Drop()
	}
	if freed.Valid() {
		t.deletePage(freed)
	}
	return nil
}

func (t *BPlusTree[K, V]) cureInternalUnderflow(g *buffer.WriteGuard, parent internalView[K], index int) error {
	cur := t.internal(g.DataMut())
	ok, err := t.replenishInternal(cur, parent, index)
	if err != nil || ok {
		return err
	}
	freed, err := t.coalesceInternal(cur, parent, index)
	if err != nil {
		return err
	}
	if freed == g.PageID() {
		g.Drop()
	}
	if freed.Valid() {
		t.deletePage(freed)
	}
	return nil
}

// replenishLeaf borrows half the size difference from an adjacent sibling,
// right first. Reports whether a borrow happened.
func (t *BPlusTree[K, V]) replenishLeaf(cur leafView[K, V], parent internalView[K], index int) (bool, error) {
	if index != parent.size()-1 {
		sib, err := t.bpm.FetchPageWrite(parent.childAt(index + 1))
		if err != nil {
			return false, err
		}
		next := t.leaf(sib.DataMut())
		if diff := next.size() - cur.size(); diff >= 2 {
			next.copyFirstNTo(diff/2, cur)
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
		if diff := prev.size() - cur.size(); diff >= 2 {
			prev.copyLastNTo(diff/2, cur)
			parent.setKeyAt(index, cur.keyAt(0))
			sib.Drop()
			return true, nil
		}
		sib.Drop()
	}
	return false, nil
}

// replenishInternal is the internal-node analog, routing the parent separator
// through the scratch slot-0 key so it moves with its child.
func (t *BPlusTree[K, V]) replenishInternal(cur internalView[K], parent internalView[K], index int) (bool, error) {
	var zero K
	if index != parent.size()-1 {
		sib, err := t.bpm.FetchPageWrite(parent.childAt(index + 1))
		if err != nil {
			return false, err
		}
		next := t.internal(sib.DataMut())
		if diff := next.size() - cur.size(); diff >= 2 {
			next.setKeyAt(0, parent.keyAt(index+1))
			next.copyFirstNTo(diff/2, cur)
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
		if diff := prev.size() - cur.size(); diff >= 2 {
			cur.setKeyAt(0, parent.keyAt(index))
			prev.copyLastNTo(diff/2, cur)
			parent.setKeyAt(index, cur.keyAt(0))
			cur.setKeyAt(0, zero)
			sib.Drop()
			return true, nil
		}
		sib.Drop()
	}
	return false, nil
}

// coalesceLeaf merges with an adjacent sibling, right first, fixing the leaf
// chain and dropping the absorbed child's separator from the parent. Returns
// the page id freed by the merge, or the invalid id when neither side fits.
func (t *BPlusTree[K, V]) coalesceLeaf(cur leafView[K, V], parent internalView[K], index int) (page.PageID, error) {
	if index != parent.size()-1 {
		sibID := parent.childAt(index + 1)
		sib, err := t.bpm.FetchPageWrite(sibID)
		if err != nil {
			return page.InvalidPageID, err
		}
		next := t.leaf(sib.DataMut())
		if next.size()+cur.size() <= t.leafMaxSize {
			next.copyFirstNTo(next.size(), cur)
			parent.removeAt(index + 1)
			cur.setNextLeafID(next.nextLeafID())
			sib.Drop()
			t.countCoalesce()
			return sibID, nil
		}
		sib.Drop()
	}
	if index != 0 {
		sib, err := t.bpm.FetchPageWrite(parent.childAt(index - 1))
		if err != nil {
			return page.InvalidPageID, err
		}
		prev := t.leaf(sib.DataMut())
		if prev.size()+cur.size() <= t.leafMaxSize {
			cur.copyFirstNTo(cur.size(), prev)
			_, freed := parent.removeAt(index)
			prev.setNextLeafID(cur.nextLeafID())
			sib.Drop()
			t.countCoalesce()
			return freed, nil
		}
		sib.Drop()
	}
	return page.InvalidPageID, nil
}

// coalesceInternal merges with an adjacent sibling, pulling the parent
// separator down into the absorbed side's slot-0 key so every child keeps a
// lower bound.
func (t *BPlusTree[K, V]) coalesceInternal(cur internalView[K], parent internalView[K], index int) (page.PageID, error) {
	if index != parent.size()-1 {
		sibID := parent.childAt(index + 1)
		sib, err := t.bpm.FetchPageWrite(sibID)
		if err != nil {
			return page.InvalidPageID, err
		}
		next := t.internal(sib.DataMut())
		if next.size()+cur.size() <= t.internalMaxSize {
			sepKey, _ := parent.removeAt(index + 1)
			next.setKeyAt(0, sepKey)
			next.copyFirstNTo(next.size(), cur)
			sib.Drop()
			t.countCoalesce()
			return sibID, nil
		}
		sib.Drop()
	}
	if index != 0 {
		sib, err := t.bpm.FetchPageWrite(parent.childAt(index - 1))
		if err != nil {
			return page.InvalidPageID, err
		}
		prev := t.internal(sib.DataMut())
		if prev.size()+cur.size() <= t.internalMaxSize {
			sepKey, freed := parent.removeAt(index)
			cur.setKeyAt(0, sepKey)
			cur.copyFirstNTo(cur.size(), prev)
			sib.Drop()
			t.countCoalesce()
			return freed, nil
		}
		sib.Drop()
	}
	return page.InvalidPageID, nil
}

// deletePage returns a page to the pool, tolerating failure: a page that
// cannot be deleted right now is merely unreachable garbage, ids are never
// reused.
func (t *BPlusTree[K, V]) deletePage(id page.PageID) {
	if ok, err := t.bpm.DeletePage(id); err != nil || !ok {
		t.logger.Warn("Orphaned page could not be reclaimed",
			logger.Index(t.name), logger.Page(id), zap.Error(err))
	}
}
