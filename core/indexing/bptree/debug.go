package bptree

import (
	"fmt"
	"strings"

	"github.com/soradb/soradb/core/storage/page"
)

// DebugString renders the tree depth first, one line per page indented by
// depth, for inspection in tests and the CLI. Not safe against concurrent
// writers.
func (t *BPlusTree[K, V]) DebugString() (string, error) {
	rootID, err := t.GetRootPageID()
	if err != nil {
		return "", err
	}
	if !rootID.Valid() {
		return "(empty)\n", nil
	}
	var sb strings.Builder
	if err := t.dumpPage(&sb, rootID, 0); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (t *BPlusTree[K, V]) dumpPage(sb *strings.Builder, id page.PageID, depth int) error {
	guard, err := t.bpm.FetchPageBasic(id)
	if err != nil {
		return err
	}
	defer guard.Drop()
	indent := strings.Repeat("  ", depth)
	switch pageKind(guard.Data()) {
	case pageTypeLeaf:
		lv := t.leaf(guard.Data())
		keys := make([]string, 0, lv.size())
		for i := 0; i < lv.size(); i++ {
			keys = append(keys, fmt.Sprintf("%v", lv.keyAt(i)))
		}
		fmt.Fprintf(sb, "%sleaf %d next=%d [%s]\n", indent, id, lv.nextLeafID(), strings.Join(keys, " "))
	case pageTypeInternal:
		iv := t.internal(guard.Data())
		seps := make([]string, 0, iv.size())
		for i := 1; i < iv.size(); i++ {
			seps = append(seps, fmt.Sprintf("%v", iv.keyAt(i)))
		}
		fmt.Fprintf(sb, "%sinternal %d [%s]\n", indent, id, strings.Join(seps, " "))
		for i := 0; i < iv.size(); i++ {
			if err := t.dumpPage(sb, iv.childAt(i), depth+1); err != nil {
				return err
			}
		}
	default:
		fmt.Fprintf(sb, "%spage %d type=%d\n", indent, id, pageKind(guard.Data()))
	}
	return nil
}
