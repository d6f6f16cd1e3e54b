package bptree

import (
	"encoding/binary"
	"fmt"

	"github.com/soradb/soradb/core/storage/page"
)

// Page type tags stored in the first four bytes of every page.
const (
	pageTypeInvalid  uint32 = 0
	pageTypeHeader   uint32 = 1
	pageTypeLeaf     uint32 = 2
	pageTypeInternal uint32 = 3
)

// In-page header layout. All fields are little-endian uint32.
//
//	[0:4)   page type tag
//	[4:8)   current size
//	[8:12)  max size
//	[12:16) next leaf id (leaf), root id (header), reserved (internal)
//	[16:)   packed slot array
const (
	offType        = 0
	offSize        = 4
	offMax         = 8
	offAux         = 12
	nodeHeaderSize = 16
)

// node is the accessor layer every view shares. It interprets the first
// sixteen bytes of the underlying buffer.
type node struct {
	data []byte
}

func (n node) pageType() uint32 { return binary.LittleEndian.Uint32(n.data[offType:]) }

func (n node) setPageType(t uint32) { binary.LittleEndian.PutUint32(n.data[offType:], t) }

func (n node) size() int { return int(binary.LittleEndian.Uint32(n.data[offSize:])) }

func (n node) setSize(s int) { binary.LittleEndian.PutUint32(n.data[offSize:], uint32(s)) }

func (n node) increaseSize(d int) { n.setSize(n.size() + d) }

func (n node) maxSize() int { return int(binary.LittleEndian.Uint32(n.data[offMax:])) }

func (n node) setMaxSize(m int) { binary.LittleEndian.PutUint32(n.data[offMax:], uint32(m)) }

func (n node) aux() page.PageID { return page.PageID(binary.LittleEndian.Uint32(n.data[offAux:])) }

func (n node) sizeExceeded() bool { return n.size() > n.maxSize() }

func (n node) insertSafe() bool { return n.size()+1 <= n.maxSize() }

func (n node) setAux(id page.PageID) { binary.LittleEndian.PutUint32(n.data[offAux:], uint32(id)) }

// checkType panics when the buffer does not carry the expected tag. Placing a
// view over the wrong page type is a caller bug, not a recoverable state.
func (n node) checkType(want uint32) {
	if got := n.pageType(); got != want {
		panic(fmt.Errorf("%w: page type %d, expected %d", ErrInvariantViolated, got, want))
	}
}

func (n node) checkIndex(idx, limit int) {
	if idx < 0 || idx >= limit {
		panic(fmt.Errorf("%w: index %d, size %d", ErrIndexOutOfRange, idx, limit))
	}
}

// pageKind reports the tag of a raw buffer without asserting it.
func pageKind(data []byte) uint32 { return binary.LittleEndian.Uint32(data[offType:]) }
