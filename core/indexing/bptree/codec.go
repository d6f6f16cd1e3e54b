package bptree

import (
	"bytes"
	"cmp"
	"encoding/binary"
)

// Codec serializes fixed-width values into page slots. Every value of a type
// occupies exactly Size bytes so slot offsets stay computable.
type Codec[T any] interface {
	Size() int
	Encode(buf []byte, v T)
	Decode(buf []byte) T
}

// Comparator imposes a total order on keys. Negative means a < b, zero means
// equal, positive means a > b.
type Comparator[K any] func(a, b K) int

// DefaultOrder compares keys with the natural ordering of the type.
func DefaultOrder[K cmp.Ordered](a, b K) int { return cmp.Compare(a, b) }

// Uint64Codec stores uint64 keys in 8 little-endian bytes.
type Uint64Codec struct{}

func (Uint64Codec) Size() int { return 8 }
func (Uint64Codec) Encode(buf []byte, v uint64) { binary.LittleEndian.PutUint64(buf, v) }
func (Uint64Codec) Decode(buf []byte) uint64 { return binary.LittleEndian.Uint64(buf) }

// Int64Codec stores int64 keys in 8 little-endian bytes. Two's complement
// round-trips through uint64 without loss.
type Int64Codec struct{}

func (Int64Codec) Size() int { return 8 }
func (Int64Codec) Encode(buf []byte, v int64) { binary.LittleEndian.PutUint64(buf, uint64(v)) }
func (Int64Codec) Decode(buf []byte) int64 { return int64(binary.LittleEndian.Uint64(buf)) }

// BytesCodec stores fixed-width byte-string keys. Shorter inputs are
// zero-padded on encode; Decode returns a copy of the full width.
type BytesCodec struct {
	Width int
}

func (c BytesCodec) Size() int { return c.Width }

func (c BytesCodec) Encode(buf []byte, v []byte) {
	n := copy(buf[:c.Width], v)
	for i := n; i < c.Width; i++ {
		buf[i] = 0
	}
}

func (c BytesCodec) Decode(buf []byte) []byte {
	out := make([]byte, c.Width)
	copy(out, buf[:c.Width])
	return out
}

// BytesOrder compares byte-string keys lexicographically.
func BytesOrder(a, b []byte) int { return bytes.Compare(a, b) }

// RID locates a tuple by page and slot.
type RID struct {
	PageID  uint32
	SlotNum uint32
}

// RIDCodec stores RIDs in 8 little-endian bytes.
type RIDCodec struct{}

func (RIDCodec) Size() int { return 8 }

func (RIDCodec) Encode(buf []byte, v RID) {
	binary.LittleEndian.PutUint32(buf[0:4], v.PageID)
	binary.LittleEndian.PutUint32(buf[4:8], v.SlotNum)
}

func (RIDCodec) Decode(buf []byte) RID {
	return RID{
		PageID:  binary.LittleEndian.Uint32(buf[0:4]),
		SlotNum: binary.LittleEndian.Uint32(buf[4:8]),
	}
}
