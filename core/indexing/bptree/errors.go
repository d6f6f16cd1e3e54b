package bptree

import "errors"

var (
	// ErrDuplicateKey is returned when inserting a key that already exists.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrKeyNotFound is returned when removing or finding a key that does
	// not exist.
	ErrKeyNotFound = errors.New("key not found")
	// ErrIndexOutOfRange signals a slot access outside the node's occupied
	// range. Page views panic with it; it always indicates a caller bug.
	ErrIndexOutOfRange = errors.New("slot index out of range")
	// ErrInvariantViolated signals structural corruption such as a page
	// whose type tag does not match the view placed over it.
	ErrInvariantViolated = errors.New("tree invariant violated")
	// ErrIteratorExhausted is returned when dereferencing or advancing an
	// iterator that reached the end of the index.
	ErrIteratorExhausted = errors.New("iterator exhausted")
	// ErrTreeCorrupted is returned when a descent encounters a page whose
	// contents cannot belong to this index.
	ErrTreeCorrupted = errors.New("index structure corrupted")
)
