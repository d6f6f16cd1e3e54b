package bptree

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soradb/soradb/core/buffer"
	"github.com/soradb/soradb/core/storage/disk"
	"github.com/soradb/soradb/core/storage/page"
)

// newTestTree builds a uint64 tree over an in-memory disk manager. The tiny
// fan-outs force multi-level structures out of a few dozen keys, so splits
// and merges get exercised constantly.
func newTestTree(t *testing.T, opts ...Option[uint64, uint64]) *BPlusTree[uint64, uint64] {
	t.Helper()
	dm := disk.NewMemManager(page.DefaultPageSize)
	bpm, err := buffer.NewBufferPoolManager(128, 2, dm)
	require.NoError(t, err)
	base := []Option[uint64, uint64]{
		WithLeafMaxSize[uint64, uint64](4),
		WithInternalMaxSize[uint64, uint64](4),
	}
	tree, err := New[uint64, uint64](bpm, Uint64Codec{}, Uint64Codec{}, DefaultOrder[uint64], append(base, opts...)...)
	require.NoError(t, err)
	return tree
}

func insertAll(t *testing.T, tree *BPlusTree[uint64, uint64], keys []uint64) {
	t.Helper()
	ctx := context.Background()
	for _, k := range keys {
		ok, err := tree.Insert(ctx, k, k*2)
		require.NoError(t, err, "insert %d", k)
		require.True(t, ok, "insert %d reported duplicate", k)
	}
}

// collect drains the tree through its iterator, asserting ascending order on
// the way.
func collect(t *testing.T, tree *BPlusTree[uint64, uint64]) []uint64 {
	t.Helper()
	it, err := tree.Begin()
	require.NoError(t, err)
	defer it.Close()

	var keys []uint64
	for !it.IsEnd() {
		k, v, err := it.Entry()
		require.NoError(t, err)
		require.Equal(t, k*2, v, "value of key %d", k)
		if len(keys) > 0 {
			require.Greater(t, k, keys[len(keys)-1], "keys out of order")
		}
		keys = append(keys, k)
		require.NoError(t, it.Next())
	}
	return keys
}

// TestBPlusTree_EmptyTree verifies the contracts that hold before any insert.
func TestBPlusTree_EmptyTree(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	empty, err := tree.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)

	root, err := tree.GetRootPageID()
	require.NoError(t, err)
	require.False(t, root.Valid())

	vals, err := tree.GetValue(ctx, 42)
	require.NoError(t, err)
	require.Empty(t, vals)

	removed, err := tree.Remove(ctx, 42)
	require.NoError(t, err)
	require.False(t, removed)

	it, err := tree.Begin()
	require.NoError(t, err)
	require.True(t, it.IsEnd())
	_, _, err = it.Entry()
	require.ErrorIs(t, err, ErrIteratorExhausted)
}

// TestBPlusTree_SequentialInsert drives the right-leaning split path: every
// insert lands in the rightmost leaf until it bursts.
func TestBPlusTree_SequentialInsert(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	const n = 1000
	keys := make([]uint64, 0, n)
	for k := uint64(1); k <= n; k++ {
		keys = append(keys, k)
	}
	insertAll(t, tree, keys)

	for _, k := range keys {
		vals, err := tree.GetValue(ctx, k)
		require.NoError(t, err)
		require.Equal(t, []uint64{k * 2}, vals)
	}
	vals, err := tree.GetValue(ctx, n+1)
	require.NoError(t, err)
	require.Empty(t, vals)

	require.Equal(t, keys, collect(t, tree))
}

// TestBPlusTree_ReverseInsert drives the left-leaning split path, where every
// insert prepends and the optimistic protocol can never take its shortcut.
func TestBPlusTree_ReverseInsert(t *testing.T) {
	tree := newTestTree(t)

	const n = 500
	keys := make([]uint64, 0, n)
	for k := uint64(n); k >= 1; k-- {
		keys = append(keys, k)
	}
	insertAll(t, tree, keys)

	got := collect(t, tree)
	require.Len(t, got, n)
	for i, k := range got {
		require.Equal(t, uint64(i+1), k)
	}
}

// TestBPlusTree_DuplicateInsert verifies that a duplicate is reported without
// error and leaves the stored value untouched.
func TestBPlusTree_DuplicateInsert(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	insertAll(t, tree, []uint64{10, 20, 30})

	ok, err := tree.Insert(ctx, 20, 999)
	require.NoError(t, err)
	require.False(t, ok)

	vals, err := tree.GetValue(ctx, 20)
	require.NoError(t, err)
	require.Equal(t, []uint64{40}, vals)
}

// TestBPlusTree_ShuffledInsertDelete interleaves a shuffled workload: insert
// everything in random order, delete a random half, and verify membership of
// both halves plus global ordering.
func TestBPlusTree_ShuffledInsertDelete(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	const n = 800
	keys := make([]uint64, 0, n)
	for k := uint64(1); k <= n; k++ {
		keys = append(keys, k)
	}
	rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	insertAll(t, tree, keys)

	deleted := make(map[uint64]bool, n/2)
	rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	for _, k := range keys[:n/2] {
		ok, err := tree.Remove(ctx, k)
		require.NoError(t, err, "remove %d", k)
		require.True(t, ok, "remove %d reported absent", k)
		deleted[k] = true
	}

	// Removing an already-removed key reports absence, not an error.
	ok, err := tree.Remove(ctx, keys[0])
	require.NoError(t, err)
	require.False(t, ok)

	for _, k := range keys {
		vals, err := tree.GetValue(ctx, k)
		require.NoError(t, err)
		if deleted[k] {
			require.Empty(t, vals, "key %d should be gone", k)
		} else {
			require.Equal(t, []uint64{k * 2}, vals, "key %d should survive", k)
		}
	}

	got := collect(t, tree)
	require.Len(t, got, n/2)
}

// TestBPlusTree_DeleteAll empties a multi-level tree and verifies it collapses
// back to the empty state, then accepts inserts again.
func TestBPlusTree_DeleteAll(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	const n = 300
	keys := make([]uint64, 0, n)
	for k := uint64(1); k <= n; k++ {
		keys = append(keys, k)
	}
	rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	insertAll(t, tree, keys)

	for _, k := range keys {
		ok, err := tree.Remove(ctx, k)
		require.NoError(t, err, "remove %d", k)
		require.True(t, ok)
	}

	empty, err := tree.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)
	root, err := tree.GetRootPageID()
	require.NoError(t, err)
	require.False(t, root.Valid())

	insertAll(t, tree, []uint64{3, 1, 2})
	require.Equal(t, []uint64{1, 2, 3}, collect(t, tree))
}

// TestBPlusTree_RootCollapse deletes a multi-level tree down to a single key
// and verifies the root shrinks back to the surviving leaf.
func TestBPlusTree_RootCollapse(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	keys := make([]uint64, 0, 30)
	for k := uint64(1); k <= 30; k++ {
		keys = append(keys, k)
	}
	insertAll(t, tree, keys)

	// 1. Confirm the root is an internal page before the deletes.
	root, err := tree.GetRootPageID()
	require.NoError(t, err)
	guard, err := tree.bpm.FetchPageRead(root)
	require.NoError(t, err)
	require.Equal(t, pageTypeInternal, node{guard.Data()}.pageType())
	guard.Drop()

	// 2. Delete everything but the largest key.
	for k := uint64(1); k < 30; k++ {
		ok, err := tree.Remove(ctx, k)
		require.NoError(t, err, "remove %d", k)
		require.True(t, ok)
	}

	// 3. The root is now the one leaf left standing.
	root, err = tree.GetRootPageID()
	require.NoError(t, err)
	guard, err = tree.bpm.FetchPageRead(root)
	require.NoError(t, err)
	lv := node{guard.Data()}
	require.Equal(t, pageTypeLeaf, lv.pageType())
	require.Equal(t, 1, lv.size())
	guard.Drop()

	require.Equal(t, []uint64{30}, collect(t, tree))
}

// TestBPlusTree_RangeSeek verifies the three seek flavors against keys spaced
// so probes can land between entries.
func TestBPlusTree_RangeSeek(t *testing.T) {
	tree := newTestTree(t)

	// Keys 5, 10, ..., 100.
	keys := make([]uint64, 0, 20)
	for k := uint64(5); k <= 100; k += 5 {
		keys = append(keys, k)
	}
	insertAll(t, tree, keys)

	// BeginAt seats on the last key at or below the probe.
	it, err := tree.BeginAt(23)
	require.NoError(t, err)
	require.Equal(t, uint64(20), it.Key())
	it.Close()

	it, err = tree.BeginAt(25)
	require.NoError(t, err)
	require.Equal(t, uint64(25), it.Key())
	it.Close()

	// Probing below the smallest key yields the sentinel.
	it, err = tree.BeginAt(3)
	require.NoError(t, err)
	require.True(t, it.IsEnd())
	it.Close()

	// Find is exact.
	it, err = tree.Find(25)
	require.NoError(t, err)
	require.Equal(t, uint64(25), it.Key())
	require.Equal(t, uint64(50), it.Value())
	it.Close()

	it, err = tree.Find(26)
	require.NoError(t, err)
	require.True(t, it.IsEnd())
	it.Close()

	// A bounded walk from a seek point stays ordered and complete.
	it, err = tree.BeginAt(50)
	require.NoError(t, err)
	var got []uint64
	for !it.IsEnd() {
		got = append(got, it.Key())
		require.NoError(t, it.Next())
	}
	it.Close()
	require.Equal(t, []uint64{50, 55, 60, 65, 70, 75, 80, 85, 90, 95, 100}, got)
}

// TestBPlusTree_IteratorEqual verifies iterator identity semantics, including
// the sentinel collapse.
func TestBPlusTree_IteratorEqual(t *testing.T) {
	tree := newTestTree(t)
	insertAll(t, tree, []uint64{1, 2, 3})

	a, err := tree.Begin()
	require.NoError(t, err)
	b, err := tree.Find(1)
	require.NoError(t, err)
	require.True(t, a.Equal(b))

	require.NoError(t, b.Next())
	require.False(t, a.Equal(b))

	e1 := tree.End()
	e2 := tree.End()
	require.True(t, e1.Equal(e2))
	require.False(t, a.Equal(e1))

	a.Close()
	b.Close()
	require.True(t, a.Equal(e1))
}

// TestBPlusTree_PrefixComparator verifies the multi-match lookups: a
// comparator that equates a bucket of keys makes GetValueWith and First
// return the whole run.
func TestBPlusTree_PrefixComparator(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	keys := make([]uint64, 0, 40)
	for k := uint64(100); k < 140; k++ {
		keys = append(keys, k)
	}
	insertAll(t, tree, keys)

	// Same bucket of ten keys compares equal.
	decade := func(a, b uint64) int { return DefaultOrder(a/10, b/10) }

	vals, err := tree.GetValueWith(ctx, 115, decade)
	require.NoError(t, err)
	require.Len(t, vals, 10)
	require.Equal(t, uint64(220), vals[0])
	require.Equal(t, uint64(238), vals[9])

	it, err := tree.First(115, decade)
	require.NoError(t, err)
	require.Equal(t, uint64(110), it.Key())
	it.Close()

	it, err = tree.First(990, decade)
	require.NoError(t, err)
	require.True(t, it.IsEnd())
	it.Close()
}

// TestBPlusTree_Persistence verifies that a tree reopened over the same data
// survives with its contents when the pool was flushed, and honors the
// explicit fresh-start override.
func TestBPlusTree_Persistence(t *testing.T) {
	dm := disk.NewMemManager(page.DefaultPageSize)
	bpm1, err := buffer.NewBufferPoolManager(16, 2, dm)
	require.NoError(t, err)
	tree1, err := New[uint64, uint64](bpm1, Uint64Codec{}, Uint64Codec{}, DefaultOrder[uint64],
		WithLeafMaxSize[uint64, uint64](4), WithInternalMaxSize[uint64, uint64](4))
	require.NoError(t, err)

	ctx := context.Background()
	for k := uint64(1); k <= 100; k++ {
		ok, err := tree1.Insert(ctx, k, k)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, bpm1.FlushAllPages())

	// Reopen: the recorded root is adopted and every key is reachable.
	bpm2, err := buffer.NewBufferPoolManager(16, 2, dm)
	require.NoError(t, err)
	tree2, err := New[uint64, uint64](bpm2, Uint64Codec{}, Uint64Codec{}, DefaultOrder[uint64],
		WithLeafMaxSize[uint64, uint64](4), WithInternalMaxSize[uint64, uint64](4))
	require.NoError(t, err)
	for k := uint64(1); k <= 100; k++ {
		vals, err := tree2.GetValue(ctx, k)
		require.NoError(t, err)
		require.Equal(t, []uint64{k}, vals)
	}

	// A third open with inheritance disabled starts empty over the same
	// file.
	bpm3, err := buffer.NewBufferPoolManager(16, 2, dm)
	require.NoError(t, err)
	tree3, err := New[uint64, uint64](bpm3, Uint64Codec{}, Uint64Codec{}, DefaultOrder[uint64],
		WithInheritFile[uint64, uint64](false),
		WithLeafMaxSize[uint64, uint64](4), WithInternalMaxSize[uint64, uint64](4))
	require.NoError(t, err)
	empty, err := tree3.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)
}

// TestBPlusTree_ContextCancellation verifies that a cancelled context stops
// the mutating operations before they touch the tree.
func TestBPlusTree_ContextCancellation(t *testing.T) {
	tree := newTestTree(t)
	insertAll(t, tree, []uint64{1, 2, 3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tree.Insert(ctx, 4, 4)
	require.ErrorIs(t, err, context.Canceled)
	_, err = tree.Remove(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
	_, err = tree.GetValue(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)

	vals, err := tree.GetValue(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []uint64{2}, vals)
}

// TestBPlusTree_DefaultFanOut verifies that fan-outs derived from the page
// size produce a working tree with realistic node widths.
func TestBPlusTree_DefaultFanOut(t *testing.T) {
	dm := disk.NewMemManager(page.DefaultPageSize)
	bpm, err := buffer.NewBufferPoolManager(64, 2, dm)
	require.NoError(t, err)
	tree, err := New[uint64, uint64](bpm, Uint64Codec{}, Uint64Codec{}, DefaultOrder[uint64])
	require.NoError(t, err)

	ctx := context.Background()
	for k := uint64(1); k <= 2000; k++ {
		ok, err := tree.Insert(ctx, k, k)
		require.NoError(t, err)
		require.True(t, ok)
	}
	vals, err := tree.GetValue(ctx, 1234)
	require.NoError(t, err)
	require.Equal(t, []uint64{1234}, vals)
}

// TestBPlusTree_PageSizeTooSmall verifies that construction fails when a key
// cannot fit a usable fan-out into a page.
func TestBPlusTree_PageSizeTooSmall(t *testing.T) {
	dm := disk.NewMemManager(64)
	bpm, err := buffer.NewBufferPoolManager(8, 2, dm)
	require.NoError(t, err)

	_, err = New[[]byte, uint64](bpm, BytesCodec{Width: 48}, Uint64Codec{}, BytesOrder)
	require.ErrorIs(t, err, ErrInvariantViolated)
}

// TestBPlusTree_DebugString smoke-tests the structural dump on a small tree.
func TestBPlusTree_DebugString(t *testing.T) {
	tree := newTestTree(t)
	insertAll(t, tree, []uint64{1, 2, 3, 4, 5, 6, 7, 8})

	out, err := tree.DebugString()
	require.NoError(t, err)
	require.Contains(t, out, "leaf")
	require.Contains(t, out, "internal")
}
