package bptree

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soradb/soradb/core/buffer"
	"github.com/soradb/soradb/core/storage/disk"
	"github.com/soradb/soradb/core/storage/page"
)

const (
	concWorkers = 8
	concPerSpan = 200
)

// span gives each worker a disjoint key range so outcomes stay deterministic
// under any interleaving.
func span(worker int) (uint64, uint64) {
	lo := uint64(worker*concPerSpan + 1)
	return lo, lo + concPerSpan - 1
}

// TestBPlusTreeConcurrent_DisjointInserts runs parallel inserts over disjoint
// ranges and verifies every key landed exactly once, in order.
func TestBPlusTreeConcurrent_DisjointInserts(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, concWorkers)
	for w := 0; w < concWorkers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			lo, hi := span(w)
			for k := lo; k <= hi; k++ {
				if _, err := tree.Insert(ctx, k, k*2); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got := collect(t, tree)
	require.Len(t, got, concWorkers*concPerSpan)
	for i, k := range got {
		require.Equal(t, uint64(i+1), k)
	}
}

// TestBPlusTreeConcurrent_InsertThenDelete inserts everything concurrently,
// then deletes the odd keys concurrently, and verifies the survivors.
func TestBPlusTreeConcurrent_InsertThenDelete(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	run := func(f func(w int) error) {
		t.Helper()
		var wg sync.WaitGroup
		errs := make(chan error, concWorkers)
		for w := 0; w < concWorkers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				if err := f(w); err != nil {
					errs <- err
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
	}

	run(func(w int) error {
		lo, hi := span(w)
		for k := lo; k <= hi; k++ {
			if _, err := tree.Insert(ctx, k, k); err != nil {
				return err
			}
		}
		return nil
	})

	run(func(w int) error {
		lo, hi := span(w)
		for k := lo; k <= hi; k++ {
			if k%2 == 1 {
				if _, err := tree.Remove(ctx, k); err != nil {
					return err
				}
			}
		}
		return nil
	})

	for k := uint64(1); k <= concWorkers*concPerSpan; k++ {
		vals, err := tree.GetValue(ctx, k)
		require.NoError(t, err)
		if k%2 == 1 {
			require.Empty(t, vals, "odd key %d should be deleted", k)
		} else {
			require.Equal(t, []uint64{k}, vals, "even key %d should survive", k)
		}
	}
}

// TestBPlusTreeConcurrent_MixedReaders runs writers over one key range while
// readers hammer an already-stable range. Readers must always see the stable
// keys regardless of concurrent restructuring elsewhere in the tree.
func TestBPlusTreeConcurrent_MixedReaders(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	// Stable range, inserted up front.
	for k := uint64(100000); k < 100200; k++ {
		ok, err := tree.Insert(ctx, k, k)
		require.NoError(t, err)
		require.True(t, ok)
	}

	var wg sync.WaitGroup
	errs := make(chan error, concWorkers*2)

	for w := 0; w < concWorkers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			lo, hi := span(w)
			for k := lo; k <= hi; k++ {
				if _, err := tree.Insert(ctx, k, k); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}

	for r := 0; r < concWorkers; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for i := 0; i < 300; i++ {
				k := uint64(100000 + (i+r)%200)
				vals, err := tree.GetValue(ctx, k)
				if err != nil {
					errs <- err
					return
				}
				if len(vals) != 1 || vals[0] != k {
					errs <- ErrTreeCorrupted
					return
				}
			}
		}(r)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

// TestBPlusTreeConcurrent_SingleThreadedPool verifies the latch-free pool
// mode still yields a correct tree when driven sequentially.
func TestBPlusTreeConcurrent_SingleThreadedPool(t *testing.T) {
	dm := disk.NewMemManager(page.DefaultPageSize)
	bpm, err := buffer.NewBufferPoolManager(32, 2, dm, buffer.WithMode(buffer.ModeSingleThreaded))
	require.NoError(t, err)
	tree, err := New[uint64, uint64](bpm, Uint64Codec{}, Uint64Codec{}, DefaultOrder[uint64],
		WithLeafMaxSize[uint64, uint64](4), WithInternalMaxSize[uint64, uint64](4))
	require.NoError(t, err)

	ctx := context.Background()
	for k := uint64(1); k <= 500; k++ {
		ok, err := tree.Insert(ctx, k, k)
		require.NoError(t, err)
		require.True(t, ok)
	}
	for k := uint64(1); k <= 500; k += 3 {
		ok, err := tree.Remove(ctx, k)
		require.NoError(t, err)
		require.True(t, ok)
	}
	for k := uint64(1); k <= 500; k++ {
		vals, err := tree.GetValue(ctx, k)
		require.NoError(t, err)
		if (k-1)%3 == 0 {
			require.Empty(t, vals)
		} else {
			require.Equal(t, []uint64{k}, vals)
		}
	}
}
