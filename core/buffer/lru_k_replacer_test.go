package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestLRUKReplacer_EvictionOrder verifies the two-class policy: frames with
// fewer than k accesses are evicted first, in order of their earliest access,
// and only then do fully-warmed frames get evicted by their k-th-most-recent
// access time.
func TestLRUKReplacer_EvictionOrder(t *testing.T) {
	r := NewLRUKReplacer(7, 2)

	// Frames 1..6 get a single access each; frame 1 gets a second one and
	// graduates to the cache class.
	for _, fid := range []FrameID{1, 2, 3, 4, 5, 6, 1} {
		require.NoError(t, r.RecordAccess(fid))
	}
	require.Equal(t, 6, r.Size())

	// The history class drains first, oldest first access first.
	for _, want := range []FrameID{2, 3, 4, 5, 6} {
		fid, ok := r.Evict()
		require.True(t, ok)
		require.Equal(t, want, fid)
	}

	// Only the warmed frame remains.
	fid, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, FrameID(1), fid)

	_, ok = r.Evict()
	require.False(t, ok)
	require.Equal(t, 0, r.Size())
}

// TestLRUKReplacer_BackwardKDistance verifies that within the cache class the
// victim is the frame whose k-th-most-recent access lies furthest in the past,
// not the one touched least recently.
func TestLRUKReplacer_BackwardKDistance(t *testing.T) {
	r := NewLRUKReplacer(4, 2)

	// Interleave so frame 2's second-most-recent access (t=2) predates
	// frame 1's (t=3), even though frame 1 was touched last.
	for _, fid := range []FrameID{1, 2, 1, 2, 1} {
		require.NoError(t, r.RecordAccess(fid))
	}

	fid, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, FrameID(2), fid)

	fid, ok = r.Evict()
	require.True(t, ok)
	require.Equal(t, FrameID(1), fid)
}

// TestLRUKReplacer_SetEvictable verifies that pinned frames are skipped by
// Evict and excluded from Size, and that unpinning restores them as
// candidates.
func TestLRUKReplacer_SetEvictable(t *testing.T) {
	r := NewLRUKReplacer(4, 2)

	require.NoError(t, r.RecordAccess(1))
	require.NoError(t, r.RecordAccess(2))
	r.SetEvictable(1, false)
	require.Equal(t, 1, r.Size())

	fid, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, FrameID(2), fid)

	// Frame 1 is pinned and must not be chosen.
	_, ok = r.Evict()
	require.False(t, ok)

	r.SetEvictable(1, true)
	require.Equal(t, 1, r.Size())
	fid, ok = r.Evict()
	require.True(t, ok)
	require.Equal(t, FrameID(1), fid)

	// Toggling an untracked frame is a no-op.
	r.SetEvictable(99, true)
	require.Equal(t, 0, r.Size())
}

// TestLRUKReplacer_CapacityOverflow verifies that recording a never-seen frame
// at capacity is rejected instead of silently evicting, and that accesses to
// already-tracked frames keep working.
func TestLRUKReplacer_CapacityOverflow(t *testing.T) {
	r := NewLRUKReplacer(2, 2)

	require.NoError(t, r.RecordAccess(0))
	require.NoError(t, r.RecordAccess(1))
	require.ErrorIs(t, r.RecordAccess(2), ErrReplacerOverflow)

	// Tracked frames are unaffected by the full replacer.
	require.NoError(t, r.RecordAccess(0))

	// After an eviction the slot opens up again.
	_, ok := r.Evict()
	require.True(t, ok)
	require.NoError(t, r.RecordAccess(2))
}

// TestLRUKReplacer_Remove verifies the explicit removal contract: untracked
// frames are ignored, pinned frames are refused, and removed frames no longer
// surface as victims.
func TestLRUKReplacer_Remove(t *testing.T) {
	r := NewLRUKReplacer(4, 2)

	require.NoError(t, r.Remove(7))

	require.NoError(t, r.RecordAccess(1))
	require.NoError(t, r.RecordAccess(2))
	r.SetEvictable(2, false)
	require.ErrorIs(t, r.Remove(2), ErrFrameNotEvictable)

	require.NoError(t, r.Remove(1))
	require.Equal(t, 0, r.Size())
	_, ok := r.Evict()
	require.False(t, ok)

	// A removed frame starts over with an empty history.
	require.NoError(t, r.RecordAccess(1))
	require.Equal(t, 1, r.Size())
}
