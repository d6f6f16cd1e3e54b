package buffer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestGuards_PinLifecycle verifies that every guard flavor holds exactly one
// pin and that Drop releases it, including on repeated calls.
func TestGuards_PinLifecycle(t *testing.T) {
	bpm, _ := setupPool(t, 4)

	g, err := bpm.NewPageGuarded()
	require.NoError(t, err)
	id := g.PageID()
	require.Equal(t, int32(1), bpm.PinCount(id))

	rg, err := bpm.FetchPageRead(id)
	require.NoError(t, err)
	require.Equal(t, int32(2), bpm.PinCount(id))
	rg.Drop()
	require.Equal(t, int32(1), bpm.PinCount(id))

	g.Drop()
	require.Equal(t, int32(0), bpm.PinCount(id))
	g.Drop()
	require.Equal(t, int32(0), bpm.PinCount(id))

	wg, err := bpm.FetchPageWrite(id)
	require.NoError(t, err)
	require.Equal(t, int32(1), bpm.PinCount(id))
	wg.Drop()
	require.Equal(t, int32(0), bpm.PinCount(id))
}

// TestGuards_DirtyPropagation verifies that mutating through DataMut marks
// the page dirty, so the bytes survive eviction.
func TestGuards_DirtyPropagation(t *testing.T) {
	bpm, dm := setupPool(t, 2)

	wg, err := bpm.NewPageWrite()
	require.NoError(t, err)
	id := wg.PageID()
	copy(wg.DataMut(), []byte("guard dirty"))
	wg.Drop()

	// Push the page out so the dirty bit has to do its job.
	for i := 0; i < 3; i++ {
		g, err := bpm.NewPageGuarded()
		require.NoError(t, err)
		g.Drop()
	}

	buf := make([]byte, testPageSize)
	require.NoError(t, dm.ReadPage(id, buf))
	require.True(t, bytes.Equal([]byte("guard dirty"), buf[:11]))
}

// TestGuards_ReadersShareWritersExclude verifies the latch side of the
// guards: two readers coexist, while a writer waits for readers to drain.
func TestGuards_ReadersShareWritersExclude(t *testing.T) {
	bpm, _ := setupPool(t, 4)

	g, err := bpm.NewPageGuarded()
	require.NoError(t, err)
	id := g.PageID()
	g.Drop()

	r1, err := bpm.FetchPageRead(id)
	require.NoError(t, err)
	r2, err := bpm.FetchPageRead(id)
	require.NoError(t, err)

	acquired := make(chan *WriteGuard)
	go func() {
		w, err := bpm.FetchPageWrite(id)
		if err != nil {
			close(acquired)
			return
		}
		acquired <- w
	}()

	select {
	case <-acquired:
		t.Fatal("write guard acquired while read guards were held")
	default:
	}

	r1.Drop()
	r2.Drop()
	w, ok := <-acquired
	require.True(t, ok)
	w.Drop()
}

// TestGuards_BasicGuardPinsWithoutLatch verifies that a basic guard keeps the
// page resident but never blocks latched access, which is what iterators rely
// on.
func TestGuards_BasicGuardPinsWithoutLatch(t *testing.T) {
	bpm, _ := setupPool(t, 4)

	g, err := bpm.NewPageGuarded()
	require.NoError(t, err)
	id := g.PageID()
	g.Drop()

	bg, err := bpm.FetchPageBasic(id)
	require.NoError(t, err)
	require.True(t, bg.Valid())

	// A writer must get through while the basic guard is seated.
	w, err := bpm.FetchPageWrite(id)
	require.NoError(t, err)
	w.DataMut()[0] = 0xAB
	w.Drop()

	require.Equal(t, byte(0xAB), bg.Data()[0])
	bg.Drop()
	require.False(t, bg.Valid())
}
