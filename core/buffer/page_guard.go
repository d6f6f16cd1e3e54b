package buffer

import (
	"github.com/soradb/soradb/core/storage/page"
)

// BasicGuard holds a pin on a frame for as long as it lives. Dropping the
// guard is the only sanctioned way to release the pin. Guards have exclusive
// ownership semantics; Drop is idempotent so a guard can be released early.
type BasicGuard struct {
	bpm   *BufferPoolManager
	page  *page.Page
	dirty bool
}

// FetchPageBasic pins the page and wraps it in a guard without latching.
func (m *BufferPoolManager) FetchPageBasic(id page.PageID) (*BasicGuard, error) {
	p, err := m.FetchPage(id)
	if err != nil {
		return nil, err
	}
	return &BasicGuard{bpm: m, page: p}, nil
}

// NewPageGuarded allocates a fresh page and returns it under a basic guard.
// The new page is born dirty so it reaches disk even if never touched again.
func (m *BufferPoolManager) NewPageGuarded() (*BasicGuard, error) {
	p, err := m.NewPage()
	if err != nil {
		return nil, err
	}
	return &BasicGuard{bpm: m, page: p, dirty: true}, nil
}

// PageID reports the guarded page's id.
func (g *BasicGuard) PageID() page.PageID {
	if g.page == nil {
		return page.InvalidPageID
	}
	return g.page.ID()
}

// Data returns a read-only view of the page bytes.
func (g *BasicGuard) Data() []byte { return g.page.Data() }

// DataMut returns a mutable view of the page bytes and marks the frame dirty.
func (g *BasicGuard) DataMut() []byte {
	g.dirty = true
	return g.page.Data()
}

// Drop unpins the page. Safe to call more than once.
func (g *BasicGuard) Drop() {
	if g.page == nil {
		return
	}
	g.bpm.UnpinPage(g.page.ID(), g.dirty)
	g.page = nil
}

// Valid reports whether the guard still holds its page.
func (g *BasicGuard) Valid() bool { return g != nil && g.page != nil }

// ReadGuard is a pin plus a shared latch on the frame. It only exposes a
// read-only view, so it can never dirty the frame.
type ReadGuard struct {
	inner BasicGuard
}

// FetchPageRead pins the page and acquires its shared latch.
func (m *BufferPoolManager) FetchPageRead(id page.PageID) (*ReadGuard, error) {
	p, err := m.FetchPage(id)
	if err != nil {
		return nil, err
	}
	p.RLock()
	return &ReadGuard{BasicGuard{bpm: m, page: p}}, nil
}

// PageID reports the guarded page's id.
func (g *ReadGuard) PageID() page.PageID { return g.inner.PageID() }

// Data returns a read-only view of the page bytes.
func (g *ReadGuard) Data() []byte { return g.inner.Data() }

// Valid reports whether the guard still holds its page.
func (g *ReadGuard) Valid() bool { return g != nil && g.inner.Valid() }

// Drop releases the shared latch and then the pin.
func (g *ReadGuard) Drop() {
	if g.inner.page == nil {
		return
	}
	g.inner.page.RUnlock()
	g.inner.Drop()
}

// WriteGuard is a pin plus an exclusive latch on the frame.
type WriteGuard struct {
	inner BasicGuard
}

// FetchPageWrite pins the page and acquires its exclusive latch.
func (m *BufferPoolManager) FetchPageWrite(id page.PageID) (*WriteGuard, error) {
	p, err := m.FetchPage(id)
	if err != nil {
		return nil, err
	}
	p.Lock()
	return &WriteGuard{BasicGuard{bpm: m, page: p}}, nil
}

// NewPageWrite allocates a fresh page under an exclusive latch.
func (m *BufferPoolManager) NewPageWrite() (*WriteGuard, error) {
	p, err := m.NewPage()
	if err != nil {
		return nil, err
	}
	p.Lock()
	return &WriteGuard{BasicGuard{bpm: m, page: p, dirty: true}}, nil
}

// PageID reports the guarded page's id.
func (g *WriteGuard) PageID() page.PageID { return g.inner.PageID() }

// Data returns a read-only view of the page bytes.
func (g *WriteGuard) Data() []byte { return g.inner.Data() }

// DataMut returns a mutable view of the page bytes and marks the frame dirty.
func (g *WriteGuard) DataMut() []byte { return g.inner.DataMut() }

// Valid reports whether the guard still holds its page.
func (g *WriteGuard) Valid() bool { return g != nil && g.inner.Valid() }

// Drop releases the exclusive latch and then the pin.
func (g *WriteGuard) Drop() {
	if g.inner.page == nil {
		return
	}
	g.inner.page.Unlock()
	g.inner.Drop()
}
