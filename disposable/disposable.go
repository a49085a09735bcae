// Package disposable provides idempotent release handles.
package disposable

import "sync"

// Disposable releases a registration or resource. Dispose must be safe to
// call more than once; calls after the first are no-ops.
type Disposable interface {
	Dispose()
}

type funcDisposable struct {
	once sync.Once
	fn   func()
}

// Func wraps fn so that it runs at most once.
func Func(fn func()) Disposable {
	return &funcDisposable{fn: fn}
}

func (d *funcDisposable) Dispose() {
	d.once.Do(func() {
		if d.fn != nil {
			d.fn()
		}
	})
}

type nop struct{}

func (nop) Dispose() {}

// Nop is a Disposable that does nothing.
var Nop Disposable = nop{}

// Group disposes all of its members together. Members added after the
// group was disposed are disposed immediately.
type Group struct {
	mu       sync.Mutex
	items    []Disposable
	disposed bool
}

func (g *Group) Add(d Disposable) {
	if d == nil {
		return
	}

	g.mu.Lock()
	if g.disposed {
		g.mu.Unlock()
		d.Dispose()
		return
	}
	g.items = append(g.items, d)
	g.mu.Unlock()
}

// Len returns the number of members not yet disposed by the group.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.items)
}

func (g *Group) Disposed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disposed
}

// Dispose disposes every member in reverse order of addition.
func (g *Group) Dispose() {
	g.mu.Lock()
	if g.disposed {
		g.mu.Unlock()
		return
	}
	g.disposed = true
	items := g.items
	g.items = nil
	g.mu.Unlock()

	for i := len(items) - 1; i >= 0; i-- {
		items[i].Dispose()
	}
}
