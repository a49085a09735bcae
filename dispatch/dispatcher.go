// Package dispatch routes server notifications from a live language server
// session to local handlers.
//
// Handlers are registered per notification type and survive reconnects. A
// Dispatcher is attached to one session at a time; attaching to a new session
// detaches the previous one, so listeners on a stale session never fire.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/springtools/stsclient/disposable"
	"github.com/springtools/stsclient/logger"
	"github.com/springtools/stsclient/notify"
)

var ErrAlreadyAttached = errors.New("session already attached")

// Session is the part of a live connection the dispatcher needs.
type Session interface {
	ID() string
	OnNotification(method string, fn func(ctx context.Context, params json.RawMessage)) disposable.Disposable
}

type handler struct {
	method string
	invoke func(ctx context.Context, params json.RawMessage) error
	alive  atomic.Bool
}

type Dispatcher struct {
	log *slog.Logger

	mu sync.Mutex
	// Slices are copy-on-write so delivery can iterate a snapshot without the lock.
	handlers map[string][]*handler
	shapes   map[string]reflect.Type
	current  *Attachment
	// ids of every session attached so far
	attached map[string]struct{}
}

func New(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		log:      log.With("component", "dispatch"),
		handlers: make(map[string][]*handler),
		shapes:   make(map[string]reflect.Type),
		attached: make(map[string]struct{}),
	}
}

// Register adds fn to the ordered handler list for t. It may be called before
// or after Attach; when a session is attached, fn receives the next matching
// notification. Registering a name with a different payload than earlier
// registrations fails with notify.ErrShapeMismatch.
func Register[P any](d *Dispatcher, t notify.Type[P], fn func(ctx context.Context, params P) error) (*Registration, error) {
	method := t.Name()
	h := &handler{
		method: method,
		invoke: func(ctx context.Context, raw json.RawMessage) error {
			var params P
			if len(raw) > 0 && string(raw) != "null" {
				if err := json.Unmarshal(raw, &params); err != nil {
					return fmt.Errorf("decode %s params: %w", method, err)
				}
			}
			return fn(ctx, params)
		},
	}
	h.alive.Store(true)

	d.mu.Lock()
	if shape, ok := d.shapes[method]; ok && shape != t.Shape() {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s, not %s", notify.ErrShapeMismatch, method, shape, t.Shape())
	}
	d.shapes[method] = t.Shape()
	list := d.handlers[method]
	d.handlers[method] = append(list[:len(list):len(list)], h)
	current := d.current
	d.mu.Unlock()

	if current != nil {
		current.subscribe(method)
	}

	return &Registration{d: d, h: h}, nil
}

// MustRegister is like Register but panics on a payload mismatch.
func MustRegister[P any](d *Dispatcher, t notify.Type[P], fn func(ctx context.Context, params P) error) *Registration {
	r, err := Register(d, t, fn)
	if err != nil {
		panic(err)
	}
	return r
}

// Attach subscribes the dispatcher to session. Any previous attachment is
// disposed first. A session is attached at most once per dispatcher; a
// second Attach, even after the first attachment was disposed, returns
// ErrAlreadyAttached.
func (d *Dispatcher) Attach(session Session) (*Attachment, error) {
	d.mu.Lock()
	if _, ok := d.attached[session.ID()]; ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAttached, session.ID())
	}
	d.attached[session.ID()] = struct{}{}
	stale := d.current

	a := &Attachment{
		d:         d,
		session:   session,
		sessionID: session.ID(),
		listeners: make(map[string]disposable.Disposable),
	}
	a.alive.Store(true)
	d.current = a

	methods := make([]string, 0, len(d.handlers))
	for method, list := range d.handlers {
		if len(list) > 0 {
			methods = append(methods, method)
		}
	}
	d.mu.Unlock()

	if stale != nil {
		stale.Dispose()
		d.log.Debug("detached stale session", "sessionId", stale.sessionID)
	}

	for _, method := range methods {
		a.subscribe(method)
	}

	d.log.Info("attached", "sessionId", a.sessionID, "types", len(methods))
	return a, nil
}

// Current returns the live attachment, or nil.
func (d *Dispatcher) Current() *Attachment {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// HandlerCount returns the number of live handlers for method.
func (d *Dispatcher) HandlerCount(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers[method])
}

func (d *Dispatcher) unregister(h *handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.handlers[h.method]
	next := make([]*handler, 0, len(list))
	for _, other := range list {
		if other != h {
			next = append(next, other)
		}
	}
	if len(next) == 0 {
		delete(d.handlers, h.method)
		return
	}
	d.handlers[h.method] = next
}

func (d *Dispatcher) detach(a *Attachment) {
	d.mu.Lock()
	if d.current == a {
		d.current = nil
	}
	d.mu.Unlock()
}

// deliver fans one inbound notification out to the handlers of its method in
// registration order. Liveness is checked per handler at invocation time.
func (d *Dispatcher) deliver(ctx context.Context, a *Attachment, method string, params json.RawMessage) {
	if !a.Alive() {
		return
	}

	d.mu.Lock()
	list := d.handlers[method]
	d.mu.Unlock()

	for _, h := range list {
		if !a.Alive() {
			return
		}
		if !h.alive.Load() {
			continue
		}
		d.invoke(ctx, h, params)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, h *handler, params json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "notification handler panicked", "method", h.method)
		}
	}()

	if err := h.invoke(ctx, params); err != nil {
		d.log.Error("notification handler failed", "method", h.method, "error", err)
	}
}

// Registration is one handler's subscription to one notification type.
type Registration struct {
	d    *Dispatcher
	h    *handler
	once sync.Once
}

func (r *Registration) Method() string { return r.h.method }

func (r *Registration) Dispose() {
	r.once.Do(func() {
		r.h.alive.Store(false)
		r.d.unregister(r.h)
	})
}

// Attachment is the dispatcher's subscription to one session.
type Attachment struct {
	d         *Dispatcher
	session   Session
	sessionID string
	alive     atomic.Bool

	mu        sync.Mutex
	listeners map[string]disposable.Disposable
}

func (a *Attachment) SessionID() string { return a.sessionID }

func (a *Attachment) Alive() bool { return a.alive.Load() }

func (a *Attachment) subscribe(method string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.Alive() {
		return
	}
	if _, ok := a.listeners[method]; ok {
		return
	}
	a.listeners[method] = a.session.OnNotification(method, func(ctx context.Context, params json.RawMessage) {
		a.d.deliver(ctx, a, method, params)
	})
}

func (a *Attachment) Dispose() {
	if !a.alive.CompareAndSwap(true, false) {
		return
	}

	a.mu.Lock()
	listeners := a.listeners
	a.listeners = nil
	a.mu.Unlock()

	for _, l := range listeners {
		l.Dispose()
	}
	a.d.detach(a)
}
