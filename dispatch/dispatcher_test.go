package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/springtools/stsclient/disposable"
	"github.com/springtools/stsclient/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type progressParams struct {
	ID        string `json:"id"`
	StatusMsg string `json:"statusMsg"`
}

type highlightParams struct {
	URI string `json:"uri"`
}

var (
	testTypes     = notify.NewRegistry()
	progressType  = notify.MustDeclare[progressParams](testTypes, "sts/progress")
	highlightType = notify.MustDeclare[highlightParams](testTypes, "sts/highlight")
)

type fakeListener struct {
	fn func(ctx context.Context, params json.RawMessage)
}

type fakeSession struct {
	id string

	mu        sync.Mutex
	listeners map[string][]*fakeListener
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id, listeners: make(map[string][]*fakeListener)}
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) OnNotification(method string, fn func(ctx context.Context, params json.RawMessage)) disposable.Disposable {
	l := &fakeListener{fn: fn}
	s.mu.Lock()
	s.listeners[method] = append(s.listeners[method], l)
	s.mu.Unlock()

	return disposable.Func(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.listeners[method]
		for i, other := range list {
			if other == l {
				s.listeners[method] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	})
}

func (s *fakeSession) listenerCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners[method])
}

// capture returns the currently subscribed callbacks so a test can invoke
// them later, as if a message was queued before a disposal.
func (s *fakeSession) capture(method string) []func(context.Context, json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fns := make([]func(context.Context, json.RawMessage), 0, len(s.listeners[method]))
	for _, l := range s.listeners[method] {
		fns = append(fns, l.fn)
	}
	return fns
}

func (s *fakeSession) emit(t *testing.T, method string, params any) {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	for _, fn := range s.capture(method) {
		fn(context.Background(), raw)
	}
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestDispatcher_DeliversInRegistrationOrder(t *testing.T) {
	d := New(nil)
	rec := &recorder{}
	for _, name := range []string{"a", "b", "c"} {
		name := name
		MustRegister(d, progressType, func(ctx context.Context, p progressParams) error {
			rec.record(name + ":" + p.StatusMsg)
			return nil
		})
	}

	s := newFakeSession("s1")
	_, err := d.Attach(s)
	require.NoError(t, err)

	const n = 3
	for i := 0; i < n; i++ {
		s.emit(t, "sts/progress", progressParams{ID: "x", StatusMsg: fmt.Sprint(i)})
	}

	want := []string{}
	for i := 0; i < n; i++ {
		for _, name := range []string{"a", "b", "c"} {
			want = append(want, fmt.Sprintf("%s:%d", name, i))
		}
	}
	assert.Equal(t, want, rec.get())
	assert.Equal(t, 1, s.listenerCount("sts/progress"), "one low-level listener per type")
}

func TestDispatcher_NoInvocationAfterRegistrationDisposed(t *testing.T) {
	d := New(nil)
	rec := &recorder{}
	first := MustRegister(d, progressType, func(ctx context.Context, p progressParams) error {
		rec.record("first")
		return nil
	})
	MustRegister(d, progressType, func(ctx context.Context, p progressParams) error {
		rec.record("second")
		return nil
	})

	s := newFakeSession("s1")
	_, err := d.Attach(s)
	require.NoError(t, err)

	s.emit(t, "sts/progress", progressParams{ID: "x"})
	first.Dispose()
	first.Dispose()
	s.emit(t, "sts/progress", progressParams{ID: "x"})

	assert.Equal(t, []string{"first", "second", "second"}, rec.get())
	assert.Equal(t, 1, d.HandlerCount("sts/progress"))
}

func TestDispatcher_DisposeDuringDeliveryStopsLaterHandler(t *testing.T) {
	d := New(nil)
	rec := &recorder{}
	var second *Registration
	MustRegister(d, progressType, func(ctx context.Context, p progressParams) error {
		rec.record("first")
		second.Dispose()
		return nil
	})
	second = MustRegister(d, progressType, func(ctx context.Context, p progressParams) error {
		rec.record("second")
		return nil
	})

	s := newFakeSession("s1")
	_, err := d.Attach(s)
	require.NoError(t, err)

	s.emit(t, "sts/progress", progressParams{ID: "x"})
	assert.Equal(t, []string{"first"}, rec.get())
}

func TestDispatcher_AttachmentDisposedBeforeMessages(t *testing.T) {
	d := New(nil)
	calls := 0
	MustRegister(d, progressType, func(ctx context.Context, p progressParams) error {
		calls++
		return nil
	})

	s := newFakeSession("s1")
	a, err := d.Attach(s)
	require.NoError(t, err)
	queued := s.capture("sts/progress")
	require.Len(t, queued, 1)

	a.Dispose()
	a.Dispose()

	s.emit(t, "sts/progress", progressParams{ID: "x"})
	// A message already queued ahead of the disposal must not be delivered either.
	queued[0](context.Background(), json.RawMessage(`{"id":"x","statusMsg":"late"}`))

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, s.listenerCount("sts/progress"))
	assert.Nil(t, d.Current())
}

func TestDispatcher_HandlerFaultIsIsolated(t *testing.T) {
	d := New(nil)
	rec := &recorder{}
	MustRegister(d, progressType, func(ctx context.Context, p progressParams) error {
		rec.record("err:" + p.StatusMsg)
		return errors.New("boom")
	})
	MustRegister(d, progressType, func(ctx context.Context, p progressParams) error {
		rec.record("panic:" + p.StatusMsg)
		panic("boom")
	})
	MustRegister(d, progressType, func(ctx context.Context, p progressParams) error {
		rec.record("ok:" + p.StatusMsg)
		return nil
	})

	s := newFakeSession("s1")
	_, err := d.Attach(s)
	require.NoError(t, err)

	s.emit(t, "sts/progress", progressParams{StatusMsg: "1"})
	s.emit(t, "sts/progress", progressParams{StatusMsg: "2"})

	assert.Equal(t, []string{"err:1", "panic:1", "ok:1", "err:2", "panic:2", "ok:2"}, rec.get())
}

func TestDispatcher_DecodeFailureIsHandlerFault(t *testing.T) {
	d := New(nil)
	calls := 0
	MustRegister(d, progressType, func(ctx context.Context, p progressParams) error {
		calls++
		return nil
	})

	s := newFakeSession("s1")
	_, err := d.Attach(s)
	require.NoError(t, err)

	for _, fn := range s.capture("sts/progress") {
		fn(context.Background(), json.RawMessage(`"not an object"`))
	}
	s.emit(t, "sts/progress", progressParams{ID: "ok"})

	assert.Equal(t, 1, calls)
}

func TestDispatcher_RegisterAfterAttach(t *testing.T) {
	d := New(nil)
	s := newFakeSession("s1")
	_, err := d.Attach(s)
	require.NoError(t, err)

	assert.Equal(t, 0, s.listenerCount("sts/highlight"))

	rec := &recorder{}
	MustRegister(d, highlightType, func(ctx context.Context, p highlightParams) error {
		rec.record(p.URI)
		return nil
	})
	assert.Equal(t, 1, s.listenerCount("sts/highlight"))

	s.emit(t, "sts/highlight", highlightParams{URI: "file:///a.java"})
	assert.Equal(t, []string{"file:///a.java"}, rec.get())

	MustRegister(d, highlightType, func(ctx context.Context, p highlightParams) error {
		rec.record("late:" + p.URI)
		return nil
	})
	assert.Equal(t, 1, s.listenerCount("sts/highlight"))

	s.emit(t, "sts/highlight", highlightParams{URI: "file:///b.java"})
	assert.Equal(t, []string{"file:///a.java", "file:///b.java", "late:file:///b.java"}, rec.get())
}

func TestDispatcher_UnknownNotificationIgnored(t *testing.T) {
	d := New(nil)
	MustRegister(d, progressType, func(ctx context.Context, p progressParams) error { return nil })

	s := newFakeSession("s1")
	_, err := d.Attach(s)
	require.NoError(t, err)

	assert.Equal(t, 0, s.listenerCount("sts/future"))
	assert.NotPanics(t, func() { s.emit(t, "sts/future", map[string]int{"x": 1}) })
}

func TestDispatcher_DoubleAttachFails(t *testing.T) {
	d := New(nil)
	s := newFakeSession("s1")

	_, err := d.Attach(s)
	require.NoError(t, err)

	_, err = d.Attach(s)
	assert.ErrorIs(t, err, ErrAlreadyAttached)
}

func TestDispatcher_Reconnection(t *testing.T) {
	d := New(nil)
	rec := &recorder{}
	MustRegister(d, progressType, func(ctx context.Context, p progressParams) error {
		rec.record(p.StatusMsg)
		return nil
	})

	first := newFakeSession("s1")
	a1, err := d.Attach(first)
	require.NoError(t, err)
	staleFns := first.capture("sts/progress")

	second := newFakeSession("s2")
	a2, err := d.Attach(second)
	require.NoError(t, err)

	assert.False(t, a1.Alive())
	assert.True(t, a2.Alive())
	assert.Equal(t, 0, first.listenerCount("sts/progress"), "stale listeners must be detached")
	assert.Equal(t, 1, second.listenerCount("sts/progress"))

	first.emit(t, "sts/progress", progressParams{StatusMsg: "stale"})
	for _, fn := range staleFns {
		fn(context.Background(), json.RawMessage(`{"statusMsg":"stale-queued"}`))
	}
	second.emit(t, "sts/progress", progressParams{StatusMsg: "live"})

	assert.Equal(t, []string{"live"}, rec.get())
	assert.Same(t, a2, d.Current())
}

func TestDispatcher_ReattachSameSessionAfterDispose(t *testing.T) {
	d := New(nil)
	s := newFakeSession("s1")

	a, err := d.Attach(s)
	require.NoError(t, err)
	a.Dispose()

	_, err = d.Attach(s)
	assert.ErrorIs(t, err, ErrAlreadyAttached)
	assert.Nil(t, d.Current())
	assert.Equal(t, 0, s.listenerCount("sts/progress"))
}

func TestRegister_ShapeMismatch(t *testing.T) {
	d := New(nil)
	MustRegister(d, progressType, func(ctx context.Context, p progressParams) error { return nil })

	other := notify.MustDeclare[highlightParams](notify.NewRegistry(), "sts/progress")
	r, err := Register(d, other, func(ctx context.Context, p highlightParams) error { return nil })
	assert.ErrorIs(t, err, notify.ErrShapeMismatch)
	assert.Nil(t, r)
	assert.Equal(t, 1, d.HandlerCount("sts/progress"))

	assert.Panics(t, func() {
		MustRegister(d, other, func(ctx context.Context, p highlightParams) error { return nil })
	})
}
