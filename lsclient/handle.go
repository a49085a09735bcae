package lsclient

import (
	"context"
	"errors"
	"sync"
)

var ErrHandleFailed = errors.New("connection failed")

// Handle is a pending or established connection. It resolves exactly once,
// either to a Session or to an error.
type Handle struct {
	name string
	done chan struct{}
	once sync.Once

	session *Session
	err     error
}

// NewHandle returns an unresolved handle for the named server.
func NewHandle(name string) *Handle {
	return &Handle{name: name, done: make(chan struct{})}
}

func (h *Handle) Name() string { return h.name }

// Resolve completes the handle with s. It reports false if the handle was
// already resolved.
func (h *Handle) Resolve(s *Session) bool {
	resolved := false
	h.once.Do(func() {
		h.session = s
		resolved = true
		close(h.done)
	})
	return resolved
}

// Fail completes the handle with err.
func (h *Handle) Fail(err error) bool {
	if err == nil {
		err = ErrHandleFailed
	}
	failed := false
	h.once.Do(func() {
		h.err = err
		failed = true
		close(h.done)
	})
	return failed
}

// Done is closed once the handle is resolved or failed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the outcome. It is only meaningful after Done is closed.
func (h *Handle) Result() (*Session, error) {
	select {
	case <-h.done:
		return h.session, h.err
	default:
		return nil, nil
	}
}

// Wait blocks until the handle resolves or ctx is done.
func (h *Handle) Wait(ctx context.Context) (*Session, error) {
	select {
	case <-h.done:
		return h.session, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
