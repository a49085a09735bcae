// Package command holds the client-side commands a language server can ask
// the client to run, such as opening a URL from a CodeLens.
package command

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/springtools/stsclient/disposable"
)

var (
	ErrDuplicate = errors.New("command already registered")
	ErrNotFound  = errors.New("command not found")
	ErrEmptyID   = errors.New("command id is required")
)

type Handler func(ctx context.Context, args []any) (any, error)

type registration struct {
	handler Handler
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*registration
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*registration)}
}

// Register binds id to h until the returned disposable is disposed.
func (r *Registry) Register(id string, h Handler) (disposable.Disposable, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	reg := &registration{handler: h}
	r.handlers[id] = reg

	return disposable.Func(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		// Only remove our own registration, not a later one for the same id.
		if r.handlers[id] == reg {
			delete(r.handlers, id)
		}
	}), nil
}

func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[id]
	return ok
}

// IDs returns the registered command ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (r *Registry) Execute(ctx context.Context, id string, args []any) (any, error) {
	r.mu.RLock()
	reg, ok := r.handlers[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return reg.handler(ctx, args)
}
