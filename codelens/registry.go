// Package codelens is the editor-side registry of CodeLens providers, keyed
// by language id.
package codelens

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.lsp.dev/protocol"

	"github.com/springtools/stsclient/disposable"
)

type Provider interface {
	ProvideCodeLenses(ctx context.Context, uri protocol.DocumentURI) ([]protocol.CodeLens, error)
}

type ProviderFunc func(ctx context.Context, uri protocol.DocumentURI) ([]protocol.CodeLens, error)

func (f ProviderFunc) ProvideCodeLenses(ctx context.Context, uri protocol.DocumentURI) ([]protocol.CodeLens, error) {
	return f(ctx, uri)
}

type entry struct {
	languageID string
	provider   Provider
}

type Registry struct {
	mu      sync.RWMutex
	entries []*entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds p for documents of languageID. Disposing the result removes
// it again.
func (r *Registry) Register(languageID string, p Provider) disposable.Disposable {
	e := &entry{languageID: languageID, provider: p}

	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()

	return disposable.Func(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.entries = slices.DeleteFunc(slices.Clone(r.entries), func(other *entry) bool {
			return other == e
		})
	})
}

// Count reports how many providers are registered for languageID.
func (r *Registry) Count(languageID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.languageID == languageID {
			n++
		}
	}
	return n
}

// Provide collects lenses from every provider for languageID, in
// registration order. A failing provider does not hide the others' lenses.
func (r *Registry) Provide(ctx context.Context, languageID string, uri protocol.DocumentURI) ([]protocol.CodeLens, error) {
	r.mu.RLock()
	var providers []Provider
	for _, e := range r.entries {
		if e.languageID == languageID {
			providers = append(providers, e.provider)
		}
	}
	r.mu.RUnlock()

	var lenses []protocol.CodeLens
	var errs []error
	for i, p := range providers {
		got, err := p.ProvideCodeLenses(ctx, uri)
		if err != nil {
			errs = append(errs, fmt.Errorf("provider %d: %w", i, err))
			continue
		}
		lenses = append(lenses, got...)
	}
	return lenses, errors.Join(errs...)
}
