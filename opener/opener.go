// Package opener resolves a URI to something that can show it: the system
// browser for web links, the attached editor UI for files.
package opener

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"

	"go.lsp.dev/uri"

	"github.com/springtools/stsclient/disposable"
)

var ErrNoOpener = errors.New("no opener for uri")

// Opener opens URIs of some kind. Priority returns 0 when the opener cannot
// handle u; among openers that can, the highest priority wins.
type Opener interface {
	ID() string
	Priority(u uri.URI) int
	Open(ctx context.Context, u uri.URI) error
}

type Service struct {
	mu      sync.RWMutex
	openers []Opener
}

func NewService(openers ...Opener) *Service {
	return &Service{openers: openers}
}

func (s *Service) Add(o Opener) disposable.Disposable {
	s.mu.Lock()
	s.openers = append(s.openers, o)
	s.mu.Unlock()

	return disposable.Func(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.openers = slices.DeleteFunc(slices.Clone(s.openers), func(other Opener) bool {
			return other == o
		})
	})
}

// GetOpener returns the highest-priority opener for u. Ties go to the opener
// added first.
func (s *Service) GetOpener(ctx context.Context, u uri.URI) (Opener, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var best Opener
	bestPriority := 0
	for _, o := range s.openers {
		if p := o.Priority(u); p > bestPriority {
			best, bestPriority = o, p
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoOpener, u)
	}
	return best, nil
}

func (s *Service) Open(ctx context.Context, u uri.URI) error {
	o, err := s.GetOpener(ctx, u)
	if err != nil {
		return err
	}
	if err := o.Open(ctx, u); err != nil {
		return fmt.Errorf("%s: open %s: %w", o.ID(), u, err)
	}
	return nil
}

// Parse turns raw into a URI. Schemes nothing can open report ErrNoOpener.
func Parse(raw string) (uri.URI, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty uri", ErrNoOpener)
	}
	u, err := uri.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNoOpener, raw, err)
	}
	return u, nil
}

func scheme(u uri.URI) string {
	parsed, err := url.Parse(string(u))
	if err != nil {
		return ""
	}
	return parsed.Scheme
}
