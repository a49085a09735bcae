package highlight

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"go.lsp.dev/protocol"

	"github.com/springtools/stsclient/disposable"
	"github.com/springtools/stsclient/rpc"
)

// Service keeps the latest highlights of every document and tells listeners
// when they change.
type Service struct {
	docs *documents
	log  *slog.Logger

	listenersMu sync.Mutex
	listeners   map[uint64]func(rpc.HighlightParams)
	nextID      uint64
}

func NewService(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		docs:      newDocuments(),
		log:       log.With("component", "highlight"),
		listeners: make(map[uint64]func(rpc.HighlightParams)),
	}
}

// Handle stores the highlights of one document version. Highlights for a
// version older than the stored one are dropped.
func (s *Service) Handle(_ context.Context, p rpc.HighlightParams) error {
	if !s.docs.put(p) {
		s.log.Debug("dropped stale highlight", "uri", p.URI(), "version", p.Doc.Version)
		return nil
	}
	s.log.Debug("highlight", "uri", p.URI(), "version", p.Doc.Version, "ranges", len(p.CodeLenses))
	s.emit(p)
	return nil
}

func (s *Service) Get(uri protocol.DocumentURI) (rpc.HighlightParams, bool) {
	return s.docs.get(uri)
}

// Documents lists the URIs that have highlights, sorted.
func (s *Service) Documents() []protocol.DocumentURI {
	return s.docs.uris()
}

// Reset forgets every document, for example after the server was replaced.
func (s *Service) Reset() {
	s.docs.clear()
}

// OnChange registers fn to be called with every accepted highlight.
func (s *Service) OnChange(fn func(rpc.HighlightParams)) disposable.Disposable {
	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return disposable.Func(func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	})
}

func (s *Service) emit(p rpc.HighlightParams) {
	s.listenersMu.Lock()
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(rpc.HighlightParams), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(p)
	}
}
