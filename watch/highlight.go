package watch

import (
	"log/slog"
	"sync"

	"go.lsp.dev/protocol"

	"github.com/springtools/stsclient/disposable"
	"github.com/springtools/stsclient/highlight"
	"github.com/springtools/stsclient/rpc"
)

// HighlightWatcher notifies subscribers when the highlights of a document
// change. A subscription is for one document URI, or for all documents when
// the URI is empty.
type HighlightWatcher struct {
	*BaseWatcher
	service  *highlight.Service
	eventCh  chan rpc.HighlightParams
	listener disposable.Disposable

	uriMu   sync.RWMutex
	idToURI map[string]protocol.DocumentURI
}

func NewHighlightWatcher(service *highlight.Service) *HighlightWatcher {
	return &HighlightWatcher{
		BaseWatcher: NewBaseWatcher("hl"),
		service:     service,
		eventCh:     make(chan rpc.HighlightParams, 64),
		idToURI:     make(map[string]protocol.DocumentURI),
	}
}

func (w *HighlightWatcher) Start() error {
	w.listener = w.service.OnChange(w.onHighlight)
	go w.eventLoop()
	slog.Info("HighlightWatcher started")
	return nil
}

func (w *HighlightWatcher) Stop() {
	if w.listener != nil {
		w.listener.Dispose()
	}
	w.Cancel()
	slog.Info("HighlightWatcher stopped")
}

// Subscribe registers a subscriber for uri and returns the highlights known
// for it, if any.
func (w *HighlightWatcher) Subscribe(uri protocol.DocumentURI, notifier Notifier) (string, *rpc.HighlightParams) {
	id := w.GenerateID()

	// Lock order: uriMu → subMu
	w.uriMu.Lock()
	w.idToURI[id] = uri
	w.uriMu.Unlock()
	w.AddSubscription(&Subscription{ID: id, Notifier: notifier})

	if uri == "" {
		return id, nil
	}
	if p, ok := w.service.Get(uri); ok {
		return id, &p
	}
	return id, nil
}

// Unsubscribe overrides BaseWatcher.Unsubscribe to also drop the URI mapping.
func (w *HighlightWatcher) Unsubscribe(id string) {
	w.uriMu.Lock()
	delete(w.idToURI, id)
	w.uriMu.Unlock()
	w.RemoveSubscription(id)
}

func (w *HighlightWatcher) onHighlight(p rpc.HighlightParams) {
	if w.Context().Err() != nil {
		return
	}
	select {
	case w.eventCh <- p:
	default:
		slog.Warn("highlight event dropped (buffer full)", "uri", p.URI())
	}
}

func (w *HighlightWatcher) eventLoop() {
	for {
		select {
		case <-w.Context().Done():
			return
		case p := <-w.eventCh:
			w.notifyDocument(p)
		}
	}
}

func (w *HighlightWatcher) notifyDocument(p rpc.HighlightParams) {
	var notified int
	for _, sub := range w.GetAllSubscriptions() {
		w.uriMu.RLock()
		uri := w.idToURI[sub.ID]
		w.uriMu.RUnlock()
		if uri != "" && uri != p.Doc.URI {
			continue
		}
		w.notify(sub, rpc.MethodHighlightChanged, rpc.HighlightChangedParams{ID: sub.ID, Highlight: p})
		notified++
	}
	slog.Debug("notified highlight change", "uri", p.URI(), "subscribers", notified)
}
