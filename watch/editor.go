package watch

import (
	"context"
	"errors"

	"go.lsp.dev/uri"

	"github.com/springtools/stsclient/opener"
	"github.com/springtools/stsclient/rpc"
)

// EditorWatcher tracks the UI connections that can open files and forwards
// open requests to them.
type EditorWatcher struct {
	*BaseWatcher
}

var _ opener.EditorSink = (*EditorWatcher)(nil)

func NewEditorWatcher() *EditorWatcher {
	return &EditorWatcher{BaseWatcher: NewBaseWatcher("ed")}
}

func (w *EditorWatcher) Subscribe(notifier Notifier) string {
	id := w.GenerateID()
	w.AddSubscription(&Subscription{ID: id, Notifier: notifier})
	return id
}

func (w *EditorWatcher) HasEditors() bool {
	return w.HasSubscriptions()
}

// OpenInEditor asks every attached editor to open u. It fails only if no
// editor received the request.
func (w *EditorWatcher) OpenInEditor(_ context.Context, u uri.URI) error {
	subs := w.GetAllSubscriptions()
	if len(subs) == 0 {
		return opener.ErrNoEditor
	}

	var errs []error
	for _, sub := range subs {
		if err := w.notify(sub, rpc.MethodEditorOpen, rpc.EditorOpenParams{URI: string(u)}); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(subs) {
		return errors.Join(errs...)
	}
	return nil
}
