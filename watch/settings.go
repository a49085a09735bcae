package watch

import (
	"log/slog"

	"github.com/springtools/stsclient/disposable"
	"github.com/springtools/stsclient/rpc"
	"github.com/springtools/stsclient/settings"
)

// SettingsWatcher notifies subscribers when settings are updated.
// Uses a channel-based async notification pattern so the settings store never
// waits on network I/O.
type SettingsWatcher struct {
	*BaseWatcher
	store    *settings.Store
	eventCh  chan settings.Change
	listener disposable.Disposable
}

func NewSettingsWatcher(store *settings.Store) *SettingsWatcher {
	return &SettingsWatcher{
		BaseWatcher: NewBaseWatcher("st"),
		store:       store,
		eventCh:     make(chan settings.Change, 16),
	}
}

func (w *SettingsWatcher) Start() error {
	w.listener = w.store.OnChange(w.onSettingsChange)
	go w.eventLoop()
	slog.Info("SettingsWatcher started")
	return nil
}

func (w *SettingsWatcher) Stop() {
	if w.listener != nil {
		w.listener.Dispose()
	}
	w.Cancel()
	slog.Info("SettingsWatcher stopped")
}

func (w *SettingsWatcher) eventLoop() {
	for {
		select {
		case <-w.Context().Done():
			return
		case c := <-w.eventCh:
			w.notifyChange(c)
		}
	}
}

func (w *SettingsWatcher) notifyChange(c settings.Change) {
	if !w.HasSubscriptions() {
		return
	}

	w.NotifyAll(rpc.MethodSettingsChanged, func(sub *Subscription) any {
		return rpc.SettingsChangedParams{
			ID:       sub.ID,
			Keys:     c.Keys,
			Settings: c.Settings,
		}
	})

	slog.Debug("notified settings change", "keys", c.Keys)
}

// Subscribe registers a subscriber and returns the subscription ID along with
// the current settings.
func (w *SettingsWatcher) Subscribe(notifier Notifier) (string, settings.Settings) {
	id := w.GenerateID()
	w.AddSubscription(&Subscription{ID: id, Notifier: notifier})
	return id, w.store.Get()
}

func (w *SettingsWatcher) onSettingsChange(c settings.Change) {
	if w.Context().Err() != nil {
		return
	}

	select {
	case w.eventCh <- c:
	default:
		slog.Warn("settings change event dropped (buffer full)")
	}
}
