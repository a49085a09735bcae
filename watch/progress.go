package watch

import (
	"log/slog"

	"github.com/springtools/stsclient/disposable"
	"github.com/springtools/stsclient/progress"
	"github.com/springtools/stsclient/rpc"
)

// ProgressWatcher forwards server progress to subscribed UI connections.
type ProgressWatcher struct {
	*BaseWatcher
	service  *progress.Service
	eventCh  chan progress.Event
	listener disposable.Disposable
}

func NewProgressWatcher(service *progress.Service) *ProgressWatcher {
	return &ProgressWatcher{
		BaseWatcher: NewBaseWatcher("pg"),
		service:     service,
		eventCh:     make(chan progress.Event, 64),
	}
}

func (w *ProgressWatcher) Start() error {
	w.listener = w.service.OnChange(w.onProgress)
	go w.eventLoop()
	slog.Info("ProgressWatcher started")
	return nil
}

func (w *ProgressWatcher) Stop() {
	if w.listener != nil {
		w.listener.Dispose()
	}
	w.Cancel()
	slog.Info("ProgressWatcher stopped")
}

// Subscribe registers a subscriber and returns the tasks active right now.
func (w *ProgressWatcher) Subscribe(notifier Notifier) (string, []rpc.ProgressParams) {
	id := w.GenerateID()
	w.AddSubscription(&Subscription{ID: id, Notifier: notifier})

	tasks := w.service.Tasks()
	out := make([]rpc.ProgressParams, len(tasks))
	for i, t := range tasks {
		out[i] = rpc.ProgressParams{ID: t.ID, StatusMsg: t.StatusMsg}
	}
	return id, out
}

func (w *ProgressWatcher) onProgress(ev progress.Event) {
	if w.Context().Err() != nil {
		return
	}
	select {
	case w.eventCh <- ev:
	default:
		slog.Warn("progress event dropped (buffer full)", "taskId", ev.Task.ID)
	}
}

func (w *ProgressWatcher) eventLoop() {
	for {
		select {
		case <-w.Context().Done():
			return
		case ev := <-w.eventCh:
			if !w.HasSubscriptions() {
				continue
			}
			p := rpc.ProgressParams{ID: ev.Task.ID, StatusMsg: ev.Task.StatusMsg}
			if ev.Done {
				p.StatusMsg = ""
			}
			w.NotifyAll(rpc.MethodProgressChanged, func(sub *Subscription) any {
				return rpc.ProgressChangedParams{ID: sub.ID, Progress: p, Done: ev.Done}
			})
		}
	}
}
