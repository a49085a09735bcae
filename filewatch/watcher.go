// Package filewatch reports changes to workspace files the language server
// cares about as workspace/didChangeWatchedFiles notifications.
package filewatch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/springtools/stsclient/logger"
	"github.com/springtools/stsclient/selector"
)

const (
	debounceInterval = 100 * time.Millisecond
	notifyTimeout    = 5 * time.Second
)

// Directories that never contain sources the server reads.
var skipDirs = []string{".git", ".gradle", ".idea", ".vscode", "node_modules", "target", "build", "bin"}

// Notifier sends a notification to the language server.
type Notifier interface {
	Notify(ctx context.Context, method string, params any) error
}

type Watcher struct {
	root     string
	selector selector.DocumentSelector
	log      *slog.Logger
	watcher  *fsnotify.Watcher

	targetMu sync.RWMutex
	target   Notifier

	mu      sync.Mutex
	pending map[string]protocol.FileChangeType
	timer   *time.Timer
	stopped bool

	done chan struct{}
}

func New(root string, sel selector.DocumentSelector, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		root:     filepath.Clean(root),
		selector: sel,
		log:      log.With("component", "filewatch"),
		pending:  make(map[string]protocol.FileChangeType),
		done:     make(chan struct{}),
	}
}

// SetTarget directs future batches to n. A nil n drops them until a new
// target is set.
func (w *Watcher) SetTarget(n Notifier) {
	w.targetMu.Lock()
	w.target = n
	w.targetMu.Unlock()
}

func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	if err := w.addTree(w.root); err != nil {
		watcher.Close()
		return err
	}

	go w.eventLoop()
	w.log.Info("file watcher started", "root", w.root)
	return nil
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	if w.watcher != nil {
		w.watcher.Close()
		<-w.done
	}
	w.log.Info("file watcher stopped")
}

// addTree watches dir and every directory below it that is not skipped.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && slices.Contains(skipDirs, d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.log.Debug("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) eventLoop() {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "file watcher crashed")
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !slices.Contains(skipDirs, filepath.Base(event.Name)) && w.watcher != nil {
				w.addTree(event.Name)
			}
			return
		}
	}

	var change protocol.FileChangeType
	switch {
	case event.Has(fsnotify.Create):
		change = protocol.FileChangeTypeCreated
	case event.Has(fsnotify.Write):
		change = protocol.FileChangeTypeChanged
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		change = protocol.FileChangeTypeDeleted
	default:
		return
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	if !w.selector.MatchesPath(rel) {
		return
	}

	w.record(event.Name, change)
}

// record merges change into the pending batch and restarts the debounce
// timer.
func (w *Watcher) record(path string, change protocol.FileChangeType) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	if prev, ok := w.pending[path]; ok {
		change, ok = coalesce(prev, change)
		if !ok {
			delete(w.pending, path)
			return
		}
	}
	w.pending[path] = change

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceInterval, w.flush)
}

// coalesce folds two changes to the same file. It reports false when they
// cancel out.
func coalesce(prev, next protocol.FileChangeType) (protocol.FileChangeType, bool) {
	switch {
	case prev == protocol.FileChangeTypeCreated && next == protocol.FileChangeTypeChanged:
		return protocol.FileChangeTypeCreated, true
	case prev == protocol.FileChangeTypeCreated && next == protocol.FileChangeTypeDeleted:
		return 0, false
	case prev == protocol.FileChangeTypeDeleted && next == protocol.FileChangeTypeCreated:
		return protocol.FileChangeTypeChanged, true
	}
	return next, true
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if w.stopped || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	w.pending = make(map[string]protocol.FileChangeType)
	w.mu.Unlock()

	changes := make([]*protocol.FileEvent, 0, len(batch))
	for path, change := range batch {
		changes = append(changes, &protocol.FileEvent{Type: change, URI: uri.File(path)})
	}
	slices.SortFunc(changes, func(a, b *protocol.FileEvent) int {
		return strings.Compare(string(a.URI), string(b.URI))
	})

	w.targetMu.RLock()
	target := w.target
	w.targetMu.RUnlock()
	if target == nil {
		w.log.Debug("no server attached, dropping file changes", "count", len(changes))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	params := &protocol.DidChangeWatchedFilesParams{Changes: changes}
	if err := target.Notify(ctx, protocol.MethodWorkspaceDidChangeWatchedFiles, params); err != nil {
		w.log.Warn("failed to send file changes", "count", len(changes), "error", err)
		return
	}
	w.log.Debug("sent file changes", "count", len(changes))
}
