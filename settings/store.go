package settings

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/springtools/stsclient/disposable"
)

const (
	fileName         = "settings.json"
	debounceInterval = 100 * time.Millisecond
)

type Store struct {
	path   string
	dataMu sync.RWMutex
	data   Settings

	listenersMu sync.Mutex
	listeners   map[uint64]func(Change)
	nextID      uint64

	// notifyMu keeps change events in the order the changes were applied.
	notifyMu sync.Mutex
}

// NewStore loads existing settings from disk or uses defaults.
func NewStore(dataDir string) (*Store, error) {
	s := &Store{
		path:      filepath.Join(dataDir, fileName),
		data:      Default(),
		listeners: make(map[uint64]func(Change)),
	}

	loaded, ok, err := s.load()
	if err != nil {
		return nil, err
	}
	if ok {
		s.data = loaded
	}

	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Get() Settings {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return s.data
}

// OnChange registers fn to be called after every change. fn runs outside the
// store's data lock.
func (s *Store) OnChange(fn func(Change)) disposable.Disposable {
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

func (s *Store) Update(settings Settings) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.dataMu.Lock()
	if err := s.save(settings); err != nil {
		s.dataMu.Unlock()
		return err
	}
	keys := s.data.Diff(settings)
	s.data = settings
	s.dataMu.Unlock()

	s.emit(Change{Keys: keys, Settings: settings})
	return nil
}

// Watch reloads the settings file when it is edited outside this process and
// emits a change for every key that differs. It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: atomic saves replace the file, which drops a file watch.
	if err := watcher.Add(dir); err != nil {
		return err
	}
	slog.Info("settings watcher started", "path", s.path)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, s.reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("settings watcher error", "error", err)
		}
	}
}

func (s *Store) reload() {
	loaded, ok, err := s.load()
	if err != nil {
		slog.Warn("failed to reload settings", "path", s.path, "error", err)
		return
	}
	if !ok {
		loaded = Default()
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.dataMu.Lock()
	keys := s.data.Diff(loaded)
	s.data = loaded
	s.dataMu.Unlock()

	if len(keys) == 0 {
		return
	}
	slog.Info("settings reloaded from disk", "keys", keys)
	s.emit(Change{Keys: keys, Settings: loaded})
}

func (s *Store) emit(c Change) {
	if len(c.Keys) == 0 {
		return
	}

	s.listenersMu.Lock()
	fns := make([]func(Change), 0, len(s.listeners))
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// load reads the settings file. ok is false when the file is missing or
// unusable, in which case the caller keeps defaults.
func (s *Store) load() (Settings, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Settings{}, false, nil
	}
	if err != nil {
		return Settings{}, false, err
	}

	settings := Default()
	if err := json.Unmarshal(data, &settings); err != nil {
		// Fall back to default for corrupted JSON
		return Settings{}, false, nil
	}

	return settings, true, nil
}

func (s *Store) save(settings Settings) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: write to temp file then rename
	tmp, err := os.CreateTemp(dir, "settings-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, s.path)
}
