package filewatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/springtools/stsclient/selector"
)

type recorder struct {
	mu      sync.Mutex
	batches []*protocol.DidChangeWatchedFilesParams
}

func (r *recorder) Notify(_ context.Context, method string, params any) error {
	if method != protocol.MethodWorkspaceDidChangeWatchedFiles {
		return nil
	}
	r.mu.Lock()
	r.batches = append(r.batches, params.(*protocol.DidChangeWatchedFilesParams))
	r.mu.Unlock()
	return nil
}

func (r *recorder) events() []*protocol.FileEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*protocol.FileEvent
	for _, b := range r.batches {
		out = append(out, b.Changes...)
	}
	return out
}

func TestCoalesce(t *testing.T) {
	tests := []struct {
		prev, next protocol.FileChangeType
		want       protocol.FileChangeType
		keep       bool
	}{
		{protocol.FileChangeTypeCreated, protocol.FileChangeTypeChanged, protocol.FileChangeTypeCreated, true},
		{protocol.FileChangeTypeCreated, protocol.FileChangeTypeDeleted, 0, false},
		{protocol.FileChangeTypeDeleted, protocol.FileChangeTypeCreated, protocol.FileChangeTypeChanged, true},
		{protocol.FileChangeTypeChanged, protocol.FileChangeTypeDeleted, protocol.FileChangeTypeDeleted, true},
		{protocol.FileChangeTypeChanged, protocol.FileChangeTypeChanged, protocol.FileChangeTypeChanged, true},
	}
	for _, tt := range tests {
		got, keep := coalesce(tt.prev, tt.next)
		assert.Equal(t, tt.keep, keep, "%v then %v", tt.prev, tt.next)
		if keep {
			assert.Equal(t, tt.want, got, "%v then %v", tt.prev, tt.next)
		}
	}
}

func TestHandleEvent_FiltersAndBatches(t *testing.T) {
	root := t.TempDir()
	w := New(root, selector.Default(), nil)
	rec := &recorder{}
	w.SetTarget(rec)

	java := filepath.Join(root, "src", "Greeting.java")
	props := filepath.Join(root, "src", "application.properties")
	w.handleEvent(fsnotify.Event{Name: java, Op: fsnotify.Create})
	w.handleEvent(fsnotify.Event{Name: java, Op: fsnotify.Write})
	w.handleEvent(fsnotify.Event{Name: props, Op: fsnotify.Remove})
	w.handleEvent(fsnotify.Event{Name: filepath.Join(root, "README.md"), Op: fsnotify.Write})
	w.handleEvent(fsnotify.Event{Name: filepath.Join(root, "pom.xml"), Op: fsnotify.Chmod})

	require.Eventually(t, func() bool { return len(rec.events()) == 2 }, time.Second, 10*time.Millisecond)

	events := rec.events()
	require.Len(t, rec.batches, 1)
	byURI := map[uri.URI]protocol.FileChangeType{}
	for _, e := range events {
		byURI[e.URI] = e.Type
	}
	assert.Equal(t, protocol.FileChangeTypeCreated, byURI[uri.File(java)])
	assert.Equal(t, protocol.FileChangeTypeDeleted, byURI[uri.File(props)])
}

func TestHandleEvent_CreateThenDeleteCancels(t *testing.T) {
	root := t.TempDir()
	w := New(root, selector.Default(), nil)
	rec := &recorder{}
	w.SetTarget(rec)

	tmp := filepath.Join(root, "Scratch.java")
	w.handleEvent(fsnotify.Event{Name: tmp, Op: fsnotify.Create})
	w.handleEvent(fsnotify.Event{Name: tmp, Op: fsnotify.Remove})

	time.Sleep(3 * debounceInterval)
	assert.Empty(t, rec.events())
}

func TestFlush_NoTargetDrops(t *testing.T) {
	root := t.TempDir()
	w := New(root, selector.Default(), nil)
	w.record(filepath.Join(root, "A.java"), protocol.FileChangeTypeChanged)
	w.flush()

	rec := &recorder{}
	w.SetTarget(rec)
	w.flush()
	assert.Empty(t, rec.events())
}

func TestWatcher_RealFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "main", "java"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "target"), 0755))

	w := New(root, selector.Default(), nil)
	rec := &recorder{}
	w.SetTarget(rec)
	require.NoError(t, w.Start())
	defer w.Stop()

	java := filepath.Join(root, "src", "main", "java", "Greeting.java")
	require.NoError(t, os.WriteFile(java, []byte("class Greeting {}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "target", "Generated.java"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644))

	require.Eventually(t, func() bool {
		for _, e := range rec.events() {
			if e.URI == uri.File(java) {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)

	time.Sleep(3 * debounceInterval)
	for _, e := range rec.events() {
		assert.Equal(t, uri.File(java), e.URI, "unexpected event %+v", e)
	}
}

func TestWatcher_NewDirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	w := New(root, selector.Default(), nil)
	rec := &recorder{}
	w.SetTarget(rec)
	require.NoError(t, w.Start())
	defer w.Stop()

	dir := filepath.Join(root, "module")
	require.NoError(t, os.Mkdir(dir, 0755))
	// Give the watcher a moment to pick up the new directory.
	time.Sleep(50 * time.Millisecond)

	yml := filepath.Join(dir, "application.yml")
	require.NoError(t, os.WriteFile(yml, []byte("server.port: 8080"), 0644))

	require.Eventually(t, func() bool {
		for _, e := range rec.events() {
			if e.URI == uri.File(yml) {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}
