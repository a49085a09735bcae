package opener

import (
	"context"
	"errors"

	"go.lsp.dev/uri"
)

const editorPriority = 100

var ErrNoEditor = errors.New("no editor attached")

// EditorSink delivers an open request to whatever editor UI is attached.
type EditorSink interface {
	// HasEditors reports whether anyone would receive an open request.
	HasEditors() bool
	OpenInEditor(ctx context.Context, u uri.URI) error
}

// EditorOpener opens file URIs in the attached editor UI.
type EditorOpener struct {
	Sink EditorSink
}

func (e *EditorOpener) ID() string { return "editor" }

func (e *EditorOpener) Priority(u uri.URI) int {
	if scheme(u) != uri.FileScheme || e.Sink == nil || !e.Sink.HasEditors() {
		return 0
	}
	return editorPriority
}

func (e *EditorOpener) Open(ctx context.Context, u uri.URI) error {
	if e.Sink == nil {
		return ErrNoEditor
	}
	return e.Sink.OpenInEditor(ctx, u)
}
