package rpc

import (
	"go.lsp.dev/protocol"

	"github.com/springtools/stsclient/notify"
)

// Server notification methods. The names are part of the protocol contract
// with the language server.
const (
	MethodProgress  = "sts/progress"
	MethodHighlight = "sts/highlight"
)

var (
	ProgressNotification  = notify.MustDeclare[ProgressParams](notify.Types, MethodProgress)
	HighlightNotification = notify.MustDeclare[HighlightParams](notify.Types, MethodHighlight)

	LogMessageNotification  = notify.MustDeclare[protocol.LogMessageParams](notify.Types, protocol.MethodWindowLogMessage)
	ShowMessageNotification = notify.MustDeclare[protocol.ShowMessageParams](notify.Types, protocol.MethodWindowShowMessage)
)

// UI notification methods.
const (
	MethodSettingsChanged  = "settings.changed"
	MethodProgressChanged  = "progress.changed"
	MethodHighlightChanged = "highlight.changed"
	MethodEditorOpen       = "editor.open"
)
