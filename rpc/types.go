// Package rpc defines JSON-RPC 2.0 wire format types.
//
// It covers the notifications the language server pushes to this client and
// the params and results of the WebSocket API served to UI clients.
package rpc

import (
	"go.lsp.dev/protocol"

	"github.com/springtools/stsclient/settings"
)

// Language server → client

// ProgressParams reports one step of a long-running server operation.
// Events with the same ID belong to the same operation; an empty StatusMsg
// ends it.
type ProgressParams struct {
	ID        string `json:"id"`
	StatusMsg string `json:"statusMsg"`
}

// HighlightParams carries the ranges to annotate in one version of a document.
type HighlightParams struct {
	Doc        protocol.VersionedTextDocumentIdentifier `json:"doc"`
	CodeLenses []protocol.CodeLens                      `json:"codeLenses"`
}

func (p HighlightParams) URI() string { return string(p.Doc.URI) }

// UI client → server

type AuthParams struct {
	Token string `json:"token"`
}

type AuthResult struct {
	Version   string `json:"version"`
	ServerID  string `json:"server_id"`
	Connected bool   `json:"connected"`
}

type SettingsUpdateParams struct {
	Settings settings.Settings `json:"settings"`
}

type SubscribeResult struct {
	ID string `json:"id"`
}

type SettingsSubscribeResult struct {
	ID       string            `json:"id"`
	Settings settings.Settings `json:"settings"`
}

type ProgressSubscribeResult struct {
	ID    string           `json:"id"`
	Tasks []ProgressParams `json:"tasks"`
}

type HighlightSubscribeParams struct {
	URI string `json:"uri"`
}

type HighlightSubscribeResult struct {
	ID        string           `json:"id"`
	Highlight *HighlightParams `json:"highlight,omitempty"`
}

type UnsubscribeParams struct {
	ID string `json:"id"`
}

type CodeLensProvideParams struct {
	LanguageID string `json:"language_id"`
	URI        string `json:"uri"`
}

type CodeLensProvideResult struct {
	CodeLenses []protocol.CodeLens `json:"code_lenses"`
}

type CommandExecuteParams struct {
	Command   string `json:"command"`
	Arguments []any  `json:"arguments,omitempty"`
}

// Server → UI client notifications

type SettingsChangedParams struct {
	ID       string            `json:"id"`
	Keys     []settings.Key    `json:"keys"`
	Settings settings.Settings `json:"settings"`
}

type ProgressChangedParams struct {
	ID       string         `json:"id"`
	Progress ProgressParams `json:"progress"`
	Done     bool           `json:"done"`
}

type HighlightChangedParams struct {
	ID        string          `json:"id"`
	Highlight HighlightParams `json:"highlight"`
}

type EditorOpenParams struct {
	URI string `json:"uri"`
}
