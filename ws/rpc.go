// Package ws serves the JSON-RPC 2.0 API UI clients use to follow the
// language server: settings, progress, highlights, code lenses and commands.
package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/springtools/stsclient/codelens"
	"github.com/springtools/stsclient/command"
	"github.com/springtools/stsclient/highlight"
	"github.com/springtools/stsclient/logger"
	"github.com/springtools/stsclient/progress"
	"github.com/springtools/stsclient/rpc"
	"github.com/springtools/stsclient/selector"
	"github.com/springtools/stsclient/settings"
	"github.com/springtools/stsclient/watch"
	"github.com/springtools/stsclient/wsstream"
)

// Deps are the services the RPC handler exposes.
type Deps struct {
	Settings   *settings.Store
	Progress   *progress.Service
	Highlights *highlight.Service
	Editors    *watch.EditorWatcher
	CodeLenses *codelens.Registry
	Commands   *command.Registry
	Selector   selector.DocumentSelector

	// SessionID returns the id of the live language server session, or ""
	// while disconnected.
	SessionID func() string
}

// RPCHandler handles JSON-RPC 2.0 over WebSocket.
type RPCHandler struct {
	token   string
	version string
	devMode bool
	deps    Deps

	settingsWatcher  *watch.SettingsWatcher
	progressWatcher  *watch.ProgressWatcher
	highlightWatcher *watch.HighlightWatcher
}

func NewRPCHandler(token, version string, devMode bool, deps Deps) *RPCHandler {
	if deps.Editors == nil {
		deps.Editors = watch.NewEditorWatcher()
	}
	if deps.SessionID == nil {
		deps.SessionID = func() string { return "" }
	}
	return &RPCHandler{
		token:            token,
		version:          version,
		devMode:          devMode,
		deps:             deps,
		settingsWatcher:  watch.NewSettingsWatcher(deps.Settings),
		progressWatcher:  watch.NewProgressWatcher(deps.Progress),
		highlightWatcher: watch.NewHighlightWatcher(deps.Highlights),
	}
}

// Start starts the watchers that feed subscriptions.
func (h *RPCHandler) Start() error {
	for _, start := range []func() error{
		h.settingsWatcher.Start,
		h.progressWatcher.Start,
		h.highlightWatcher.Start,
	} {
		if err := start(); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops the RPC handler and releases resources.
func (h *RPCHandler) Stop() {
	h.settingsWatcher.Stop()
	h.progressWatcher.Stop()
	h.highlightWatcher.Stop()
}

func (h *RPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.devMode,
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err)
		return
	}

	connID := uuid.Must(uuid.NewV7()).String()
	h.HandleStream(r.Context(), wsstream.New(conn), connID)
}

// HandleStream serves one client connection until it closes.
func (h *RPCHandler) HandleStream(ctx context.Context, stream jsonrpc2.ObjectStream, connID string) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "websocket connection crashed", "connId", connID)
		}
	}()

	log := slog.With("connId", connID)
	log.Info("new connection")

	state := &rpcConnState{
		connID: connID,
		log:    log,
	}

	handler := &rpcMethodHandler{
		RPCHandler: h,
		state:      state,
		log:        log,
	}

	rpcConn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(handler))
	state.setConn(rpcConn)

	<-rpcConn.DisconnectNotify()

	state.cleanup()
	log.Info("connection closed")
}

// rpcConnState tracks per-connection state.
type rpcConnState struct {
	mu            sync.Mutex
	connID        string
	conn          *jsonrpc2.Conn
	notifier      *JSONRPCNotifier
	log           *slog.Logger
	subscriptions map[string]watch.Watcher // subID → watcher for cleanup
}

func (s *rpcConnState) setConn(conn *jsonrpc2.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.notifier = NewJSONRPCNotifier(conn)
	s.subscriptions = make(map[string]watch.Watcher)
	s.mu.Unlock()
}

func (s *rpcConnState) getNotifier() watch.Notifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifier
}

func (s *rpcConnState) trackSubscription(id string, watcher watch.Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscriptions == nil {
		// connection already cleaned up
		watcher.Unsubscribe(id)
		return
	}
	s.subscriptions[id] = watcher
}

// untrackSubscription reports whether id belonged to this connection.
func (s *rpcConnState) untrackSubscription(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subscriptions[id]
	delete(s.subscriptions, id)
	return ok
}

func (s *rpcConnState) subscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscriptions)
}

func (s *rpcConnState) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, watcher := range s.subscriptions {
		watcher.Unsubscribe(id)
	}
	s.subscriptions = nil
}

type rpcMethodHandler struct {
	*RPCHandler
	state         *rpcConnState
	log           *slog.Logger
	authenticated bool
	authMu        sync.Mutex
}

func (h *rpcMethodHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "rpc handler panic", "method", req.Method, "connId", h.state.connID)
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "internal error")
		}
	}()

	h.log.Debug("received request", "method", req.Method, "id", req.ID)

	// Auth must be the first request
	if !h.isAuthenticated() {
		if req.Method != "auth" {
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidRequest, "first request must be auth")
			conn.Close()
			return
		}
		h.handleAuth(ctx, conn, req)
		return
	}

	switch req.Method {
	// settings namespace
	case "settings.get":
		h.handleSettingsGet(ctx, conn, req)
	case "settings.update":
		h.handleSettingsUpdate(ctx, conn, req)
	case "settings.subscribe":
		h.handleSettingsSubscribe(ctx, conn, req)
	case "settings.unsubscribe":
		h.handleWatcherUnsubscribe(ctx, conn, req, h.settingsWatcher, "settings")
	// progress namespace
	case "progress.subscribe":
		h.handleProgressSubscribe(ctx, conn, req)
	case "progress.unsubscribe":
		h.handleWatcherUnsubscribe(ctx, conn, req, h.progressWatcher, "progress")
	// highlight namespace
	case "highlight.subscribe":
		h.handleHighlightSubscribe(ctx, conn, req)
	case "highlight.unsubscribe":
		h.handleWatcherUnsubscribe(ctx, conn, req, h.highlightWatcher, "highlight")
	// editor namespace
	case "editor.subscribe":
		h.handleEditorSubscribe(ctx, conn, req)
	case "editor.unsubscribe":
		h.handleWatcherUnsubscribe(ctx, conn, req, h.deps.Editors, "editor")
	// codelens namespace
	case "codelens.provide":
		h.handleCodeLensProvide(ctx, conn, req)
	// command namespace
	case "command.list":
		h.handleCommandList(ctx, conn, req)
	case "command.execute":
		h.handleCommandExecute(ctx, conn, req)
	default:
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeMethodNotFound, "method not found: "+req.Method)
	}
}

func (h *rpcMethodHandler) isAuthenticated() bool {
	h.authMu.Lock()
	defer h.authMu.Unlock()
	return h.authenticated
}

func (h *rpcMethodHandler) setAuthenticated() {
	h.authMu.Lock()
	h.authenticated = true
	h.authMu.Unlock()
}

func (h *rpcMethodHandler) handleAuth(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.AuthParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		conn.Close()
		return
	}

	if subtle.ConstantTimeCompare([]byte(params.Token), []byte(h.token)) != 1 {
		h.log.Warn("invalid auth token")
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidRequest, "invalid token")
		conn.Close()
		return
	}

	h.setAuthenticated()

	serverID := h.deps.SessionID()
	h.log.Info("authenticated", "serverId", serverID)

	result := rpc.AuthResult{
		Version:   h.version,
		ServerID:  serverID,
		Connected: serverID != "",
	}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send auth response", "error", err)
	}
}

func (h *rpcMethodHandler) replyError(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, code int64, message string) {
	err := &jsonrpc2.Error{
		Code:    code,
		Message: message,
	}
	if replyErr := conn.ReplyWithError(ctx, id, err); replyErr != nil {
		h.log.Error("failed to send error response", "error", replyErr)
	}
}

func unmarshalParams(req *jsonrpc2.Request, v interface{}) error {
	if req.Params == nil {
		return errors.New("params required")
	}
	return json.Unmarshal(*req.Params, v)
}

func (h *rpcMethodHandler) handleWatcherUnsubscribe(
	ctx context.Context,
	conn *jsonrpc2.Conn,
	req *jsonrpc2.Request,
	watcher watch.Watcher,
	logName string,
) {
	var params rpc.UnsubscribeParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}
	if params.ID == "" {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "id is required")
		return
	}

	// Subscriptions of other connections are not ours to drop.
	if h.state.untrackSubscription(params.ID) {
		watcher.Unsubscribe(params.ID)
		h.log.Debug("unsubscribed", "watcher", logName, "watchId", params.ID)
	}

	if err := conn.Reply(ctx, req.ID, struct{}{}); err != nil {
		h.log.Error("failed to send "+logName+" unsubscribe response", "error", err)
	}
}
