// Package lsclient manages the JSON-RPC connection to a language server.
//
// A Session is one live, handshake-complete connection. A Handle is a future
// that resolves to a Session exactly once. Inbound messages of a Session are
// handled one at a time, in arrival order, on the connection's read loop.
package lsclient

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"
	"go.lsp.dev/protocol"

	"github.com/springtools/stsclient/disposable"
	"github.com/springtools/stsclient/logger"
)

const shutdownTimeout = 3 * time.Second

type listener struct {
	fn func(ctx context.Context, params json.RawMessage)
}

type Session struct {
	id   string
	conn *jsonrpc2.Conn
	log  *slog.Logger

	mu        sync.RWMutex
	listeners map[string][]*listener

	closeOnce sync.Once
	closeErr  error
	release   func() error

	serverInfo *protocol.ServerInfo
}

// NewSession starts a JSON-RPC connection over stream. release, if non-nil,
// runs once after the connection is closed (for example to stop a process).
func NewSession(ctx context.Context, stream jsonrpc2.ObjectStream, log *slog.Logger, release func() error) *Session {
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		id:        uuid.Must(uuid.NewV7()).String(),
		listeners: make(map[string][]*listener),
		release:   release,
	}
	s.log = log.With("sessionId", s.id)
	s.conn = jsonrpc2.NewConn(ctx, stream, s)
	return s
}

func (s *Session) ID() string { return s.id }

// ServerInfo returns what the server reported during initialize, if anything.
func (s *Session) ServerInfo() *protocol.ServerInfo { return s.serverInfo }

// OnNotification adds a low-level listener for method. Listeners of one
// method run in the order they were added.
func (s *Session) OnNotification(method string, fn func(ctx context.Context, params json.RawMessage)) disposable.Disposable {
	l := &listener{fn: fn}

	s.mu.Lock()
	list := s.listeners[method]
	s.listeners[method] = append(list[:len(list):len(list)], l)
	s.mu.Unlock()

	return disposable.Func(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		list := s.listeners[method]
		next := make([]*listener, 0, len(list))
		for _, other := range list {
			if other != l {
				next = append(next, other)
			}
		}
		if len(next) == 0 {
			delete(s.listeners, method)
			return
		}
		s.listeners[method] = next
	})
}

func (s *Session) Notify(ctx context.Context, method string, params any) error {
	return s.conn.Notify(ctx, method, params)
}

func (s *Session) Call(ctx context.Context, method string, params, result any) error {
	return s.conn.Call(ctx, method, params, result)
}

// DisconnectNotify is closed when the connection ends for any reason.
func (s *Session) DisconnectNotify() <-chan struct{} {
	return s.conn.DisconnectNotify()
}

// Close asks the server to shut down, then closes the connection.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		select {
		case <-s.conn.DisconnectNotify():
		default:
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := s.conn.Call(ctx, "shutdown", nil, nil); err != nil {
				s.log.Debug("shutdown request failed", "error", err)
			} else if err := s.conn.Notify(ctx, "exit", nil); err != nil {
				s.log.Debug("exit notification failed", "error", err)
			}
			cancel()
		}

		if err := s.conn.Close(); err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
			s.closeErr = err
		}
		if s.release != nil {
			if err := s.release(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
		s.log.Info("session closed")
	})
	return s.closeErr
}

// Handle implements jsonrpc2.Handler. It runs on the connection's read loop,
// so it must never wait on a call to the server.
func (s *Session) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "session handler panic", "method", req.Method, "sessionId", s.id)
		}
	}()

	if req.Notif {
		s.handleNotification(ctx, req)
		return
	}
	s.handleRequest(ctx, conn, req)
}

func (s *Session) handleNotification(ctx context.Context, req *jsonrpc2.Request) {
	s.mu.RLock()
	list := s.listeners[req.Method]
	s.mu.RUnlock()

	if len(list) == 0 {
		s.log.Debug("dropped notification", "method", req.Method)
		return
	}

	var params json.RawMessage
	if req.Params != nil {
		params = *req.Params
	}
	for _, l := range list {
		l.fn(ctx, params)
	}
}

// handleRequest answers the server requests a minimal client must accept.
// Everything else gets method-not-found.
func (s *Session) handleRequest(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var result any
	switch req.Method {
	case "window/workDoneProgress/create",
		"client/registerCapability",
		"client/unregisterCapability",
		"window/showMessageRequest":
		result = nil
	case "workspace/configuration":
		var params struct {
			Items []json.RawMessage `json:"items"`
		}
		if req.Params != nil {
			if err := json.Unmarshal(*req.Params, &params); err != nil {
				s.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
				return
			}
		}
		result = make([]any, len(params.Items))
	default:
		s.log.Debug("unsupported server request", "method", req.Method, "id", req.ID)
		s.replyError(ctx, conn, req.ID, jsonrpc2.CodeMethodNotFound, "method not found: "+req.Method)
		return
	}

	if err := conn.Reply(ctx, req.ID, result); err != nil {
		s.log.Error("failed to reply", "method", req.Method, "error", err)
	}
}

func (s *Session) replyError(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, code int64, message string) {
	err := &jsonrpc2.Error{
		Code:    code,
		Message: message,
	}
	if replyErr := conn.ReplyWithError(ctx, id, err); replyErr != nil {
		s.log.Error("failed to send error response", "error", replyErr)
	}
}
