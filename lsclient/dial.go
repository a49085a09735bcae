package lsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/springtools/stsclient/logger"
)

var ErrTransportUsed = errors.New("transport already used")

// InitOptions fill the initialize request.
type InitOptions struct {
	ClientName    string
	ClientVersion string
	// WorkspaceRoot is a local directory; it becomes rootUri and the only
	// workspace folder.
	WorkspaceRoot string
	// InitializationOptions are passed through to the server as is.
	InitializationOptions any
}

func (o InitOptions) params() protocol.InitializeParams {
	p := protocol.InitializeParams{
		ProcessID: int32(os.Getpid()),
		ClientInfo: &protocol.ClientInfo{
			Name:    o.ClientName,
			Version: o.ClientVersion,
		},
		InitializationOptions: o.InitializationOptions,
		Capabilities: protocol.ClientCapabilities{
			Workspace: &protocol.WorkspaceClientCapabilities{
				Configuration:    true,
				WorkspaceFolders: true,
				DidChangeWatchedFiles: &protocol.DidChangeWatchedFilesWorkspaceClientCapabilities{
					DynamicRegistration: true,
				},
			},
			Window: &protocol.WindowClientCapabilities{
				WorkDoneProgress: true,
			},
		},
	}
	if o.WorkspaceRoot != "" {
		root := uri.File(o.WorkspaceRoot)
		p.RootURI = root
		p.WorkspaceFolders = []protocol.WorkspaceFolder{{
			URI:  string(root),
			Name: filepath.Base(o.WorkspaceRoot),
		}}
	}
	return p
}

// Dial returns immediately with a handle that resolves once the transport
// is open and the initialize handshake has completed.
func Dial(ctx context.Context, t Transport, opts InitOptions, log *slog.Logger) *Handle {
	if log == nil {
		log = slog.Default()
	}
	h := NewHandle(t.String())
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.LogPanic(r, "dial crashed", "transport", t.String())
				h.Fail(fmt.Errorf("dial %s: panic: %v", t, r))
			}
		}()

		s, err := connect(ctx, t, opts, log)
		if err != nil {
			log.Warn("connect failed", "transport", t.String(), "error", err)
			h.Fail(err)
			return
		}
		if !h.Resolve(s) {
			s.Close()
		}
	}()
	return h
}

func connect(ctx context.Context, t Transport, opts InitOptions, log *slog.Logger) (*Session, error) {
	stream, release, err := t.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", t, err)
	}

	// The session outlives ctx, which only bounds the handshake.
	s := NewSession(context.WithoutCancel(ctx), stream, log.With("transport", t.String()), release)

	var result protocol.InitializeResult
	if err := s.Call(ctx, protocol.MethodInitialize, opts.params(), &result); err != nil {
		s.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	s.serverInfo = result.ServerInfo

	if err := s.Notify(ctx, protocol.MethodInitialized, &protocol.InitializedParams{}); err != nil {
		s.Close()
		return nil, fmt.Errorf("initialized: %w", err)
	}

	attrs := []any{"sessionId", s.ID()}
	if result.ServerInfo != nil {
		attrs = append(attrs, "server", result.ServerInfo.Name, "serverVersion", result.ServerInfo.Version)
	}
	log.Info("language server connected", attrs...)
	return s, nil
}
