package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/springtools/stsclient/codelens"
	"github.com/springtools/stsclient/command"
	"github.com/springtools/stsclient/config"
	"github.com/springtools/stsclient/contribution"
	"github.com/springtools/stsclient/dispatch"
	"github.com/springtools/stsclient/filewatch"
	"github.com/springtools/stsclient/highlight"
	"github.com/springtools/stsclient/lsclient"
	"github.com/springtools/stsclient/mcp"
	"github.com/springtools/stsclient/middleware"
	"github.com/springtools/stsclient/opener"
	"github.com/springtools/stsclient/progress"
	"github.com/springtools/stsclient/selector"
	"github.com/springtools/stsclient/settings"
	"github.com/springtools/stsclient/watch"
	"github.com/springtools/stsclient/ws"
)

const clientName = "stsclient"

// app owns the client services and the connection to the language server.
type app struct {
	cfg     *config.Config
	devMode bool
	log     *slog.Logger

	settings        *settings.Store
	dispatcher      *dispatch.Dispatcher
	progress        *progress.Service
	highlights      *highlight.Service
	highlightLenses *highlight.CodeLensService
	codeLenses      *codelens.Registry
	commands        *command.Registry
	editors         *watch.EditorWatcher
	openers         *opener.Service
	files           *filewatch.Watcher

	session atomic.Pointer[lsclient.Session]

	mu         sync.Mutex
	controller *contribution.Controller
}

func newApp(cfg *config.Config, devMode bool) (*app, error) {
	store, err := settings.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings: %w", err)
	}

	log := slog.Default()
	editors := watch.NewEditorWatcher()

	return &app{
		cfg:             cfg,
		devMode:         devMode,
		log:             log,
		settings:        store,
		dispatcher:      dispatch.New(log),
		progress:        progress.NewService(log),
		highlights:      highlight.NewService(log),
		highlightLenses: highlight.NewCodeLensService(),
		codeLenses:      codelens.NewRegistry(),
		commands:        command.NewRegistry(),
		editors:         editors,
		openers: opener.NewService(
			&opener.BrowserOpener{Command: cfg.Browser},
			&opener.EditorOpener{Sink: editors},
		),
		files: filewatch.New(cfg.WorkDir, cfg.Selector, log),
	}, nil
}

// runClient keeps the language server connection alive and the controller
// attached to it until ctx is done.
func (a *app) runClient(ctx context.Context) error {
	transport, err := a.cfg.Server.NewTransport(clientName)
	if err != nil {
		return err
	}

	if err := a.files.Start(); err != nil {
		return fmt.Errorf("failed to watch workspace: %w", err)
	}
	defer a.files.Stop()

	defer func() {
		a.mu.Lock()
		if a.controller != nil {
			a.controller.Dispose()
		}
		a.mu.Unlock()
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.settings.Watch(ctx)
	})
	g.Go(func() error {
		sup := &lsclient.Supervisor{
			Transport: transport,
			Init: lsclient.InitOptions{
				ClientName:            clientName,
				ClientVersion:         version,
				WorkspaceRoot:         a.cfg.WorkDir,
				InitializationOptions: a.cfg.Server.InitializationOptions,
			},
			MinBackoff: a.cfg.Reconnect.MinBackoff,
			MaxBackoff: a.cfg.Reconnect.MaxBackoff,
			Log:        a.log.With("component", "supervisor"),
		}
		return sup.Run(ctx, a.onHandle)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// onHandle creates the controller for the first connection and hands every
// later one to Reconnect.
func (a *app) onHandle(h *lsclient.Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.controller != nil {
		if err := a.controller.Reconnect(h); err != nil {
			a.log.Warn("reconnect ignored", "error", err)
		}
		return
	}

	c, err := contribution.New(h, contribution.Options{
		Dispatcher:        a.dispatcher,
		Preferences:       a.settings,
		Progress:          a.progress,
		Highlights:        a.highlights,
		HighlightCodeLens: a.highlightLenses,
		CodeLenses:        a.codeLenses,
		Commands:          a.commands,
		Openers:           a.openers,
		OnAttach:          a.onAttach,
		Log:               a.log,
	})
	if err != nil {
		// Options are static; this only fails on a wiring bug.
		a.log.Error("failed to create controller", "error", err)
		return
	}
	a.controller = c
}

func (a *app) onAttach(s *lsclient.Session) {
	a.session.Store(s)
	if s == nil {
		a.files.SetTarget(nil)
		return
	}
	a.files.SetTarget(s)
	if info := s.ServerInfo(); info != nil {
		a.log.Info("language server attached", "sessionId", s.ID(), "server", info.Name, "serverVersion", info.Version)
	}
}

// liveSession returns the attached session unless it has already
// disconnected and the supervisor is still redialing.
func (a *app) liveSession() *lsclient.Session {
	s := a.session.Load()
	if s == nil {
		return nil
	}
	select {
	case <-s.DisconnectNotify():
		return nil
	default:
		return s
	}
}

func (a *app) sessionID() string {
	if s := a.liveSession(); s != nil {
		return s.ID()
	}
	return ""
}

func (a *app) controllerState() contribution.State {
	a.mu.Lock()
	c := a.controller
	a.mu.Unlock()
	if c == nil {
		return contribution.StateIdle
	}
	return c.State()
}

type statusResponse struct {
	Version          string `json:"version"`
	State            string `json:"state"`
	Connected        bool   `json:"connected"`
	ServerID         string `json:"server_id,omitempty"`
	ServerName       string `json:"server_name,omitempty"`
	Tasks            int    `json:"tasks"`
	Documents        int    `json:"documents"`
	CodeLensProvider bool   `json:"codelens_provider"`
}

func (a *app) status() statusResponse {
	st := statusResponse{
		Version:          version,
		State:            a.controllerState().String(),
		Tasks:            len(a.progress.Tasks()),
		Documents:        len(a.highlights.Documents()),
		CodeLensProvider: a.codeLenses.Count(selector.LanguageJava) > 0,
	}
	if s := a.liveSession(); s != nil {
		st.Connected = true
		st.ServerID = s.ID()
		if info := s.ServerInfo(); info != nil {
			st.ServerName = info.Name
		}
	}
	return st
}

func (a *app) newRPCHandler() *ws.RPCHandler {
	return ws.NewRPCHandler(a.cfg.AuthToken, version, a.devMode, ws.Deps{
		Settings:   a.settings,
		Progress:   a.progress,
		Highlights: a.highlights,
		Editors:    a.editors,
		CodeLenses: a.codeLenses,
		Commands:   a.commands,
		Selector:   a.cfg.Selector,
		SessionID:  a.sessionID,
	})
}

func (a *app) newMCPServer() *mcp.Server {
	return mcp.NewServer(version, mcp.Deps{
		Progress:   a.progress,
		Highlights: a.highlights,
		CodeLenses: a.codeLenses,
		Settings:   a.settings,
		Selector:   a.cfg.Selector,
	})
}

func newHandler(a *app, rpcHandler http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(a.status())
	})

	// WebSocket endpoint (handles its own auth via the first JSON-RPC request)
	mux.Handle("GET /ws", rpcHandler)

	return middleware.Logging(middleware.Auth(a.cfg.AuthToken)(mux))
}

// serveHTTP runs the status server until ctx is done.
func (a *app) serveHTTP(ctx context.Context) error {
	rpcHandler := a.newRPCHandler()
	if err := rpcHandler.Start(); err != nil {
		return err
	}
	defer rpcHandler.Stop()

	srv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           newHandler(a, rpcHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("status server starting", "addr", a.cfg.Listen, "workDir", a.cfg.WorkDir)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
