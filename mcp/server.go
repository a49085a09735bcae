// Package mcp implements a stdio MCP server that lets AI agents inspect what
// the language server reported: running progress tasks, document highlights
// and code lenses. Agents can also flip the highlight preferences.
package mcp

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/springtools/stsclient/codelens"
	"github.com/springtools/stsclient/highlight"
	"github.com/springtools/stsclient/progress"
	"github.com/springtools/stsclient/selector"
	"github.com/springtools/stsclient/settings"
)

const serverName = "stsclient"

// Deps are the services the tools read from and write to.
type Deps struct {
	Progress   *progress.Service
	Highlights *highlight.Service
	CodeLenses *codelens.Registry
	Settings   *settings.Store
	Selector   selector.DocumentSelector
}

type Server struct {
	deps Deps
	mcp  *server.MCPServer
}

func NewServer(version string, deps Deps) *Server {
	s := &Server{deps: deps}
	s.mcp = server.NewMCPServer(serverName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.registerTools()
	return s
}

// Run serves MCP over stdin/stdout until ctx is done or stdin closes.
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve serves MCP over the given streams.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	slog.Info("MCP server started", "tools", len(toolNames))
	stdio := server.NewStdioServer(s.mcp)
	return stdio.Listen(ctx, in, out)
}
