package lsclient

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/coder/websocket"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/springtools/stsclient/process"
	"github.com/springtools/stsclient/wsstream"
)

// Transport opens a raw object stream to a language server. The returned
// release func runs after the session on top of the stream is closed.
type Transport interface {
	Open(ctx context.Context) (stream jsonrpc2.ObjectStream, release func() error, err error)
	String() string
}

// StdioTransport spawns the server and speaks LSP base protocol over its
// standard input and output.
type StdioTransport struct {
	Name    string
	Options process.Options
}

func (t *StdioTransport) Open(ctx context.Context) (jsonrpc2.ObjectStream, func() error, error) {
	p, err := process.Start(ctx, t.Name, t.Options)
	if err != nil {
		return nil, nil, err
	}
	stream := jsonrpc2.NewBufferedStream(p.Conn(), jsonrpc2.VSCodeObjectCodec{})
	return stream, p.Stop, nil
}

func (t *StdioTransport) String() string {
	return "stdio:" + t.Options.Command
}

// TCPTransport connects to a server already listening on Addr.
type TCPTransport struct {
	Addr        string
	DialTimeout time.Duration
}

func (t *TCPTransport) Open(ctx context.Context) (jsonrpc2.ObjectStream, func() error, error) {
	d := net.Dialer{Timeout: t.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", t.Addr, err)
	}
	return jsonrpc2.NewBufferedStream(conn, jsonrpc2.VSCodeObjectCodec{}), nil, nil
}

func (t *TCPTransport) String() string {
	return "tcp:" + t.Addr
}

// WebSocketTransport connects to a server that carries one JSON-RPC
// message per WebSocket text frame.
type WebSocketTransport struct {
	URL string
}

func (t *WebSocketTransport) Open(ctx context.Context) (jsonrpc2.ObjectStream, func() error, error) {
	conn, _, err := websocket.Dial(ctx, t.URL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}
	conn.SetReadLimit(-1)
	return wsstream.New(conn), nil, nil
}

func (t *WebSocketTransport) String() string {
	return t.URL
}

// StreamTransport hands out a stream that already exists. It can be opened
// once.
type StreamTransport struct {
	Stream jsonrpc2.ObjectStream
}

func (t *StreamTransport) Open(ctx context.Context) (jsonrpc2.ObjectStream, func() error, error) {
	if t.Stream == nil {
		return nil, nil, fmt.Errorf("stream transport: %w", ErrTransportUsed)
	}
	s := t.Stream
	t.Stream = nil
	return s, nil, nil
}

func (t *StreamTransport) String() string { return "stream" }
