package lsclient

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

type fakeServer struct {
	conn *jsonrpc2.Conn

	mu         sync.Mutex
	methods    []string
	initParams protocol.InitializeParams
}

func (f *fakeServer) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	f.mu.Lock()
	f.methods = append(f.methods, req.Method)
	if req.Method == protocol.MethodInitialize && req.Params != nil {
		json.Unmarshal(*req.Params, &f.initParams)
	}
	f.mu.Unlock()

	if req.Notif {
		return
	}
	switch req.Method {
	case protocol.MethodInitialize:
		conn.Reply(ctx, req.ID, protocol.InitializeResult{
			ServerInfo: &protocol.ServerInfo{Name: "fake-sts", Version: "4.0.0"},
		})
	default:
		conn.Reply(ctx, req.ID, nil)
	}
}

func (f *fakeServer) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.methods)
}

func newFakeServer(t *testing.T) (*fakeServer, jsonrpc2.ObjectStream) {
	t.Helper()
	client, server := net.Pipe()
	f := &fakeServer{}
	f.conn = jsonrpc2.NewConn(context.Background(), jsonrpc2.NewBufferedStream(server, jsonrpc2.VSCodeObjectCodec{}), f)
	t.Cleanup(func() { f.conn.Close() })
	return f, jsonrpc2.NewBufferedStream(client, jsonrpc2.VSCodeObjectCodec{})
}

func dialFake(t *testing.T) (*fakeServer, *Session) {
	t.Helper()
	f, stream := newFakeServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Dial(ctx, &StreamTransport{Stream: stream}, InitOptions{ClientName: "test"}, nil).Wait(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return f, s
}

type failingTransport struct{ err error }

func (t failingTransport) Open(context.Context) (jsonrpc2.ObjectStream, func() error, error) {
	return nil, nil, t.err
}

func (t failingTransport) String() string { return "failing" }

func TestDial_Handshake(t *testing.T) {
	f, stream := newFakeServer(t)
	root := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := Dial(ctx, &StreamTransport{Stream: stream}, InitOptions{
		ClientName:    "stsclient",
		ClientVersion: "dev",
		WorkspaceRoot: root,
	}, nil)
	s, err := h.Wait(ctx)
	require.NoError(t, err)
	defer s.Close()

	require.NotNil(t, s.ServerInfo())
	assert.Equal(t, "fake-sts", s.ServerInfo().Name)
	assert.NotEmpty(t, s.ID())

	require.Eventually(t, func() bool {
		return slices.Equal(f.seen(), []string{"initialize", "initialized"})
	}, time.Second, 10*time.Millisecond)

	f.mu.Lock()
	params := f.initParams
	f.mu.Unlock()
	assert.Equal(t, uri.File(root), params.RootURI)
	require.Len(t, params.WorkspaceFolders, 1)
	assert.Equal(t, "stsclient", params.ClientInfo.Name)
	assert.True(t, params.Capabilities.Workspace.Configuration)
}

func TestDial_OpenFailure(t *testing.T) {
	boom := errors.New("boom")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Dial(ctx, failingTransport{err: boom}, InitOptions{}, nil).Wait(ctx)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, boom)
}

func TestStreamTransport_OpensOnce(t *testing.T) {
	_, stream := newFakeServer(t)
	tr := &StreamTransport{Stream: stream}

	_, _, err := tr.Open(context.Background())
	require.NoError(t, err)
	_, _, err = tr.Open(context.Background())
	assert.ErrorIs(t, err, ErrTransportUsed)
}

func TestSession_NotificationsInOrder(t *testing.T) {
	f, s := dialFake(t)

	var mu sync.Mutex
	var got []int
	s.OnNotification("sts/progress", func(_ context.Context, params json.RawMessage) {
		var p struct{ N int }
		json.Unmarshal(params, &p)
		mu.Lock()
		got = append(got, p.N)
		mu.Unlock()
	})

	ctx := context.Background()
	require.NoError(t, f.conn.Notify(ctx, "unknown/notification", nil))
	for i := 1; i <= 5; i++ {
		require.NoError(t, f.conn.Notify(ctx, "sts/progress", map[string]int{"N": i}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
}

func TestSession_ListenerDispose(t *testing.T) {
	f, s := dialFake(t)

	var first, second atomic.Int32
	d := s.OnNotification("sts/highlight", func(context.Context, json.RawMessage) { first.Add(1) })
	s.OnNotification("sts/highlight", func(context.Context, json.RawMessage) { second.Add(1) })

	ctx := context.Background()
	require.NoError(t, f.conn.Notify(ctx, "sts/highlight", nil))
	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 10*time.Millisecond)

	d.Dispose()
	d.Dispose()
	require.NoError(t, f.conn.Notify(ctx, "sts/highlight", nil))
	require.Eventually(t, func() bool { return second.Load() == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), first.Load())
}

func TestSession_ServerRequests(t *testing.T) {
	f, _ := dialFake(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var config []any
	err := f.conn.Call(ctx, "workspace/configuration", map[string]any{
		"items": []map[string]string{{"section": "boot-java"}, {"section": "spring-boot"}},
	}, &config)
	require.NoError(t, err)
	assert.Equal(t, []any{nil, nil}, config)

	for _, method := range []string{
		"window/workDoneProgress/create",
		"client/registerCapability",
		"client/unregisterCapability",
	} {
		var result any
		require.NoError(t, f.conn.Call(ctx, method, map[string]any{}, &result), method)
		assert.Nil(t, result, method)
	}

	err = f.conn.Call(ctx, "workspace/applyEdit", map[string]any{}, nil)
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeMethodNotFound), rpcErr.Code)
}

func TestSession_CloseShutsDownServer(t *testing.T) {
	f, stream := newFakeServer(t)
	var released atomic.Int32
	tr := &releaseTransport{stream: stream, release: func() error {
		released.Add(1)
		return nil
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Dial(ctx, tr, InitOptions{}, nil).Wait(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	require.Eventually(t, func() bool {
		seen := f.seen()
		return slices.Contains(seen, "shutdown") && slices.Contains(seen, "exit")
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), released.Load())

	select {
	case <-s.DisconnectNotify():
	case <-time.After(time.Second):
		t.Fatal("session not disconnected after Close")
	}
}

type releaseTransport struct {
	stream  jsonrpc2.ObjectStream
	release func() error
}

func (t *releaseTransport) Open(context.Context) (jsonrpc2.ObjectStream, func() error, error) {
	return t.stream, t.release, nil
}

func (t *releaseTransport) String() string { return "release" }

func TestHandle_ResolvesOnce(t *testing.T) {
	h := NewHandle("test")

	s, err := h.Result()
	assert.Nil(t, s)
	assert.NoError(t, err)

	session := &Session{id: "a"}
	assert.True(t, h.Resolve(session))
	assert.False(t, h.Resolve(&Session{id: "b"}))
	assert.False(t, h.Fail(errors.New("late")))

	got, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Same(t, session, got)
}

func TestHandle_FailNil(t *testing.T) {
	h := NewHandle("test")
	assert.True(t, h.Fail(nil))

	_, err := h.Result()
	assert.ErrorIs(t, err, ErrHandleFailed)
}

func TestHandle_WaitCanceled(t *testing.T) {
	h := NewHandle("test")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type pipeTransport struct {
	t       *testing.T
	servers chan *fakeServer
}

func (p *pipeTransport) Open(context.Context) (jsonrpc2.ObjectStream, func() error, error) {
	f, stream := newFakeServer(p.t)
	p.servers <- f
	return stream, nil, nil
}

func (p *pipeTransport) String() string { return "pipe" }

func TestSupervisor_ReconnectsWithNewSession(t *testing.T) {
	tr := &pipeTransport{t: t, servers: make(chan *fakeServer, 4)}
	sup := &Supervisor{Transport: tr, MinBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	handles := make(chan *Handle, 4)
	done := make(chan error, 1)
	go func() {
		done <- sup.Run(ctx, func(h *Handle) { handles <- h })
	}()

	waitSession := func() *Session {
		t.Helper()
		select {
		case h := <-handles:
			wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer wcancel()
			s, err := h.Wait(wctx)
			require.NoError(t, err)
			return s
		case <-time.After(5 * time.Second):
			t.Fatal("no handle from supervisor")
			return nil
		}
	}

	first := waitSession()
	server := <-tr.servers
	server.conn.Close()

	second := waitSession()
	assert.NotEqual(t, first.ID(), second.ID())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}
