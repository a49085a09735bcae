package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.lsp.dev/protocol"

	"github.com/springtools/stsclient/codelens"
	"github.com/springtools/stsclient/highlight"
	"github.com/springtools/stsclient/progress"
	"github.com/springtools/stsclient/rpc"
	"github.com/springtools/stsclient/selector"
	"github.com/springtools/stsclient/settings"
)

type testServer struct {
	*Server
	deps Deps
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	store, err := settings.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	deps := Deps{
		Progress:   progress.NewService(slog.Default()),
		Highlights: highlight.NewService(slog.Default()),
		CodeLenses: codelens.NewRegistry(),
		Settings:   store,
		Selector:   selector.Default(),
	}
	return testServer{Server: NewServer("1.2.3", deps), deps: deps}
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolCallResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

// callMethod sends a JSON-RPC request and returns the parsed response.
func callMethod(t *testing.T, s *Server, method string, params any) rpcResponse {
	t.Helper()
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		req["params"] = params
	}
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}

	msg := s.mcp.HandleMessage(context.Background(), raw)
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	var resp rpcResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, b)
	}
	return resp
}

// callTool sends a tools/call request and returns the parsed tool result.
func callTool(t *testing.T, s *Server, name string, args any) toolCallResult {
	t.Helper()
	resp := callMethod(t, s, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected RPC error: %+v", resp.Error)
	}
	var result toolCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal tool result: %v", err)
	}
	return result
}

func toolText(r toolCallResult) string {
	if len(r.Content) == 0 {
		return ""
	}
	return r.Content[0].Text
}

func toolErrorCode(t *testing.T, r toolCallResult) ErrorCode {
	t.Helper()
	if !r.IsError {
		t.Fatalf("expected tool error, got %s", toolText(r))
	}
	var te ToolError
	if err := json.Unmarshal([]byte(toolText(r)), &te); err != nil {
		t.Fatalf("unmarshal tool error: %v", err)
	}
	return te.Code
}

// --- Protocol tests ---

func TestInitialize(t *testing.T) {
	ts := newTestServer(t)
	resp := callMethod(t, ts.Server, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]string{"name": "test", "version": "0"},
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	var result struct {
		ServerInfo struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result.ServerInfo.Name != "stsclient" {
		t.Errorf("name = %q, want stsclient", result.ServerInfo.Name)
	}
	if result.ServerInfo.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", result.ServerInfo.Version)
	}
}

func TestToolsList(t *testing.T) {
	ts := newTestServer(t)
	resp := callMethod(t, ts.Server, "tools/list", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	var result struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}

	names := make(map[string]bool)
	for _, td := range result.Tools {
		names[td.Name] = true
	}
	for _, want := range toolNames {
		if !names[want] {
			t.Errorf("missing tool %q", want)
		}
	}
}

func TestUnknownTool(t *testing.T) {
	ts := newTestServer(t)
	resp := callMethod(t, ts.Server, "tools/call", map[string]any{
		"name":      "nonexistent_tool",
		"arguments": map[string]any{},
	})
	if resp.Error == nil {
		t.Fatal("expected RPC error for unknown tool")
	}
}

// --- Tool: progress_list ---

func TestProgressList(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	ts.deps.Progress.Handle(ctx, rpc.ProgressParams{ID: "index", StatusMsg: "Indexing 3/10"})
	ts.deps.Progress.Handle(ctx, rpc.ProgressParams{ID: "build", StatusMsg: "Building"})
	ts.deps.Progress.Handle(ctx, rpc.ProgressParams{ID: "build", StatusMsg: ""})

	result := callTool(t, ts.Server, "progress_list", map[string]any{})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(result))
	}

	var tasks []taskView
	if err := json.Unmarshal([]byte(toolText(result)), &tasks); err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks))
	}
	if tasks[0].ID != "index" || tasks[0].StatusMsg != "Indexing 3/10" {
		t.Errorf("task = %+v", tasks[0])
	}
}

// --- Tool: highlights_get ---

func TestHighlightsGet(t *testing.T) {
	ts := newTestServer(t)
	const uri = "file:///work/src/HelloController.java"

	ts.deps.Highlights.Handle(context.Background(), rpc.HighlightParams{
		Doc: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri},
			Version:                4,
		},
		CodeLenses: []protocol.CodeLens{{Command: &protocol.Command{Title: "@GetMapping /hello"}}},
	})

	result := callTool(t, ts.Server, "highlights_get", map[string]string{"uri": uri})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(result))
	}

	var got rpc.HighlightParams
	if err := json.Unmarshal([]byte(toolText(result)), &got); err != nil {
		t.Fatal(err)
	}
	if got.Doc.Version != 4 {
		t.Errorf("version = %d, want 4", got.Doc.Version)
	}
	if len(got.CodeLenses) != 1 {
		t.Errorf("got %d code lenses, want 1", len(got.CodeLenses))
	}
}

func TestHighlightsGet_NotFound(t *testing.T) {
	ts := newTestServer(t)
	result := callTool(t, ts.Server, "highlights_get", map[string]string{"uri": "file:///nope.java"})

	if code := toolErrorCode(t, result); code != ErrNotFound {
		t.Errorf("code = %q, want %q", code, ErrNotFound)
	}
}

func TestHighlightsGet_MissingURI(t *testing.T) {
	ts := newTestServer(t)
	result := callTool(t, ts.Server, "highlights_get", map[string]string{})

	if code := toolErrorCode(t, result); code != ErrValidation {
		t.Errorf("code = %q, want %q", code, ErrValidation)
	}
}

// --- Tool: codelens_list ---

func TestCodeLensList(t *testing.T) {
	ts := newTestServer(t)
	ts.deps.CodeLenses.Register(selector.LanguageJava, codelens.ProviderFunc(
		func(_ context.Context, uri protocol.DocumentURI) ([]protocol.CodeLens, error) {
			return []protocol.CodeLens{{Command: &protocol.Command{Title: "lens for " + string(uri)}}}, nil
		}))

	tests := []struct {
		name      string
		args      map[string]string
		wantCount int
	}{
		{"language from file name", map[string]string{"uri": "file:///w/A.java"}, 1},
		{"explicit language", map[string]string{"uri": "file:///w/A.java", "language_id": "java"}, 1},
		{"document outside selector", map[string]string{"uri": "file:///w/notes.txt"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := callTool(t, ts.Server, "codelens_list", tt.args)
			if result.IsError {
				t.Fatalf("unexpected error: %s", toolText(result))
			}
			var lenses []protocol.CodeLens
			if err := json.Unmarshal([]byte(toolText(result)), &lenses); err != nil {
				t.Fatal(err)
			}
			if len(lenses) != tt.wantCount {
				t.Errorf("got %d lenses, want %d", len(lenses), tt.wantCount)
			}
		})
	}
}

func TestCodeLensList_NoProvider(t *testing.T) {
	ts := newTestServer(t)
	result := callTool(t, ts.Server, "codelens_list", map[string]string{"uri": "file:///w/A.java"})

	if code := toolErrorCode(t, result); code != ErrUnavailable {
		t.Errorf("code = %q, want %q", code, ErrUnavailable)
	}
}

func TestCodeLensList_ProviderError(t *testing.T) {
	ts := newTestServer(t)
	ts.deps.CodeLenses.Register(selector.LanguageJava, codelens.ProviderFunc(
		func(context.Context, protocol.DocumentURI) ([]protocol.CodeLens, error) {
			return nil, errors.New("provider down")
		}))

	result := callTool(t, ts.Server, "codelens_list", map[string]string{"uri": "file:///w/A.java"})
	if code := toolErrorCode(t, result); code != ErrInternal {
		t.Errorf("code = %q, want %q", code, ErrInternal)
	}
	if !strings.Contains(toolText(result), "provider down") {
		t.Errorf("result = %q, want provider error", toolText(result))
	}
}

// --- Tool: settings_update ---

func TestSettingsUpdate(t *testing.T) {
	ts := newTestServer(t)

	var changed []settings.Key
	ts.deps.Settings.OnChange(func(c settings.Change) { changed = append(changed, c.Keys...) })

	result := callTool(t, ts.Server, "settings_update", map[string]any{"highlight_codelens": false})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(result))
	}

	got := ts.deps.Settings.Get()
	if !got.Highlights || got.HighlightCodeLens {
		t.Errorf("settings = %+v, want highlights on and codelens off", got)
	}
	if len(changed) != 1 || changed[0] != settings.KeyHighlightCodeLens {
		t.Errorf("changed keys = %v", changed)
	}

	result = callTool(t, ts.Server, "settings_get", map[string]any{})
	if !strings.Contains(toolText(result), `"boot-java.highlight-codelens.on": false`) {
		t.Errorf("settings_get = %s", toolText(result))
	}
}

func TestSettingsUpdate_InvalidType(t *testing.T) {
	ts := newTestServer(t)
	result := callTool(t, ts.Server, "settings_update", map[string]any{"highlights": "yes"})

	if code := toolErrorCode(t, result); code != ErrValidation {
		t.Errorf("code = %q, want %q", code, ErrValidation)
	}
	if !ts.deps.Settings.Get().Highlights {
		t.Error("settings changed on invalid input")
	}
}
