package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.lsp.dev/protocol"

	"github.com/springtools/stsclient/selector"
	"github.com/springtools/stsclient/settings"
)

var toolNames = []string{
	"progress_list",
	"highlights_get",
	"codelens_list",
	"settings_get",
	"settings_update",
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("progress_list",
		mcp.WithDescription("List the long-running language server tasks (indexing, build) that are still in progress."),
	), s.handleProgressList)

	s.mcp.AddTool(mcp.NewTool("highlights_get",
		mcp.WithDescription("Get the latest highlights the language server reported for a document, including the document version they belong to."),
		mcp.WithString("uri", mcp.Required(), mcp.Description("Document URI, e.g. file:///path/to/Controller.java")),
	), s.handleHighlightsGet)

	s.mcp.AddTool(mcp.NewTool("codelens_list",
		mcp.WithDescription("List the code lenses shown for a document."),
		mcp.WithString("uri", mcp.Required(), mcp.Description("Document URI")),
		mcp.WithString("language_id", mcp.Description("Language id of the document. Derived from the file name when omitted.")),
	), s.handleCodeLensList)

	s.mcp.AddTool(mcp.NewTool("settings_get",
		mcp.WithDescription("Get the current highlight preferences."),
	), s.handleSettingsGet)

	s.mcp.AddTool(mcp.NewTool("settings_update",
		mcp.WithDescription("Update highlight preferences. Omitted fields keep their current value."),
		mcp.WithBoolean("highlights", mcp.Description("Show highlights ("+string(settings.KeyHighlights)+")")),
		mcp.WithBoolean("highlight_codelens", mcp.Description("Show highlights as code lenses ("+string(settings.KeyHighlightCodeLens)+")")),
	), s.handleSettingsUpdate)
}

type taskView struct {
	ID        string `json:"id"`
	StatusMsg string `json:"status_msg"`
	StartedAt string `json:"started_at"`
	UpdatedAt string `json:"updated_at"`
}

func (s *Server) handleProgressList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks := s.deps.Progress.Tasks()
	out := make([]taskView, len(tasks))
	for i, t := range tasks {
		out[i] = taskView{
			ID:        t.ID,
			StatusMsg: t.StatusMsg,
			StartedAt: t.StartedAt.Format(time.RFC3339),
			UpdatedAt: t.UpdatedAt.Format(time.RFC3339),
		}
	}
	return jsonResult(out)
}

func (s *Server) handleHighlightsGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, err := req.RequireString("uri")
	if err != nil || uri == "" {
		return ValidationError("uri is required"), nil
	}

	h, ok := s.deps.Highlights.Get(protocol.DocumentURI(uri))
	if !ok {
		return NotFound("highlight", "uri", uri), nil
	}
	return jsonResult(h)
}

func (s *Server) handleCodeLensList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, err := req.RequireString("uri")
	if err != nil || uri == "" {
		return ValidationError("uri is required"), nil
	}

	languageID := req.GetString("language_id", "")
	if languageID == "" {
		languageID = selector.LanguageOf(uri)
	}
	if !s.deps.Selector.Matches(languageID, uri) {
		return jsonResult([]protocol.CodeLens{})
	}
	if s.deps.CodeLenses.Count(languageID) == 0 {
		return Unavailable("no code lens provider registered (language server disconnected or highlight code lenses turned off)",
			map[string]any{"language_id": languageID}), nil
	}

	lenses, err := s.deps.CodeLenses.Provide(ctx, languageID, protocol.DocumentURI(uri))
	if err != nil && len(lenses) == 0 {
		return InternalError(err), nil
	}
	if lenses == nil {
		lenses = []protocol.CodeLens{}
	}
	return jsonResult(lenses)
}

func (s *Server) handleSettingsGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.deps.Settings.Get())
}

func (s *Server) handleSettingsUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	next := s.deps.Settings.Get()

	for key, dst := range map[string]*bool{
		"highlights":         &next.Highlights,
		"highlight_codelens": &next.HighlightCodeLens,
	} {
		raw, ok := args[key]
		if !ok {
			continue
		}
		v, ok := raw.(bool)
		if !ok {
			return ValidationError(key + " must be a boolean"), nil
		}
		*dst = v
	}

	if err := s.deps.Settings.Update(next); err != nil {
		return InternalError(err), nil
	}
	return jsonResult(next)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}
