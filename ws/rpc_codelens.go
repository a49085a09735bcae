package ws

import (
	"context"

	"github.com/sourcegraph/jsonrpc2"
	"go.lsp.dev/protocol"

	"github.com/springtools/stsclient/rpc"
	"github.com/springtools/stsclient/selector"
)

func (h *rpcMethodHandler) handleCodeLensProvide(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.CodeLensProvideParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}
	if params.URI == "" {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "uri is required")
		return
	}

	languageID := params.LanguageID
	if languageID == "" {
		languageID = selector.LanguageOf(params.URI)
	}

	result := rpc.CodeLensProvideResult{CodeLenses: []protocol.CodeLens{}}
	if h.deps.Selector.Matches(languageID, params.URI) {
		lenses, err := h.deps.CodeLenses.Provide(ctx, languageID, protocol.DocumentURI(params.URI))
		if err != nil {
			// Lenses from healthy providers are still returned.
			h.log.Warn("code lens provider failed", "uri", params.URI, "error", err)
		}
		if len(lenses) > 0 {
			result.CodeLenses = lenses
		}
	}

	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send codelens response", "error", err)
	}
}
