package ws

import (
	"context"

	"github.com/sourcegraph/jsonrpc2"
	"go.lsp.dev/protocol"

	"github.com/springtools/stsclient/rpc"
)

// handleHighlightSubscribe subscribes to one document, or to every document
// when params are omitted or the uri is empty.
func (h *rpcMethodHandler) handleHighlightSubscribe(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.HighlightSubscribeParams
	if req.Params != nil {
		if err := unmarshalParams(req, &params); err != nil {
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
			return
		}
	}

	id, current := h.highlightWatcher.Subscribe(protocol.DocumentURI(params.URI), h.state.getNotifier())
	h.state.trackSubscription(id, h.highlightWatcher)
	h.log.Debug("subscribed to highlights", "watchId", id, "uri", params.URI)

	result := rpc.HighlightSubscribeResult{
		ID:        id,
		Highlight: current,
	}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send highlight subscribe response", "error", err)
	}
}
