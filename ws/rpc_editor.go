package ws

import (
	"context"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/springtools/stsclient/rpc"
)

// handleEditorSubscribe registers the connection as an editor: file URIs
// opened through sts.open.url are sent to it as editor.open notifications.
func (h *rpcMethodHandler) handleEditorSubscribe(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	id := h.deps.Editors.Subscribe(h.state.getNotifier())
	h.state.trackSubscription(id, h.deps.Editors)
	h.log.Debug("subscribed as editor", "watchId", id)

	if err := conn.Reply(ctx, req.ID, rpc.SubscribeResult{ID: id}); err != nil {
		h.log.Error("failed to send editor subscribe response", "error", err)
	}
}
