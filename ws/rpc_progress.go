package ws

import (
	"context"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/springtools/stsclient/rpc"
)

func (h *rpcMethodHandler) handleProgressSubscribe(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	id, tasks := h.progressWatcher.Subscribe(h.state.getNotifier())
	h.state.trackSubscription(id, h.progressWatcher)
	h.log.Debug("subscribed to progress", "watchId", id, "tasks", len(tasks))

	if tasks == nil {
		tasks = []rpc.ProgressParams{}
	}
	result := rpc.ProgressSubscribeResult{
		ID:    id,
		Tasks: tasks,
	}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send progress subscribe response", "error", err)
	}
}
