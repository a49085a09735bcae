package ws

import (
	"context"
	"errors"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/springtools/stsclient/command"
	"github.com/springtools/stsclient/rpc"
)

func (h *rpcMethodHandler) handleCommandList(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if err := conn.Reply(ctx, req.ID, h.deps.Commands.IDs()); err != nil {
		h.log.Error("failed to send command list response", "error", err)
	}
}

func (h *rpcMethodHandler) handleCommandExecute(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.CommandExecuteParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	result, err := h.deps.Commands.Execute(ctx, params.Command, params.Arguments)
	if err != nil {
		code := int64(jsonrpc2.CodeInternalError)
		if errors.Is(err, command.ErrNotFound) || errors.Is(err, command.ErrInvalidArgument) {
			code = jsonrpc2.CodeInvalidParams
		}
		h.log.Warn("command failed", "command", params.Command, "error", err)
		h.replyError(ctx, conn, req.ID, code, err.Error())
		return
	}

	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send command response", "error", err)
	}
}
