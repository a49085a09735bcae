package ws

import (
	"context"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/springtools/stsclient/watch"
)

// JSONRPCNotifier pushes watcher notifications to one UI connection.
type JSONRPCNotifier struct {
	conn *jsonrpc2.Conn
}

var _ watch.Notifier = (*JSONRPCNotifier)(nil)

func NewJSONRPCNotifier(conn *jsonrpc2.Conn) *JSONRPCNotifier {
	return &JSONRPCNotifier{conn: conn}
}

// Notify fails fast once the connection is gone so watchers do not queue
// writes for clients that left.
func (n *JSONRPCNotifier) Notify(ctx context.Context, notif watch.Notification) error {
	select {
	case <-n.conn.DisconnectNotify():
		return jsonrpc2.ErrClosed
	default:
	}
	return n.conn.Notify(ctx, notif.Method, notif.Params)
}
