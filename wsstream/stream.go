// Package wsstream adapts coder/websocket connections to jsonrpc2.ObjectStream.
package wsstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sourcegraph/jsonrpc2"
)

// DefaultWriteTimeout bounds a single message write.
const DefaultWriteTimeout = 10 * time.Second

// Stream carries one JSON-RPC object per WebSocket message.
type Stream struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex // protects writes
}

var _ jsonrpc2.ObjectStream = (*Stream)(nil)

func New(conn *websocket.Conn) *Stream {
	return &Stream{conn: conn, writeTimeout: DefaultWriteTimeout}
}

// SetWriteTimeout changes the write bound. Zero disables it.
func (s *Stream) SetWriteTimeout(d time.Duration) {
	s.mu.Lock()
	s.writeTimeout = d
	s.mu.Unlock()
}

func (s *Stream) ReadObject(v interface{}) error {
	typ, data, err := s.conn.Read(context.Background())
	if err != nil {
		// Treat normal close frames as EOF so jsonrpc2 shuts down gracefully
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return io.EOF
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid %s message: %w", typ, err)
	}
	return nil
}

func (s *Stream) WriteObject(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	if s.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.writeTimeout)
		defer cancel()
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *Stream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
