package hub

import (
	"context"

	"github.com/coder/websocket"
)

// WSConn adapts a coder/websocket connection to the [Conn] interface.
// Frames are sent as text; the websocket library serialises concurrent
// writers internally.
type WSConn struct {
	conn *websocket.Conn
}

var _ Conn = (*WSConn)(nil)

// NewWSConn wraps an accepted websocket connection.
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// Send writes one text frame, honouring ctx cancellation and deadline.
func (w *WSConn) Send(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

// Close closes the underlying websocket with the given status.
func (w *WSConn) Close(code websocket.StatusCode, reason string) error {
	return w.conn.Close(code, reason)
}
