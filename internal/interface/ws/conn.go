package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

// writeWait is the deadline for a single outbound frame. A peer that
// cannot drain a frame in this window is as good as gone; the write error
// feeds the normal eviction path.
const writeWait = 10 * time.Second

// wsConn adapts a gorilla connection to the presence core's Conn
// interface. All calls arrive serialized through the session's write lock.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) WriteText(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *wsConn) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return c.conn.Close()
}

func (c *wsConn) Terminate() error {
	return c.conn.Close()
}
