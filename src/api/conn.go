package api

import (
	"time"

	"github.com/fasthttp/websocket"
)

// wsConn adapts fasthttp/websocket.Conn to types.Conn, applying read
// limits, deadlines and the pong handler in one place.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	readTimeout  time.Duration
}

func newWSConn(conn *websocket.Conn, maxMessageBytes int64, readTimeout, writeTimeout time.Duration) *wsConn {
	conn.SetReadLimit(maxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	return &wsConn{conn: conn, writeTimeout: writeTimeout, readTimeout: readTimeout}
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, raw, err := w.conn.ReadMessage()
	return raw, err
}

func (w *wsConn) WriteJSON(v any) error {
	w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	return w.conn.WriteJSON(v)
}

func (w *wsConn) WriteClose(code int, reason string) error {
	deadline := time.Now().Add(w.writeTimeout)
	return w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
}

func (w *wsConn) Ping() error {
	w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

func (w *wsConn) Close() error { return w.conn.Close() }
