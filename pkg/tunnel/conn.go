package tunnel

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConn wraps a WebSocket connection to implement net.Conn.
// RFB clients expect a byte stream; websockify-style console proxies carry
// that stream in binary messages.
type WebSocketConn struct {
	conn       *websocket.Conn
	readBuffer []byte

	writeMu sync.Mutex

	doneOnce sync.Once
	done     chan struct{}
	errMu    sync.Mutex
	err      error
}

// NewWebSocketConn creates a new WebSocket to net.Conn adapter.
func NewWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{
		conn: conn,
		done: make(chan struct{}),
	}
}

// Read reads data from the WebSocket connection.
// WebSocket messages that are larger than the provided buffer are buffered internally.
func (w *WebSocketConn) Read(b []byte) (int, error) {
	if len(w.readBuffer) > 0 {
		n := copy(b, w.readBuffer)
		w.readBuffer = w.readBuffer[n:]
		return n, nil
	}

	for {
		msgType, msg, err := w.conn.ReadMessage()
		if err != nil {
			w.finish(err)
			return 0, err
		}
		if msgType != websocket.BinaryMessage || len(msg) == 0 {
			continue
		}

		n := copy(b, msg)
		if n < len(msg) {
			w.readBuffer = msg[n:]
		}
		return n, nil
	}
}

// Write writes data to the WebSocket connection as a binary message.
func (w *WebSocketConn) Write(b []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		w.finish(err)
		return 0, err
	}
	return len(b), nil
}

// Close sends a close frame and closes the underlying connection.
func (w *WebSocketConn) Close() error {
	w.writeMu.Lock()
	_ = w.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	w.writeMu.Unlock()

	w.finish(net.ErrClosed)
	return w.conn.Close()
}

// Done is closed once the connection has failed or been closed.
func (w *WebSocketConn) Done() <-chan struct{} {
	return w.done
}

// Err returns the error that ended the connection, if any.
func (w *WebSocketConn) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

func (w *WebSocketConn) finish(err error) {
	w.doneOnce.Do(func() {
		w.errMu.Lock()
		w.err = err
		w.errMu.Unlock()
		close(w.done)
	})
}

func (w *WebSocketConn) LocalAddr() net.Addr {
	return w.conn.LocalAddr()
}

func (w *WebSocketConn) RemoteAddr() net.Addr {
	return w.conn.RemoteAddr()
}

func (w *WebSocketConn) SetDeadline(t time.Time) error {
	if err := w.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return w.conn.SetWriteDeadline(t)
}

func (w *WebSocketConn) SetReadDeadline(t time.Time) error {
	return w.conn.SetReadDeadline(t)
}

func (w *WebSocketConn) SetWriteDeadline(t time.Time) error {
	return w.conn.SetWriteDeadline(t)
}

var _ net.Conn = (*WebSocketConn)(nil)
