package tunnel

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestServer(t *testing.T, handler func(conn *websocket.Conn)) *WebSocketConn {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	c := NewWebSocketConn(conn)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestWebSocketConnBuffersLargeMessages(t *testing.T) {
	c := dialTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("ignored"))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte("RFB 003.008\n"))
		_, _, _ = conn.ReadMessage()
	})

	buf := make([]byte, 4)
	var got []byte
	for len(got) < 12 {
		n, err := c.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, "RFB 003.008\n", string(got))
}

func TestWebSocketConnWrite(t *testing.T) {
	received := make(chan []byte, 1)
	c := dialTestServer(t, func(conn *websocket.Conn) {
		msgType, msg, err := conn.ReadMessage()
		if err == nil && msgType == websocket.BinaryMessage {
			received <- msg
		}
	})

	n, err := c.Write([]byte{4, 1, 0, 0, 0, 0, 0xff, 0xe3})
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	select {
	case msg := <-received:
		assert.Equal(t, []byte{4, 1, 0, 0, 0, 0, 0xff, 0xe3}, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the message")
	}
}

func TestWebSocketConnDoneOnRemoteClose(t *testing.T) {
	c := dialTestServer(t, func(conn *websocket.Conn) {})

	_, err := io.ReadAll(c)
	assert.Error(t, err)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done was not closed after the peer went away")
	}
	assert.Error(t, c.Err())
}
