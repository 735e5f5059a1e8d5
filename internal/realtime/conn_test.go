// ABOUTME: Tests for the websocket Conn using an httptest server and the gorilla dialer
// ABOUTME: Covers push delivery, peer disconnect, slow-client drop, and origin checks

package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer upgrades each request and hands the Conn to the test. When
// serve is true the server goroutine runs Serve until the connection ends.
func startServer(t *testing.T, serve bool) (string, <-chan *Conn) {
	t.Helper()
	conns := make(chan *Conn, 1)
	upgrader := NewUpgrader(nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewConn(ws, nil)
		conns <- c
		if serve {
			c.Serve(context.Background())
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), conns
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func receive(t *testing.T, conns <-chan *Conn) *Conn {
	t.Helper()
	select {
	case c := <-conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the connection")
		return nil
	}
}

func TestConn_PushReachesClient(t *testing.T) {
	url, conns := startServer(t, true)
	client := dial(t, url)
	c := receive(t, conns)

	require.NotEmpty(t, c.ID())
	require.NoError(t, c.Send([]byte(`{"type":"new_message"}`)))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.JSONEq(t, `{"type":"new_message"}`, string(data))
}

func TestConn_PeerCloseEndsServe(t *testing.T) {
	url, conns := startServer(t, true)
	client := dial(t, url)
	c := receive(t, conns)

	_ = client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	_ = client.Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not close after peer disconnect")
	}
	assert.ErrorIs(t, c.Send([]byte("late")), ErrClosed)
}

func TestConn_SlowClientDropped(t *testing.T) {
	// Without Serve nothing drains the queue.
	url, conns := startServer(t, false)
	dial(t, url)
	c := receive(t, conns)

	for range SendBuffer {
		require.NoError(t, c.Send([]byte("x")))
	}
	assert.ErrorIs(t, c.Send([]byte("overflow")), ErrBufferFull)
	assert.ErrorIs(t, c.Send([]byte("after")), ErrClosed)
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	url, conns := startServer(t, false)
	dial(t, url)
	c := receive(t, conns)

	c.Close()
	c.Close()
	assert.ErrorIs(t, c.Send([]byte("x")), ErrClosed)
}

func TestUpgrader_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", []string{"https://app.example"}, "", true},
		{"empty allow list", nil, "https://evil.example", true},
		{"wildcard", []string{"*"}, "https://any.example", true},
		{"listed origin", []string{"https://app.example"}, "https://app.example", true},
		{"unlisted origin", []string{"https://app.example"}, "https://evil.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, NewUpgrader(tt.allowed).CheckOrigin(r))
		})
	}
}
