// ABOUTME: WebSocket connection wrapper with a buffered, non-blocking outbound queue
// ABOUTME: Serve runs the read (keepalive) and write (push + ping) loops until either side closes

package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// SendBuffer is how many pushes may be queued before a slow client is dropped.
	SendBuffer = 64
)

var (
	ErrClosed     = errors.New("connection closed")
	ErrBufferFull = errors.New("send buffer full")
)

// Conn is one live client connection. Send is safe for concurrent use.
type Conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger

	onClose func()
}

// NewConn wraps an upgraded websocket. Pass nil logger for default.
func NewConn(ws *websocket.Conn, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Conn{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, SendBuffer),
		done:   make(chan struct{}),
		logger: logger.With("component", "realtime", "conn_id", id),
	}
}

// ID returns the connection's unique id.
func (c *Conn) ID() string { return c.id }

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// OnClose registers fn to run after Serve returns. Must be set before Serve.
func (c *Conn) OnClose(fn func()) { c.onClose = fn }

// Send queues payload without blocking. A client whose queue is full is
// disconnected.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.logger.Warn("dropping slow client")
		c.closeWith(websocket.CloseTryAgainLater, "send buffer full")
		return ErrBufferFull
	}
}

// Close terminates the connection. Safe to call more than once.
func (c *Conn) Close() {
	c.closeWith(websocket.CloseGoingAway, "server closing")
}

func (c *Conn) closeWith(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		deadline := time.Now().Add(writeWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

// Serve runs the connection until the peer disconnects, a write fails, or ctx
// is cancelled. Inbound frames are read only to process control messages.
func (c *Conn) Serve(ctx context.Context) {
	go c.writeLoop()

	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	c.readLoop()
	c.Close()
	if c.onClose != nil {
		c.onClose()
	}
	c.logger.Debug("connection closed")
}

func (c *Conn) readLoop() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Conn) write(kind int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, payload)
}

// NewUpgrader returns an upgrader that accepts requests without an Origin
// header or from one of allowedOrigins. An empty list or "*" allows any origin.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
				return true
			}
			return slices.Contains(allowedOrigins, origin)
		},
	}
}
