package server

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/jklatt/parlor/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is one live WebSocket connection. Its identity fields (token,
// userID) are bound by the router on the first authenticated frame and
// only ever written from the connection's own read goroutine; the
// outbound side is a buffered queue drained by the write goroutine.
type Client struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	limit  *rate.Limiter
	remote string

	// Bound on the first authenticated frame.
	bound  bool
	token  string // login token
	stoken string // most recently issued session token
	userID string
}

// newClient wraps an accepted WebSocket connection.
func newClient(s *Server, conn *websocket.Conn, remote string) *Client {
	if conn != nil {
		conn.SetReadLimit(protocol.MaxFrameSize)
	}
	return &Client{
		server: s,
		conn:   conn,
		send:   make(chan []byte, s.cfg.SendBuffer),
		limit:  rate.NewLimiter(rate.Limit(s.cfg.FrameRate), s.cfg.FrameBurst),
		remote: remote,
	}
}

// trySend offers data to the outbound queue without blocking. A full
// queue drops this one delivery; the connection's keepalive handling
// will eventually reap a genuinely dead peer.
func (c *Client) trySend(data []byte) bool {
	defer func() {
		// The send channel closes during teardown; a racing publish
		// must not take the hub down with it.
		_ = recover()
	}()
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// sendEvent serializes and queues one event for this connection only.
func (c *Client) sendEvent(ev *protocol.Event) {
	data, err := ev.Marshal()
	if err != nil {
		slog.Error("event marshal failed", "remote", c.remote, "err", err)
		return
	}
	if !c.trySend(data) {
		c.server.metrics.EventsUndelivered.Add(1)
	}
}

// readPump reads frames until the connection drops, feeding each one to
// the router. Frames from one connection are strictly sequential.
func (c *Client) readPump() {
	defer c.server.disconnect(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("read error", "remote", c.remote, "err", err)
			}
			return
		}
		if !c.limit.Allow() {
			c.server.metrics.FramesDropped.Add(1)
			continue
		}
		c.server.handleFrame(c, raw)
	}
}

// writePump drains the outbound queue and keeps the connection alive
// with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
