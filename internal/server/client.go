// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one live connection bound to a claimed name. The name is fixed
// at construction and never changes.
type Client struct {
	id             uuid.UUID
	name           string
	conn           *websocket.Conn
	send           chan Frame
	hub            *Hub
	addr           string
	clock          clockwork.Clock
	maxMessageSize int64
	limiter        *rate.Limiter
	rateLimit      RateLimitConfig
}

// NewClient creates a Client for conn bound to name. The outbound queue is
// bounded by the hub's SendQueueSize. conn may be nil when the client is
// driven directly through its send channel.
func NewClient(conn *websocket.Conn, hub *Hub, name, addr string) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		id:             uuid.New(),
		name:           name,
		conn:           conn,
		send:           make(chan Frame, cfg.SendQueueSize),
		hub:            hub,
		addr:           addr,
		clock:          hub.clock,
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
	}
}

// newRateLimiter builds a token bucket that refills the full burst once per
// RefillInterval. It returns nil when the burst is not positive.
func newRateLimiter(cfg RateLimitConfig) *rate.Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		return nil
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}
	return rate.NewLimiter(rate.Every(interval/time.Duration(burst)), burst)
}

// Name returns the display name the client is bound to.
func (c *Client) Name() string {
	return c.name
}

// ID returns the connection handle.
func (c *Client) ID() uuid.UUID {
	return c.id
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(c.clock.Now().Add(pongWait)); err != nil {
		slog.Warn("Error setting initial read deadline", "addr", c.addr, "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(c.clock.Now().Add(pongWait)); err != nil {
			slog.Warn("Error setting read deadline in pong handler", "addr", c.addr, "error", err)
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		slog.Warn("Message exceeded maximum size", "addr", c.addr, "name", c.name, "limit", c.maxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		slog.Info("Client disconnected", "addr", c.addr, "name", c.name, "reason", err)
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		slog.Info("Client connection closed", "addr", c.addr, "name", c.name, "reason", err)
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		slog.Warn("Unexpected WebSocket error", "addr", c.addr, "name", c.name, "error", err)
		return true
	}

	slog.Warn("WebSocket read error", "addr", c.addr, "name", c.name, "error", err)
	return true
}

// checkRateLimit reports whether the next inbound message may be relayed.
func (c *Client) checkRateLimit() bool {
	if c.limiter != nil && !c.limiter.AllowN(c.clock.Now(), 1) {
		slog.Warn("Rate limit exceeded; discarding message",
			"addr", c.addr, "name", c.name, "burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Remove(c)
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				slog.Warn("Error closing connection in readPump", "addr", c.addr, "error", err)
			}
		}
	}()

	c.setupReadConnection()

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if c.handleReadError(err) {
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		slog.Debug("Received message", "addr", c.addr, "name", c.name, "bytes", len(payload))
		c.hub.Relay(c, Frame{Type: messageType, Data: payload})
	}
}

// writePump owns all writes to the connection. It exits when the hub closes
// the queue or a write fails; the deferred close then ends the read pump,
// which removes the client.
func (c *Client) writePump() {
	ticker := c.clock.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker clockwork.Ticker) bool {
	select {
	case frame, ok := <-c.send:
		return c.handleFrame(frame, ok)
	case <-ticker.Chan():
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			slog.Warn("Error closing connection in writePump", "addr", c.addr, "error", err)
		}
	}
}

// handleFrame writes one outbound frame and returns false if the connection should be closed
func (c *Client) handleFrame(frame Frame, ok bool) bool {
	if err := c.conn.SetWriteDeadline(c.clock.Now().Add(writeWait)); err != nil {
		slog.Warn("Error setting write deadline", "addr", c.addr, "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(frame.Type, frame.Data); err != nil {
		if !isExpectedCloseError(err) {
			slog.Warn("Error writing message", "addr", c.addr, "name", c.name, "error", err)
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		if !isExpectedCloseError(err) {
			slog.Warn("Error writing close message", "addr", c.addr, "error", err)
		}
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(c.clock.Now().Add(writeWait)); err != nil {
		slog.Warn("Error setting write deadline for ping", "addr", c.addr, "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		slog.Warn("Error writing ping message", "addr", c.addr, "error", err)
		return false
	}
	return true
}
