// Package server manages individual WebSocket connections, handling read and
// write pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Connection is one live bidirectional channel between a client and the
// server. It starts pending, becomes active once the gatekeeper admits it
// into the registry, and is closed on disconnect or idle reclamation.
type Connection struct {
	id        string
	userID    string
	addr      string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	createdAt time.Time

	lastActive atomic.Int64 // unix nanoseconds

	sendMu sync.RWMutex
	closed bool

	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
}

// newConnection wraps an upgraded WebSocket connection. The connection is
// pending until Admit registers it under a user identity.
func newConnection(ws *websocket.Conn, hub *Hub, addr string) *Connection {
	cfg := hub.cfg
	if ws != nil {
		ws.SetReadLimit(cfg.MaxMessageSize)
	}

	c := &Connection{
		id:             uuid.NewString(),
		addr:           addr,
		conn:           ws,
		send:           make(chan []byte, 256),
		hub:            hub,
		createdAt:      time.Now(),
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
	}
	c.touch()
	return c
}

// ID returns the opaque connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// UserID returns the identity the connection was admitted under, or the empty
// string while the handshake is still pending.
func (c *Connection) UserID() string {
	return c.userID
}

// RemoteAddr returns the originating network address.
func (c *Connection) RemoteAddr() string {
	return c.addr
}

// LastActive returns the time of the connection's most recent activity.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *Connection) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// trySend queues a payload for the write pump without blocking. It reports
// false when the connection is closed or its buffer is full; callers treat
// that as a per-connection delivery failure.
func (c *Connection) trySend(payload []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// markClosed transitions the connection to closed and releases the write
// pump. It reports whether this call performed the transition, making
// duplicate close paths harmless.
func (c *Connection) markClosed() bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}

// setupReadConnection configures read deadlines and keepalive handlers for
// the WebSocket connection. Ping and pong traffic counts as activity: the
// idle sweep exists to reclaim half-open links, and those stop answering
// keepalives. A quiet but responsive client stays registered.
func (c *Connection) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Error().Err(err).Str("addr", c.addr).Msg("Error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Error().Err(err).Str("addr", c.addr).Msg("Error setting read deadline in pong handler")
		}
		return nil
	})
	c.conn.SetPingHandler(func(appData string) error {
		c.touch()
		err := c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err != nil && err != websocket.ErrCloseSent && !isExpectedCloseError(err) {
			return err
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break
func (c *Connection) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		log.Warn().Str("addr", c.addr).Int64("max_bytes", c.maxMessageSize).
			Msg("Message exceeded maximum size")
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		log.Debug().Err(err).Str("addr", c.addr).Msg("Client disconnected")
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		log.Debug().Err(err).Str("addr", c.addr).Msg("Client connection closed")
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		log.Warn().Err(err).Str("addr", c.addr).Msg("Unexpected WebSocket error")
		return true
	}

	log.Warn().Err(err).Str("addr", c.addr).Msg("WebSocket read error")
	return true
}

// checkRateLimit verifies if the connection has exceeded rate limits
// and returns true if the event should be processed
func (c *Connection) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		log.Warn().Str("addr", c.addr).Int("burst", c.rateLimit.Burst).
			Dur("interval", c.rateLimit.RefillInterval).
			Msg("Rate limit exceeded; discarding event")
		return false
	}
	return true
}

func (c *Connection) readPump() {
	defer func() {
		c.hub.drop(c)
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				log.Error().Err(err).Msg("Error closing connection in readPump")
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
		}

		if !c.checkRateLimit() {
			continue
		}

		c.hub.handleClientEvent(c, raw)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Connection) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case payload, ok := <-c.send:
		return c.handleOutgoing(payload, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Connection) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			log.Error().Err(err).Str("addr", c.addr).Msg("Error closing connection in writePump")
		}
	}
}

// handleOutgoing writes a queued payload and returns false if the connection
// should be closed
func (c *Connection) handleOutgoing(payload []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Error().Err(err).Str("addr", c.addr).Msg("Error setting write deadline")
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(payload)
}

// writeCloseMessage sends a close message to the client
func (c *Connection) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			log.Error().Err(err).Str("addr", c.addr).Msg("Error writing close message")
		}
	}
	return false
}

// writeTextMessage writes a payload and any queued payloads in one frame batch
func (c *Connection) writeTextMessage(payload []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		log.Error().Err(err).Str("addr", c.addr).Msg("Error creating writer")
		return false
	}

	if _, err := w.Write(payload); err != nil {
		log.Error().Err(err).Str("addr", c.addr).Msg("Error writing payload")
		return false
	}

	if !c.writeQueuedPayloads(w) {
		return false
	}

	if err := w.Close(); err != nil {
		log.Error().Err(err).Str("addr", c.addr).Msg("Error closing writer")
		return false
	}
	return true
}

// writeQueuedPayloads drains payloads already sitting in the send buffer
func (c *Connection) writeQueuedPayloads(w io.WriteCloser) bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			log.Error().Err(err).Str("addr", c.addr).Msg("Error writing separator")
			return false
		}
		if _, err := w.Write(<-c.send); err != nil {
			log.Error().Err(err).Str("addr", c.addr).Msg("Error writing queued payload")
			return false
		}
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Connection) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Error().Err(err).Str("addr", c.addr).Msg("Error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			log.Error().Err(err).Str("addr", c.addr).Msg("Error writing ping message")
		}
		return false
	}
	return true
}
