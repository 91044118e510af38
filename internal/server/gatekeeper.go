// Package server implements the admission handshake that turns a pending
// transport link into a registered connection.
package server

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// handshakeWait bounds how long a freshly upgraded connection may take to
// send its identify event.
const handshakeWait = 10 * time.Second

// ErrMissingIdentity is returned when a handshake arrives without an
// authenticated identity.
var ErrMissingIdentity = errors.New("missing-identity")

// Gatekeeper validates connecting identities and registers accepted
// connections. When a user is already at the connection cap the newcomer is
// rejected rather than silently evicting an older connection, so the evicted
// client never has its expectations broken.
type Gatekeeper struct {
	registry *Registry
	presence *Presence
}

// NewGatekeeper creates a gatekeeper operating on the given registry and
// presence broadcaster.
func NewGatekeeper(registry *Registry, presence *Presence) *Gatekeeper {
	return &Gatekeeper{registry: registry, presence: presence}
}

// Admit registers conn under identity. It returns ErrMissingIdentity for an
// empty identity and ErrConnectionLimit when the user is at the cap; on
// either error the connection never becomes active. A presence broadcast is
// triggered only when this is the identity's first connection; the returned
// boolean reports that offline-to-online transition.
func (g *Gatekeeper) Admit(identity string, conn *Connection) (bool, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return false, ErrMissingIdentity
	}

	conn.userID = identity
	first, err := g.registry.Add(identity, conn)
	if err != nil {
		return false, err
	}

	if first {
		g.presence.Broadcast()
	}
	return first, nil
}

// Handshake drives the admission protocol for an upgraded WebSocket link:
// await the identify event, validate it against the authenticated principal,
// and register the connection. On rejection the socket is closed with a
// policy close frame before any event exchange.
func (h *Hub) Handshake(principal string, ws *websocket.Conn, addr string) {
	conn := newConnection(ws, h, addr)

	identity, err := awaitIdentify(ws, principal)
	if err == nil {
		err = h.admit(identity, conn)
	}
	if err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("Handshake rejected")
		rejectHandshake(ws, closeReason(err))
		return
	}

	conn.touch()
}

// awaitIdentify reads the first client frame, which must be an identify event
// naming the same identity the session token was issued for. An identity that
// does not correspond to the authenticated principal is treated as absent.
func awaitIdentify(ws *websocket.Conn, principal string) (string, error) {
	if err := ws.SetReadDeadline(time.Now().Add(handshakeWait)); err != nil {
		return "", ErrMissingIdentity
	}

	_, raw, err := ws.ReadMessage()
	if err != nil {
		return "", ErrMissingIdentity
	}

	var evt clientEvent
	if err := json.Unmarshal(raw, &evt); err != nil || evt.Type != EventIdentify {
		return "", ErrMissingIdentity
	}

	identity := strings.TrimSpace(evt.UserID)
	if identity == "" || identity != principal {
		return "", ErrMissingIdentity
	}
	return identity, nil
}

func closeReason(err error) string {
	switch {
	case errors.Is(err, ErrConnectionLimit):
		return "connection-limit-exceeded"
	default:
		return "missing-identity"
	}
}

func rejectHandshake(ws *websocket.Conn, reason string) {
	deadline := time.Now().Add(writeWait)
	frame := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	if err := ws.WriteControl(websocket.CloseMessage, frame, deadline); err != nil && !isExpectedCloseError(err) {
		log.Debug().Err(err).Msg("Error writing rejection close frame")
	}
	if err := ws.Close(); err != nil && !isExpectedCloseError(err) {
		log.Debug().Err(err).Msg("Error closing rejected connection")
	}
}
