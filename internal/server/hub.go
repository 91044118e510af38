// Package server coordinates connection admission, presence broadcast,
// message delivery, and idle reclamation for the chatwire realtime core via
// the Hub type.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Hub owns the connection registry and the components built on it. Unlike a
// process-wide ambient map, every Hub is an isolated instance with an
// explicit lifecycle, so tests construct their own.
//
// The registry is the single piece of shared mutable state: it is mutated by
// handshake acceptance, disconnects, and the idle sweep, and read by presence
// computation and delivery lookup. The design assumes a single-process
// registry; running multiple instances requires externalizing it.
type Hub struct {
	cfg        *Config
	registry   *Registry
	presence   *Presence
	gatekeeper *Gatekeeper
	router     *Router

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub with a fresh registry, wiring the gatekeeper, presence
// broadcaster, and delivery router. messages is the record-store slice used
// for message persistence.
func NewHub(cfg *Config, messages MessageStore) *Hub {
	if cfg == nil {
		cfg = NewConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())

	registry := NewRegistry(cfg.MaxConnectionsPerUser)
	presence := NewPresence(registry)

	return &Hub{
		cfg:        cfg,
		registry:   registry,
		presence:   presence,
		gatekeeper: NewGatekeeper(registry, presence),
		router:     NewRouter(registry, messages),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Registry exposes the hub's connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Router exposes the hub's delivery router, used by the HTTP send handler so
// REST sends fan out to live connections too.
func (h *Hub) Router() *Router {
	return h.router
}

// Run executes the hub's background loop, driving the idle sweep until
// Shutdown is called. It should be started in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownConnections()
			return
		case <-ticker.C:
			h.sweepIdle()
		}
	}
}

// sweepIdle reclaims connections whose last activity exceeded the idle
// timeout, forcibly closing their transports. Guards against transport-level
// disconnect events that never arrive.
func (h *Hub) sweepIdle() {
	cutoff := time.Now().Add(-h.cfg.IdleTimeout)
	reaped, offline := h.registry.ReapIdle(cutoff)
	if len(reaped) == 0 {
		return
	}

	for _, conn := range reaped {
		log.Info().Str("conn_id", conn.id).Str("user_id", conn.userID).
			Time("last_active", conn.LastActive()).
			Msg("Reclaiming idle connection")
		conn.markClosed()
		if conn.conn != nil {
			if err := conn.conn.Close(); err != nil && !isExpectedCloseError(err) {
				log.Error().Err(err).Str("conn_id", conn.id).Msg("Error closing idle connection")
			}
		}
	}

	if len(offline) > 0 {
		h.presence.Broadcast()
	}
}

// admit runs the gatekeeper for a pending connection and, on acceptance,
// starts its read/write pumps.
func (h *Hub) admit(identity string, conn *Connection) error {
	first, err := h.gatekeeper.Admit(identity, conn)
	if err != nil {
		return err
	}

	log.Info().Str("conn_id", conn.id).Str("user_id", conn.userID).
		Str("addr", conn.addr).Int("total", h.registry.Len()).
		Msg("Connection registered")

	// A first connection already saw the membership broadcast; additional
	// devices still need the current snapshot.
	if !first {
		conn.trySend(h.presence.snapshot())
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		conn.writePump()
	}()
	go func() {
		defer h.wg.Done()
		conn.readPump()
	}()

	return nil
}

// drop deregisters a connection. It is idempotent: duplicate disconnect
// events leave the registry unchanged. Presence is re-announced only when
// the owning user went fully offline.
func (h *Hub) drop(conn *Connection) {
	userID, wentOffline := h.registry.Remove(conn.id)
	if !conn.markClosed() && userID == "" {
		return
	}

	log.Info().Str("conn_id", conn.id).Str("user_id", conn.userID).
		Int("total", h.registry.Len()).
		Msg("Connection unregistered")

	if wentOffline && userID != "" {
		h.presence.Broadcast()
	}
}

// handleClientEvent processes one inbound event from a connection. Events on
// a single connection arrive in order through its read pump; failures are
// isolated to that connection.
func (h *Hub) handleClientEvent(conn *Connection, raw []byte) {
	var evt clientEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		log.Debug().Err(err).Str("addr", conn.addr).Msg("Invalid event payload")
		conn.trySend(marshalMessageError("invalid-event"))
		return
	}

	// Any well-formed event counts as activity and resets the idle clock.
	h.registry.Touch(conn.id)

	switch evt.Type {
	case EventIdentify:
		// Identity is fixed during the handshake; a repeated identify is
		// treated as activity only.
	case EventSendMessage:
		payload := MessagePayload{Text: evt.Text, AttachmentRef: evt.AttachmentRef}
		if _, err := h.router.Send(h.ctx, conn.userID, evt.RecipientID, payload, conn); err != nil {
			log.Warn().Err(err).Str("conn_id", conn.id).Msg("Send failed")
			conn.trySend(marshalMessageError(sendErrorReason(err)))
		}
	case EventTyping:
		frame := marshalTyping(conn.userID, evt.IsTyping)
		for _, peer := range h.registry.ConnectionsFor(evt.RecipientID) {
			peer.trySend(frame)
		}
	default:
		log.Debug().Str("type", evt.Type).Str("addr", conn.addr).Msg("Unknown event type")
	}
}

// sendErrorReason maps router errors onto wire-level reasons.
func sendErrorReason(err error) string {
	switch {
	case errors.Is(err, ErrPersistence):
		return "persistence-error"
	case errors.Is(err, ErrEmptyPayload):
		return "empty-payload"
	case errors.Is(err, ErrInvalidRecipient):
		return "invalid-recipient"
	default:
		return "send-failed"
	}
}

// shutdownConnections closes all active connections during hub shutdown.
func (h *Hub) shutdownConnections() {
	conns := h.registry.AllConnections()
	log.Info().Int("count", len(conns)).Msg("Shutting down all connections")

	for _, conn := range conns {
		h.registry.Remove(conn.id)
		conn.markClosed()
		if conn.conn != nil {
			if err := conn.conn.Close(); err != nil && !isExpectedCloseError(err) {
				log.Error().Err(err).Str("addr", conn.addr).Msg("Error closing connection")
			}
		}
	}
}

// Shutdown initiates graceful shutdown of the hub and waits for all pump
// goroutines to complete, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Info().Msg("Initiating hub shutdown")

	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		log.Info().Msg("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		log.Warn().Msg("Hub shutdown timeout reached; some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
