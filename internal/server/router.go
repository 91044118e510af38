// Package server routes direct messages: persist first, then push to every
// live connection of both parties.
package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/chatwire/internal/store"
)

var (
	// ErrEmptyPayload is returned when a send carries neither text nor an
	// attachment reference.
	ErrEmptyPayload = errors.New("empty-payload")
	// ErrInvalidRecipient is returned for a blank recipient identity.
	ErrInvalidRecipient = errors.New("invalid-recipient")
	// ErrPersistence wraps record-store failures; the send is terminal and
	// nothing is pushed.
	ErrPersistence = errors.New("persistence-error")
)

// MessagePayload is the content of a send: text and/or an attachment
// reference, at least one of which must be present.
type MessagePayload struct {
	Text          string
	AttachmentRef string
}

// MessageStore is the slice of the record store the router depends on.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *store.Message) error
	MarkDelivered(ctx context.Context, id string) error
}

// Router implements message delivery. Fan-out is a pure function of registry
// state: look up the live connections, push to each, tolerate individual
// failures.
type Router struct {
	registry *Registry
	messages MessageStore
}

// NewRouter creates a router persisting through messages and delivering
// through registry.
func NewRouter(registry *Registry, messages MessageStore) *Router {
	return &Router{registry: registry, messages: messages}
}

// Send persists a message and pushes it to every live connection of the
// recipient and the sender. origin, when non-nil, identifies the sender's
// originating connection; it receives a delivery acknowledgement instead of
// a duplicate message push.
//
// A record-store failure is terminal and returns ErrPersistence. Push
// failures to individual connections are logged and do not affect the
// persisted result: an offline recipient still yields a successful send.
func (rt *Router) Send(ctx context.Context, senderID, recipientID string, payload MessagePayload, origin *Connection) (*store.Message, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return nil, ErrInvalidRecipient
	}
	if payload.Text == "" && payload.AttachmentRef == "" {
		return nil, ErrEmptyPayload
	}

	msg := &store.Message{
		SenderID:      senderID,
		RecipientID:   recipientID,
		Text:          payload.Text,
		AttachmentURL: payload.AttachmentRef,
	}
	if err := rt.messages.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	frame := marshalNewMessage(msg)

	delivered := 0
	for _, conn := range rt.registry.ConnectionsFor(recipientID) {
		if conn.trySend(frame) {
			delivered++
		} else {
			log.Warn().Str("conn_id", conn.id).Str("message_id", msg.ID).
				Msg("Message push to recipient connection failed")
		}
	}

	if delivered > 0 {
		if err := rt.messages.MarkDelivered(ctx, msg.ID); err != nil {
			log.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to record delivery status")
		} else {
			msg.Status = store.StatusDelivered
		}
	}

	// Keep the sender's other devices in sync; the originating connection
	// gets an acknowledgement instead.
	for _, conn := range rt.registry.ConnectionsFor(senderID) {
		if origin != nil && conn.id == origin.id {
			continue
		}
		if !conn.trySend(frame) {
			log.Warn().Str("conn_id", conn.id).Str("message_id", msg.ID).
				Msg("Message push to sender connection failed")
		}
	}

	if origin != nil {
		if !origin.trySend(marshalMessageDelivered(msg.ID)) {
			log.Warn().Str("conn_id", origin.id).Str("message_id", msg.ID).
				Msg("Delivery acknowledgement push failed")
		}
	}

	return msg, nil
}
