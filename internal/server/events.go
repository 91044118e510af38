// Package server defines the wire event envelope exchanged with clients over
// the WebSocket channel.
package server

import (
	"encoding/json"

	"github.com/Tyrowin/chatwire/internal/store"
)

// Client-to-server event types.
const (
	EventIdentify    = "identify"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
)

// Server-to-client event types.
const (
	EventOnlineUsers      = "online_users"
	EventNewMessage       = "new_message"
	EventMessageDelivered = "message_delivered"
	EventMessageError     = "message_error"
)

// clientEvent is the envelope for everything a client may send. The Type tag
// decides which of the remaining fields are meaningful.
type clientEvent struct {
	Type          string `json:"type"`
	UserID        string `json:"userId,omitempty"`
	RecipientID   string `json:"recipientId,omitempty"`
	Text          string `json:"text,omitempty"`
	AttachmentRef string `json:"attachmentRef,omitempty"`
	IsTyping      bool   `json:"isTyping,omitempty"`
}

type onlineUsersEvent struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

type newMessageEvent struct {
	Type    string         `json:"type"`
	Message *store.Message `json:"message"`
}

type messageDeliveredEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

type messageErrorEvent struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type typingEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

func marshalOnlineUsers(users []string) []byte {
	if users == nil {
		users = []string{}
	}
	payload, _ := json.Marshal(onlineUsersEvent{Type: EventOnlineUsers, Users: users})
	return payload
}

func marshalNewMessage(m *store.Message) []byte {
	payload, _ := json.Marshal(newMessageEvent{Type: EventNewMessage, Message: m})
	return payload
}

func marshalMessageDelivered(messageID string) []byte {
	payload, _ := json.Marshal(messageDeliveredEvent{Type: EventMessageDelivered, MessageID: messageID})
	return payload
}

func marshalMessageError(reason string) []byte {
	payload, _ := json.Marshal(messageErrorEvent{Type: EventMessageError, Reason: reason})
	return payload
}

func marshalTyping(userID string, isTyping bool) []byte {
	payload, _ := json.Marshal(typingEvent{Type: EventTyping, UserID: userID, IsTyping: isTyping})
	return payload
}
