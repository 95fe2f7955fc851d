package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"parley/pkg/models"

	"github.com/google/uuid"
)

// Client-to-server event names
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMarkRead          = "mark_read"
)

// Server-to-client event names
const (
	EventConnected           = "connected"
	EventMessageSent         = "message_sent"
	EventMessageUpdated      = "message_updated"
	EventMessageDeleted      = "message_deleted"
	EventUserTyping          = "user_typing"
	EventUserStoppedTyping   = "user_stopped_typing"
	EventConversationUpdated = "conversation_updated"
	EventReadReceipt         = "read_receipt"
	EventUserOnline          = "user_online"
	EventUserOffline         = "user_offline"
	EventNotification        = "notification"
	EventError               = "error"
)

// Envelope is the wire format in both directions
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// NewEvent builds an outbound envelope. Payloads are plain structs; a marshal
// failure here is a programming error and surfaces as an error event instead.
func NewEvent(eventType string, payload interface{}) Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		return NewEvent(EventError, ErrorPayload{Code: "internal", Message: "failed to encode payload"})
	}
	return Envelope{Type: eventType, Payload: raw, Timestamp: time.Now()}
}

// MessagePayload carries the full message record for message_sent,
// message_updated and message_deleted events.
type MessagePayload struct {
	ConversationID uuid.UUID      `json:"conversation_id"`
	Message        models.Message `json:"message"`
}

// ReadReceiptPayload notifies other participants of a read acknowledgement
type ReadReceiptPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	UserID         uuid.UUID `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}

// TypingPayload is ephemeral typing state, never persisted
type TypingPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	UserName       string    `json:"user_name,omitempty"`
	IsTyping       bool      `json:"is_typing"`
}

// ConversationUpdatedPayload announces title/archive changes
type ConversationUpdatedPayload struct {
	ConversationID uuid.UUID           `json:"conversation_id"`
	Conversation   models.Conversation `json:"conversation"`
}

// PresencePayload announces a user coming online or going offline
type PresencePayload struct {
	UserID uuid.UUID `json:"user_id"`
	At     time.Time `json:"at"`
}

// NotificationPayload is a generic in-band notification
type NotificationPayload struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

// ErrorPayload is sent only to the offending connection, never broadcast
type ErrorPayload struct {
	Code    string `json:"code"` // validation, forbidden, not_found, internal
	Message string `json:"message"`
}

// ConversationRef is the payload of join/leave/typing client events
type ConversationRef struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

// MarkReadRequest is the payload of a mark_read client event
type MarkReadRequest struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
}

// DecodeClientEvent parses and validates an inbound frame. Unknown event types
// and missing required fields are validation errors rejected to the sender.
func DecodeClientEvent(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed event: %w", err)
	}

	switch env.Type {
	case EventJoinConversation, EventLeaveConversation, EventTypingStart, EventTypingStop:
		var ref ConversationRef
		if err := json.Unmarshal(env.Payload, &ref); err != nil {
			return Envelope{}, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}
		if ref.ConversationID == uuid.Nil {
			return Envelope{}, fmt.Errorf("%s requires conversation_id", env.Type)
		}
	case EventMarkRead:
		var req MarkReadRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return Envelope{}, fmt.Errorf("malformed mark_read payload: %w", err)
		}
		if req.ConversationID == uuid.Nil || req.MessageID == uuid.Nil {
			return Envelope{}, fmt.Errorf("mark_read requires conversation_id and message_id")
		}
	default:
		return Envelope{}, fmt.Errorf("unknown event type %q", env.Type)
	}

	return env, nil
}
