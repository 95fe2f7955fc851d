package models

import (
	"time"

	"github.com/google/uuid"
)

// PaginationResult represents paginated results
type PaginationResult[T any] struct {
	Data       []T   `json:"data"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	TotalPages int   `json:"total_pages"`
}

// ConversationListItem is an inbox row: a conversation joined with the
// requesting user's own membership fields. Produced by a single join query.
type ConversationListItem struct {
	Conversation
	MyRole        string     `json:"my_role"`
	MyStatus      string     `json:"my_status"`
	MyUnreadCount int        `json:"my_unread_count"`
	MyLastReadAt  *time.Time `json:"my_last_read_at"`
	IsMuted       bool       `json:"is_muted"`
	IsPinned      bool       `json:"is_pinned"`
}

// MessageSummary is the abstract "deliver to offline user" payload handed to
// the notification emitter. It carries no transport-specific fields.
type MessageSummary struct {
	ConversationID    uuid.UUID `json:"conversation_id"`
	ConversationTitle string    `json:"conversation_title,omitempty"`
	MessageID         uuid.UUID `json:"message_id"`
	SenderID          uuid.UUID `json:"sender_id"`
	SenderName        string    `json:"sender_name,omitempty"`
	Preview           string    `json:"preview"`
	SentAt            time.Time `json:"sent_at"`
}

// GetAllModels returns every model registered for migration
func GetAllModels() []interface{} {
	return []interface{}{
		&User{},
		&Conversation{},
		&ConversationParticipant{},
		&Message{},
		&MessageReceipt{},
		&MessageFile{},
	}
}
