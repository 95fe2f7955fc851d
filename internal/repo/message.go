package repo

import (
	"errors"
	"fmt"
	"time"

	"parley/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// DefaultPageSize is applied when the caller supplies no limit.
	DefaultPageSize = 50
	// MaxPageSize is the server-enforced upper bound for one page.
	MaxPageSize = 100
)

// MessageRepository handles message persistence and cursor-paged history.
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// GetByID gets a message by ID
func (r *MessageRepository) GetByID(id uuid.UUID) (*models.Message, error) {
	var message models.Message
	err := r.db.Preload("Sender").Where("id = ?", id).First(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// Create appends a message to its conversation
func (r *MessageRepository) Create(message *models.Message) error {
	return r.db.Create(message).Error
}

// Update updates a message
func (r *MessageRepository) Update(message *models.Message) error {
	return r.db.Save(message).Error
}

// MarkEdited replaces the message content and flags the edit. The row keeps its
// id and ordering position so pagination cursors stay valid.
func (r *MessageRepository) MarkEdited(id uuid.UUID, content string, at time.Time) error {
	return r.db.Model(&models.Message{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"content":   content,
			"is_edited": true,
			"edited_at": at,
		}).Error
}

// MarkRemoved soft-deletes a message. Visibility flag only: receipts and
// cursors referencing the row remain valid.
func (r *MessageRepository) MarkRemoved(id uuid.UUID, at time.Time) error {
	return r.db.Model(&models.Message{}).Where("id = ?", id).
		Update("removed_at", at).Error
}

// ClampLimit normalizes a client-supplied page size to the server bounds.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// Page returns one page of messages for the conversation, newest first. When
// before is supplied, results are strictly older than that message's
// (created_at, id) key; the cursor message must belong to the conversation.
// An empty conversation yields an empty page. Uses the composite
// (conversation_id, created_at, id) index, never an offset scan.
func (r *MessageRepository) Page(conversationID uuid.UUID, before *uuid.UUID, limit int) ([]models.Message, error) {
	limit = ClampLimit(limit)

	query := r.db.Preload("Sender").
		Where("conversation_id = ?", conversationID)

	if before != nil {
		var cursor models.Message
		err := r.db.Select("id", "conversation_id", "created_at").
			Where("id = ?", *before).First(&cursor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: unknown cursor message %s", ErrValidation, *before)
		}
		if err != nil {
			return nil, err
		}
		if cursor.ConversationID != conversationID {
			return nil, fmt.Errorf("%w: cursor message belongs to another conversation", ErrValidation)
		}
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var messages []models.Message
	err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&messages).Error
	return messages, err
}

// CountVisibleAfter counts another sender's visible messages newer than the
// given point. This is the authoritative unread computation behind the cached
// per-participant counter.
func (r *MessageRepository) CountVisibleAfter(conversationID, userID uuid.UUID, after *time.Time) (int64, error) {
	query := r.db.Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id != ? AND removed_at IS NULL", conversationID, userID)
	if after != nil {
		query = query.Where("created_at > ?", *after)
	}

	var count int64
	err := query.Count(&count).Error
	return count, err
}
