package repo

import (
	"time"

	"parley/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReceiptRepository records delivered/read acknowledgements per (message, user)
// and maintains the per-participant unread counter. All writes are idempotent
// upserts with monotonic guards: a late or duplicate ack never moves a
// timestamp backwards.
type ReceiptRepository struct {
	db       *gorm.DB
	messages *MessageRepository
}

// NewReceiptRepository creates a new receipt repository
func NewReceiptRepository(db *gorm.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db, messages: NewMessageRepository(db)}
}

// MergeReadAt resolves the monotonic read timestamp: the result is the maximum
// of the existing and incoming values, never nil once either is set.
func MergeReadAt(existing, incoming *time.Time) *time.Time {
	if incoming == nil {
		return existing
	}
	if existing == nil || incoming.After(*existing) {
		return incoming
	}
	return existing
}

// MarkDelivered records a delivery acknowledgement. The first ack wins;
// repeated calls are no-ops.
func (r *ReceiptRepository) MarkDelivered(messageID, userID, conversationID uuid.UUID, at time.Time) error {
	query := `
		INSERT INTO message_receipts (id, message_id, user_id, conversation_id, delivered_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NOW(), NOW())
		ON CONFLICT (message_id, user_id)
		DO UPDATE SET
			delivered_at = COALESCE(message_receipts.delivered_at, EXCLUDED.delivered_at),
			updated_at = NOW()
	`
	return r.db.Exec(query, uuid.New(), messageID, userID, conversationID, at).Error
}

// MarkRead records a read acknowledgement. Read implies delivered, so an unset
// delivered_at is filled in; read_at only ever moves forward.
func (r *ReceiptRepository) MarkRead(messageID, userID, conversationID uuid.UUID, at time.Time) error {
	query := `
		INSERT INTO message_receipts (id, message_id, user_id, conversation_id, delivered_at, read_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NOW(), NOW())
		ON CONFLICT (message_id, user_id)
		DO UPDATE SET
			delivered_at = COALESCE(message_receipts.delivered_at, EXCLUDED.delivered_at),
			read_at = GREATEST(COALESCE(message_receipts.read_at, EXCLUDED.read_at), EXCLUDED.read_at),
			updated_at = NOW()
	`
	return r.db.Exec(query, uuid.New(), messageID, userID, conversationID, at, at).Error
}

// AdvanceLastRead moves the participant's last-read watermark forward (never
// backwards) and rewrites the cached unread counter from the authoritative
// message count, preventing counter drift.
func (r *ReceiptRepository) AdvanceLastRead(conversationID, userID uuid.UUID, at time.Time) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Exec(`
			UPDATE conversation_participants
			SET last_read_at = GREATEST(COALESCE(last_read_at, ?), ?), updated_at = NOW()
			WHERE conversation_id = ? AND user_id = ?
		`, at, at, conversationID, userID).Error
		if err != nil {
			return err
		}

		var participant models.ConversationParticipant
		if err := tx.Where("conversation_id = ? AND user_id = ?", conversationID, userID).
			First(&participant).Error; err != nil {
			return err
		}

		unread, err := NewMessageRepository(tx).CountVisibleAfter(conversationID, userID, participant.LastReadAt)
		if err != nil {
			return err
		}

		return tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, userID).
			Update("unread_count", unread).Error
	})
}

// ReconcileUnread rewrites every participant's cached counter for the
// conversation from the authoritative count. Run periodically so the cached
// counters cannot drift from what the receipts imply.
func (r *ReceiptRepository) ReconcileUnread(conversationID uuid.UUID) error {
	var participants []models.ConversationParticipant
	if err := r.db.Where("conversation_id = ? AND status = ?",
		conversationID, models.ParticipantStatusActive).Find(&participants).Error; err != nil {
		return err
	}

	for _, p := range participants {
		unread, err := r.messages.CountVisibleAfter(conversationID, p.UserID, p.LastReadAt)
		if err != nil {
			return err
		}
		if int(unread) == p.UnreadCount {
			continue
		}
		if err := r.db.Model(&models.ConversationParticipant{}).
			Where("id = ?", p.ID).
			Update("unread_count", unread).Error; err != nil {
			return err
		}
	}
	return nil
}
