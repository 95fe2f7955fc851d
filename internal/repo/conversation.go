package repo

import (
	"errors"
	"fmt"
	"time"

	"parley/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationRepository owns durable conversation, participant and message
// state. It is the only component that mutates these tables; caches and unread
// counters elsewhere are derived views rebuilt from here.
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// CreateWithParticipants creates a conversation together with its initial
// participant set in one transaction: either all rows commit or none do.
func (r *ConversationRepository) CreateWithParticipants(conv *models.Conversation, userIDs []uuid.UUID) error {
	if len(userIDs) == 0 {
		return fmt.Errorf("%w: conversation requires at least one participant", ErrValidation)
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}

		seen := make(map[uuid.UUID]bool, len(userIDs))
		for _, userID := range userIDs {
			if seen[userID] {
				continue
			}
			seen[userID] = true

			participant := models.ConversationParticipant{
				ConversationID: conv.ID,
				UserID:         userID,
				Role:           models.ParticipantRoleMember,
				Status:         models.ParticipantStatusActive,
			}
			if err := tx.Create(&participant).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID gets a conversation by ID
func (r *ConversationRepository) GetByID(id uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.Where("id = ?", id).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// Update updates a conversation's mutable fields (title, archive flag)
func (r *ConversationRepository) Update(conv *models.Conversation) error {
	return r.db.Save(conv).Error
}

// AddParticipant adds a user to a conversation. A duplicate invite is a no-op
// for an already-active participant; re-inviting a user who left or was removed
// reactivates their existing row, preserving the one-row-per-user invariant.
func (r *ConversationRepository) AddParticipant(conversationID, userID uuid.UUID, role string) error {
	if role == "" {
		role = models.ParticipantRoleMember
	}
	participant := models.ConversationParticipant{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Status:         models.ParticipantStatusActive,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":     models.ParticipantStatusActive,
			"updated_at": time.Now(),
		}),
	}).Create(&participant).Error
}

// SetParticipantStatus transitions a membership to left or removed. Rows are
// never deleted so the audit history survives.
func (r *ConversationRepository) SetParticipantStatus(conversationID, userID uuid.UUID, status string) error {
	if status != models.ParticipantStatusLeft && status != models.ParticipantStatusRemoved {
		return fmt.Errorf("%w: invalid participant status %q", ErrValidation, status)
	}

	result := r.db.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetParticipant returns the membership row for (conversation, user)
func (r *ConversationRepository) GetParticipant(conversationID, userID uuid.UUID) (*models.ConversationParticipant, error) {
	var participant models.ConversationParticipant
	err := r.db.Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&participant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &participant, nil
}

// IsActiveParticipant reports whether the user has an active membership
func (r *ConversationRepository) IsActiveParticipant(conversationID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ? AND status = ?",
			conversationID, userID, models.ParticipantStatusActive).
		Count(&count).Error
	return count > 0, err
}

// Participants lists all membership rows for a conversation, any status
func (r *ConversationRepository) Participants(conversationID uuid.UUID) ([]models.ConversationParticipant, error) {
	var participants []models.ConversationParticipant
	err := r.db.Preload("User").
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&participants).Error
	return participants, err
}

// ActiveParticipantIDs returns the user ids with an active membership. This is
// the loader behind the participant cache.
func (r *ConversationRepository) ActiveParticipantIDs(conversationID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND status = ?", conversationID, models.ParticipantStatusActive).
		Pluck("user_id", &ids).Error
	return ids, err
}

// ActiveConversationIDs returns the ids of the user's most recently active
// conversations, bounded by limit. Used for presence fan-out.
func (r *ConversationRepository) ActiveConversationIDs(userID uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.Raw(`
		SELECT c.id
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ? AND p.status = ? AND c.deleted_at IS NULL
		ORDER BY c.last_message_at DESC NULLS LAST
		LIMIT ?
	`, userID, models.ParticipantStatusActive, limit).Scan(&ids).Error
	return ids, err
}

// RecentlyActiveConversationIDs returns the ids of conversations whose latest
// message arrived after the given time, most recent first, bounded by limit.
// Feeds the periodic unread-counter reconciliation.
func (r *ConversationRepository) RecentlyActiveConversationIDs(since time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.Model(&models.Conversation{}).
		Where("last_message_at > ?", since).
		Order("last_message_at DESC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// ListByUser returns the user's inbox ordered by last activity descending.
// This is the hot open-inbox path, so it is a single join query between
// membership and conversation rather than two round trips.
func (r *ConversationRepository) ListByUser(userID uuid.UUID, limit, offset int) (models.PaginationResult[models.ConversationListItem], error) {
	var items []models.ConversationListItem
	var total int64

	if err := r.db.Model(&models.ConversationParticipant{}).
		Where("user_id = ? AND status = ?", userID, models.ParticipantStatusActive).
		Count(&total).Error; err != nil {
		return models.PaginationResult[models.ConversationListItem]{}, err
	}

	query := `
		SELECT
			c.*,
			p.role as my_role,
			p.status as my_status,
			p.unread_count as my_unread_count,
			p.last_read_at as my_last_read_at,
			p.is_muted,
			p.is_pinned
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ? AND p.status = ? AND c.deleted_at IS NULL
		ORDER BY p.is_pinned DESC, c.last_message_at DESC NULLS LAST
		LIMIT ? OFFSET ?
	`

	err := r.db.Raw(query, userID, models.ParticipantStatusActive, limit, offset).Scan(&items).Error
	if err != nil {
		return models.PaginationResult[models.ConversationListItem]{}, err
	}

	page := 1
	totalPages := 1
	if limit > 0 {
		page = (offset / limit) + 1
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}

	return models.PaginationResult[models.ConversationListItem]{
		Data:       items,
		Total:      total,
		Page:       page,
		PerPage:    limit,
		TotalPages: totalPages,
	}, nil
}

// TouchLastMessageAt bumps the conversation's inbox-ordering timestamp
func (r *ConversationRepository) TouchLastMessageAt(conversationID uuid.UUID, at time.Time) error {
	return r.db.Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Update("last_message_at", at).Error
}

// IncrementUnread bumps the cached unread counter for every active participant
// except the sender. The counter is an optimization reconciled against receipts;
// it is never the source of truth.
func (r *ConversationRepository) IncrementUnread(conversationID, senderID uuid.UUID) error {
	return r.db.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id != ? AND status = ?",
			conversationID, senderID, models.ParticipantStatusActive).
		Update("unread_count", gorm.Expr("unread_count + 1")).Error
}
