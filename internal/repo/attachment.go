package repo

import (
	"errors"

	"parley/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageFileRepository handles attachment rows. File edits never overwrite:
// each new version is a fresh row chained to its parent.
type MessageFileRepository struct {
	db *gorm.DB
}

// NewMessageFileRepository creates a new message file repository
func NewMessageFileRepository(db *gorm.DB) *MessageFileRepository {
	return &MessageFileRepository{db: db}
}

// Create persists an attachment row
func (r *MessageFileRepository) Create(file *models.MessageFile) error {
	return r.db.Create(file).Error
}

// GetByID gets an attachment by ID
func (r *MessageFileRepository) GetByID(id uuid.UUID) (*models.MessageFile, error) {
	var file models.MessageFile
	err := r.db.Where("id = ?", id).First(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// CreateVersion persists a new version of an existing attachment, linked to the
// original through the parent pointer.
func (r *MessageFileRepository) CreateVersion(parent *models.MessageFile, file *models.MessageFile) error {
	file.MessageID = parent.MessageID
	file.ConversationID = parent.ConversationID
	file.ParentFileID = &parent.ID
	file.Version = parent.Version + 1
	return r.db.Create(file).Error
}

// ListByConversation lists a conversation's attachments, most recent first,
// bounded by limit. Uses the denormalized conversation id.
func (r *MessageFileRepository) ListByConversation(conversationID uuid.UUID, limit int) ([]models.MessageFile, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	var files []models.MessageFile
	err := r.db.Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&files).Error
	return files, err
}

// VersionChain walks the parent pointers from the given file back to the
// original row. Traversal is an explicit lookup per hop.
func (r *MessageFileRepository) VersionChain(id uuid.UUID) ([]models.MessageFile, error) {
	var chain []models.MessageFile
	next := &id
	for next != nil {
		file, err := r.GetByID(*next)
		if err != nil {
			return nil, err
		}
		chain = append(chain, *file)
		next = file.ParentFileID
	}
	return chain, nil
}
