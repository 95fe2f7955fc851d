package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Conversation types
const (
	ConversationTypeDirect = "direct"
	ConversationTypeGroup  = "group"
)

// Participant roles
const (
	ParticipantRoleMember = "participant"
	ParticipantRoleAdmin  = "admin"
)

// Participant membership states
const (
	ParticipantStatusActive  = "active"
	ParticipantStatusLeft    = "left"
	ParticipantStatusRemoved = "removed"
)

// Message types
const (
	MessageTypeText    = "text"
	MessageTypeFile    = "file"
	MessageTypeSystem  = "system"
	MessageTypeMeeting = "meeting-reference"
)

// Conversation is a durable container of messages between participants.
// Conversations are archived (soft), never hard-deleted while messages reference them.
type Conversation struct {
	BaseModel
	Title         string     `gorm:"size:255" json:"title,omitempty"`
	Type          string     `gorm:"not null;default:'direct'" json:"type" validate:"omitempty,oneof=direct group"`
	RefType       string     `gorm:"size:50" json:"ref_type,omitempty"` // opaque originating entity: job, bid, contract
	RefID         *uuid.UUID `gorm:"type:uuid" json:"ref_id,omitempty"`
	IsArchived    bool       `gorm:"default:false" json:"is_archived"`
	LastMessageAt *time.Time `gorm:"index" json:"last_message_at"`

	// Relations
	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
}

// ConversationParticipant links a user to a conversation. A user appears at most
// once per conversation; leaving or being removed is a status transition, not a
// row deletion, so membership history stays auditable.
type ConversationParticipant struct {
	BaseModel
	ConversationID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_participants_conversation_user;constraint:OnDelete:RESTRICT" json:"conversation_id"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_participants_conversation_user;index;constraint:OnDelete:RESTRICT" json:"user_id"`
	Role           string     `gorm:"not null;default:'participant'" json:"role"`
	Status         string     `gorm:"not null;default:'active';index" json:"status"`
	LastReadAt     *time.Time `json:"last_read_at"`
	UnreadCount    int        `gorm:"default:0" json:"unread_count"` // cached, recomputable from receipts
	IsMuted        bool       `gorm:"default:false" json:"is_muted"`
	IsPinned       bool       `gorm:"default:false" json:"is_pinned"`

	// Relations
	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TableName returns the table name for ConversationParticipant
func (ConversationParticipant) TableName() string {
	return "conversation_participants"
}

// Message belongs to exactly one conversation. The ordering key within a
// conversation is (created_at, id) so timestamp ties break deterministically.
// Deletion is a visibility flag (RemovedAt); rows are never hard-deleted so
// receipts and pagination cursors stay valid.
type Message struct {
	BaseModel
	ConversationID uuid.UUID       `gorm:"type:uuid;not null;index;constraint:OnDelete:RESTRICT" json:"conversation_id"`
	SenderID       uuid.UUID       `gorm:"type:uuid;not null;constraint:OnDelete:RESTRICT" json:"sender_id"`
	Type           string          `gorm:"not null;default:'text'" json:"message_type"`
	Content        string          `gorm:"type:text" json:"content"`
	Metadata       MessageMetadata `gorm:"type:jsonb;default:'{}'" json:"metadata"`
	ReplyToID      *uuid.UUID      `gorm:"type:uuid;constraint:OnDelete:SET NULL" json:"reply_to_id"`
	IsEdited       bool            `gorm:"default:false" json:"edited"`
	EditedAt       *time.Time      `json:"edited_at,omitempty"`
	RemovedAt      *time.Time      `json:"removed_at"`

	// Relations
	Sender  *User    `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	ReplyTo *Message `gorm:"foreignKey:ReplyToID" json:"reply_to,omitempty"`
}

// Visible reports whether the message should still be rendered to clients.
func (m *Message) Visible() bool {
	return m.RemovedAt == nil
}

// MessageReceipt records delivery and read acknowledgement per (message, user).
// Rows are created lazily on the first acknowledgement and updated monotonically:
// a later read never erases an earlier one.
type MessageReceipt struct {
	BaseModel
	MessageID      uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_receipts_message_user;constraint:OnDelete:RESTRICT" json:"message_id"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_receipts_message_user;constraint:OnDelete:RESTRICT" json:"user_id"`
	ConversationID uuid.UUID  `gorm:"type:uuid;not null;index" json:"conversation_id"`
	DeliveredAt    *time.Time `json:"delivered_at"`
	ReadAt         *time.Time `json:"read_at"`
}

// MessageFile is an attachment row. ConversationID is denormalized for direct
// per-conversation lookup. Edits to a shared file create a new row chained to
// the original through ParentFileID rather than overwriting history.
type MessageFile struct {
	BaseModel
	MessageID      uuid.UUID  `gorm:"type:uuid;not null;index;constraint:OnDelete:RESTRICT" json:"message_id"`
	ConversationID uuid.UUID  `gorm:"type:uuid;not null;index;constraint:OnDelete:RESTRICT" json:"conversation_id"`
	UploaderID     uuid.UUID  `gorm:"type:uuid;not null" json:"uploader_id"`
	FileName       string     `gorm:"not null" json:"file_name"`
	MimeType       string     `json:"mime_type"`
	Size           int64      `json:"size"`
	S3Key          string     `gorm:"not null" json:"s3_key"`
	URL            string     `json:"url"`
	ParentFileID   *uuid.UUID `gorm:"type:uuid;constraint:OnDelete:SET NULL" json:"parent_file_id"`
	Version        int        `gorm:"default:1" json:"version"`
}

// FileMetadata describes the attachment carried by a file message.
type FileMetadata struct {
	FileID   uuid.UUID `json:"file_id"`
	FileName string    `json:"file_name"`
	MimeType string    `json:"mime_type,omitempty"`
	Size     int64     `json:"size,omitempty"`
}

// MeetingMetadata references a scheduled meeting from a meeting-reference message.
type MeetingMetadata struct {
	MeetingID uuid.UUID `json:"meeting_id"`
	Title     string    `json:"title,omitempty"`
	StartsAt  time.Time `json:"starts_at"`
}

// SystemMetadata describes a system-generated event message.
type SystemMetadata struct {
	Event        string     `json:"event"` // participant_added, participant_removed, title_changed, ...
	ActorID      *uuid.UUID `json:"actor_id,omitempty"`
	TargetUserID *uuid.UUID `json:"target_user_id,omitempty"`
}

// MessageMetadata is a tagged variant keyed by the message type: exactly the
// variant required by the type is set, so required fields are checkable instead
// of living in an untyped blob.
type MessageMetadata struct {
	File    *FileMetadata    `json:"file,omitempty"`
	Meeting *MeetingMetadata `json:"meeting,omitempty"`
	System  *SystemMetadata  `json:"system,omitempty"`
}

// ValidateFor checks that the metadata variant matches the message type.
func (m MessageMetadata) ValidateFor(messageType string) error {
	switch messageType {
	case MessageTypeText:
		if m.File != nil || m.Meeting != nil || m.System != nil {
			return errors.New("text messages carry no metadata")
		}
	case MessageTypeFile:
		if m.File == nil {
			return errors.New("file messages require file metadata")
		}
		if m.File.FileName == "" {
			return errors.New("file metadata requires file_name")
		}
	case MessageTypeMeeting:
		if m.Meeting == nil {
			return errors.New("meeting-reference messages require meeting metadata")
		}
		if m.Meeting.MeetingID == uuid.Nil {
			return errors.New("meeting metadata requires meeting_id")
		}
	case MessageTypeSystem:
		if m.System == nil || m.System.Event == "" {
			return errors.New("system messages require a system event")
		}
	default:
		return fmt.Errorf("unknown message type %q", messageType)
	}
	return nil
}

// Implement driver.Valuer interface for JSONB
func (m MessageMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *MessageMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = MessageMetadata{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, m)
}
