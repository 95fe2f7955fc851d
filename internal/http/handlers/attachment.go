package handlers

import (
	"net/http"
	"strconv"

	"parley/internal/repo"
	"parley/internal/services"
	"parley/pkg/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// AttachmentHandler handles attachment upload and retrieval
type AttachmentHandler struct {
	files       *repo.MessageFileRepository
	storage     *services.StorageService
	broadcaster *services.Broadcaster
}

// NewAttachmentHandler creates a new attachment handler
func NewAttachmentHandler(files *repo.MessageFileRepository, storage *services.StorageService, broadcaster *services.Broadcaster) *AttachmentHandler {
	return &AttachmentHandler{files: files, storage: storage, broadcaster: broadcaster}
}

// Upload stores a multipart file in S3, sends a file message carrying its
// metadata and records the attachment row. When parent_file_id is supplied the
// upload becomes a new version chained to the original instead.
func (h *AttachmentHandler) Upload(c echo.Context) error {
	if h.storage == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "file storage not configured"})
	}

	userID := c.Get("user_id").(uuid.UUID)
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid ID format"})
	}

	if err := requireMember(c, h.broadcaster, conversationID, userID); err != nil {
		return respondError(c, err)
	}

	header, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "file is required"})
	}

	result, err := h.storage.UploadAttachment(conversationID, header)
	if err != nil {
		return respondError(c, err)
	}

	if raw := c.FormValue("parent_file_id"); raw != "" {
		parentID, err := uuid.Parse(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid parent_file_id format"})
		}
		parent, err := h.files.GetByID(parentID)
		if err != nil {
			return respondError(c, err)
		}
		if parent.ConversationID != conversationID {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "parent file belongs to another conversation"})
		}
		file := &models.MessageFile{
			UploaderID: userID,
			FileName:   header.Filename,
			MimeType:   result.MimeType,
			Size:       result.Size,
			S3Key:      result.Key,
			URL:        result.URL,
		}
		if err := h.files.CreateVersion(parent, file); err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusCreated, file)
	}

	file := &models.MessageFile{
		ConversationID: conversationID,
		UploaderID:     userID,
		FileName:       header.Filename,
		MimeType:       result.MimeType,
		Size:           result.Size,
		S3Key:          result.Key,
		URL:            result.URL,
		Version:        1,
	}

	message, err := h.broadcaster.SendMessage(c.Request().Context(), conversationID, userID, services.SendMessageInput{
		Type: models.MessageTypeFile,
		Metadata: models.MessageMetadata{
			File: &models.FileMetadata{
				FileName: header.Filename,
				MimeType: result.MimeType,
				Size:     result.Size,
			},
		},
	})
	if err != nil {
		return respondError(c, err)
	}

	file.MessageID = message.ID
	if err := h.files.Create(file); err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"file":    file,
		"message": message,
	})
}

// List returns a conversation's attachments, most recent first
func (h *AttachmentHandler) List(c echo.Context) error {
	userID := c.Get("user_id").(uuid.UUID)
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid ID format"})
	}
	if err := requireMember(c, h.broadcaster, conversationID, userID); err != nil {
		return respondError(c, err)
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	files, err := h.files.ListByConversation(conversationID, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, files)
}

// Versions walks a file's version chain back to the original
func (h *AttachmentHandler) Versions(c echo.Context) error {
	userID := c.Get("user_id").(uuid.UUID)
	fileID, err := uuid.Parse(c.Param("fileID"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid ID format"})
	}

	file, err := h.files.GetByID(fileID)
	if err != nil {
		return respondError(c, err)
	}
	if err := requireMember(c, h.broadcaster, file.ConversationID, userID); err != nil {
		return respondError(c, err)
	}

	chain, err := h.files.VersionChain(fileID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, chain)
}
