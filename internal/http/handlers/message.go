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

// MessageHandler handles message send, history and read tracking
type MessageHandler struct {
	messages    *repo.MessageRepository
	broadcaster *services.Broadcaster
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(messages *repo.MessageRepository, broadcaster *services.Broadcaster) *MessageHandler {
	return &MessageHandler{messages: messages, broadcaster: broadcaster}
}

// SendMessageRequest is the REST send payload
type SendMessageRequest struct {
	Type      string                 `json:"message_type" validate:"omitempty,oneof=text file system meeting-reference"`
	Content   string                 `json:"content"`
	ReplyToID *uuid.UUID             `json:"reply_to_id"`
	Metadata  models.MessageMetadata `json:"metadata"`
}

// Send persists and fans out a new message
func (h *MessageHandler) Send(c echo.Context) error {
	userID := c.Get("user_id").(uuid.UUID)
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid ID format"})
	}

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	message, err := h.broadcaster.SendMessage(c.Request().Context(), conversationID, userID, services.SendMessageInput{
		Type:      req.Type,
		Content:   req.Content,
		ReplyToID: req.ReplyToID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, message)
}

// Page returns one page of history, newest first, using the before cursor
func (h *MessageHandler) Page(c echo.Context) error {
	userID := c.Get("user_id").(uuid.UUID)
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid ID format"})
	}

	if err := requireMember(c, h.broadcaster, conversationID, userID); err != nil {
		return respondError(c, err)
	}

	var before *uuid.UUID
	if raw := c.QueryParam("before"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid cursor format"})
		}
		before = &id
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	messages, err := h.messages.Page(conversationID, before, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  messages,
		"count": len(messages),
	})
}

// EditMessageRequest carries the replacement content
type EditMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// Edit replaces the content of the caller's own message
func (h *MessageHandler) Edit(c echo.Context) error {
	userID := c.Get("user_id").(uuid.UUID)
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid ID format"})
	}

	var req EditMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	message, err := h.broadcaster.EditMessage(c.Request().Context(), messageID, userID, req.Content)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, message)
}

// Delete soft-deletes the caller's own message
func (h *MessageHandler) Delete(c echo.Context) error {
	userID := c.Get("user_id").(uuid.UUID)
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid ID format"})
	}

	if err := h.broadcaster.DeleteMessage(c.Request().Context(), messageID, userID); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// MarkReadRequest acknowledges a message as read
type MarkReadRequest struct {
	MessageID uuid.UUID `json:"message_id" validate:"required"`
}

// MarkRead records a read acknowledgement and notifies other participants
func (h *MessageHandler) MarkRead(c echo.Context) error {
	userID := c.Get("user_id").(uuid.UUID)
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid ID format"})
	}

	var req MarkReadRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if err := h.broadcaster.MarkRead(c.Request().Context(), conversationID, userID, req.MessageID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "read"})
}
