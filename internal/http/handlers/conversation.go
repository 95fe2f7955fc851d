package handlers

import (
	"net/http"
	"strconv"

	"parley/internal/cache"
	"parley/internal/repo"
	"parley/internal/services"
	"parley/pkg/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ConversationHandler handles conversation lifecycle and membership
type ConversationHandler struct {
	conversations *repo.ConversationRepository
	participants  *cache.ParticipantCache
	broadcaster   *services.Broadcaster
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(
	conversations *repo.ConversationRepository,
	participants *cache.ParticipantCache,
	broadcaster *services.Broadcaster,
) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		participants:  participants,
		broadcaster:   broadcaster,
	}
}

// CreateConversationRequest is the create payload. The creator is always a
// participant; direct conversations carry exactly two.
type CreateConversationRequest struct {
	Title          string      `json:"title"`
	Type           string      `json:"type" validate:"omitempty,oneof=direct group"`
	ParticipantIDs []uuid.UUID `json:"participant_ids" validate:"required,min=1"`
	RefType        string      `json:"ref_type"`
	RefID          *uuid.UUID  `json:"ref_id"`
}

// Create creates a conversation with its initial participant set atomically
func (h *ConversationHandler) Create(c echo.Context) error {
	userID := c.Get("user_id").(uuid.UUID)

	var req CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	convType := req.Type
	if convType == "" {
		convType = models.ConversationTypeDirect
	}

	userIDs := dedupe(append([]uuid.UUID{userID}, req.ParticipantIDs...))
	if convType == models.ConversationTypeDirect && len(userIDs) != 2 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "direct conversations require exactly two participants"})
	}

	conv := &models.Conversation{
		Title:   req.Title,
		Type:    convType,
		RefType: req.RefType,
		RefID:   req.RefID,
	}
	if err := h.conversations.CreateWithParticipants(conv, userIDs); err != nil {
		return respondError(c, err)
	}

	for _, id := range userIDs {
		if id != userID {
			h.broadcaster.NotifyUser(id, "Added to a conversation", conv.Title)
		}
	}

	return c.JSON(http.StatusCreated, conv)
}

// List returns the authenticated user's inbox, ordered by last activity
func (h *ConversationHandler) List(c echo.Context) error {
	userID := c.Get("user_id").(uuid.UUID)

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit = repo.ClampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	result, err := h.conversations.ListByUser(userID, limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// GetByID returns one conversation the user participates in
func (h *ConversationHandler) GetByID(c echo.Context) error {
	userID := c.Get("user_id").(uuid.UUID)
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid ID format"})
	}

	if _, err := h.conversations.GetParticipant(conversationID, userID); err != nil {
		return respondError(c, repo.ErrForbidden)
	}

	conv, err := h.conversations.GetByID(conversationID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, conv)
}

// UpdateConversationRequest carries title/archive changes
type UpdateConversationRequest struct {
	Title      *string `json:"title"`
	IsArchived *bool   `json:"is_archived"`
}

// Update changes title or archive state and broadcasts conversation_updated
func (h *ConversationHandler) Update(c echo.Context) error {
	userID := c.Get("user_id").(uuid.UUID)
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid ID format"})
	}

	active, err := h.conversations.IsActiveParticipant(conversationID, userID)
	if err != nil {
		return respondError(c, err)
	}
	if !active {
		return respondError(c, repo.ErrForbidden)
	}

	var req UpdateConversationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	conv, err := h.conversations.GetByID(conversationID)
	if err != nil {
		return respondError(c, err)
	}

	if req.Title != nil {
		conv.Title = *req.Title
	}
	if req.IsArchived != nil {
		conv.IsArchived = *req.IsArchived
	}
	if err := h.conversations.Update(conv); err != nil {
		return respondError(c, err)
	}

	h.broadcaster.ConversationUpdated(c.Request().Context(), userID, conv)

	return c.JSON(http.StatusOK, conv)
}

// Participants lists membership rows for a conversation
func (h *ConversationHandler) Participants(c echo.Context) error {
	userID := c.Get("user_id").(uuid.UUID)
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid ID format"})
	}

	if _, err := h.conversations.GetParticipant(conversationID, userID); err != nil {
		return respondError(c, repo.ErrForbidden)
	}

	participants, err := h.conversations.Participants(conversationID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, participants)
}

// AddParticipantRequest carries an invite
type AddParticipantRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	Role   string    `json:"role" validate:"omitempty,oneof=participant admin"`
}

// AddParticipant invites a user. Duplicate invites are no-ops. The cache entry
// is invalidated before the operation reports success.
func (h *ConversationHandler) AddParticipant(c echo.Context) error {
	userID := c.Get("user_id").(uuid.UUID)
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid ID format"})
	}

	active, err := h.conversations.IsActiveParticipant(conversationID, userID)
	if err != nil {
		return respondError(c, err)
	}
	if !active {
		return respondError(c, repo.ErrForbidden)
	}

	var req AddParticipantRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if err := h.conversations.AddParticipant(conversationID, req.UserID, req.Role); err != nil {
		return respondError(c, err)
	}
	h.participants.Invalidate(conversationID)

	h.broadcaster.NotifyUser(req.UserID, "Added to a conversation", "")

	return c.JSON(http.StatusOK, map[string]string{"status": "added"})
}

// RemoveParticipant transitions a membership to removed. Invalidation happens
// before success is reported, so the removed user cannot ride the stale cache.
func (h *ConversationHandler) RemoveParticipant(c echo.Context) error {
	userID := c.Get("user_id").(uuid.UUID)
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid ID format"})
	}
	targetID, err := uuid.Parse(c.Param("userID"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid user ID format"})
	}

	actor, err := h.conversations.GetParticipant(conversationID, userID)
	if err != nil || actor.Status != models.ParticipantStatusActive || actor.Role != models.ParticipantRoleAdmin {
		return respondError(c, repo.ErrForbidden)
	}

	if err := h.conversations.SetParticipantStatus(conversationID, targetID, models.ParticipantStatusRemoved); err != nil {
		return respondError(c, err)
	}
	h.participants.Invalidate(conversationID)

	return c.JSON(http.StatusOK, map[string]string{"status": "removed"})
}

// Leave transitions the caller's own membership to left
func (h *ConversationHandler) Leave(c echo.Context) error {
	userID := c.Get("user_id").(uuid.UUID)
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid ID format"})
	}

	if err := h.conversations.SetParticipantStatus(conversationID, userID, models.ParticipantStatusLeft); err != nil {
		return respondError(c, err)
	}
	h.participants.Invalidate(conversationID)

	return c.JSON(http.StatusOK, map[string]string{"status": "left"})
}

// dedupe returns the ids with duplicates removed, first occurrence wins. The
// input slice is left untouched.
func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
