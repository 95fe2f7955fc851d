package handlers

import (
	"errors"
	"net/http"

	"parley/internal/repo"
	"parley/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// requireMember resolves the conversation's active participant set and returns
// ErrForbidden when the user is not in it.
func requireMember(c echo.Context, broadcaster *services.Broadcaster, conversationID, userID uuid.UUID) error {
	participantIDs, err := broadcaster.Participants(c.Request().Context(), conversationID)
	if err != nil {
		return err
	}
	for _, id := range participantIDs {
		if id == userID {
			return nil
		}
	}
	return repo.ErrForbidden
}

// respondError maps a domain error onto the HTTP surface. Unclassified errors
// are treated as transient store failures: the client may retry.
func respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repo.ErrValidation):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, repo.ErrForbidden):
		return c.JSON(http.StatusForbidden, map[string]string{"error": "not an active participant"})
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"error":     "temporary failure, please retry",
			"retryable": true,
		})
	}
}
