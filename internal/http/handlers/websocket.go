package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"parley/internal/auth"
	"parley/internal/repo"
	"parley/internal/services"
	"parley/internal/ws"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// Upgrader configures the websocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow connections from any origin in development
		// In production, check against allowed origins
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocketHandler upgrades authenticated clients and dispatches their events
// into the broadcaster. One goroutine per connection reads inbound events;
// outbound pushes go through each connection's buffered write pump.
type WebSocketHandler struct {
	registry    *ws.Registry
	broadcaster *services.Broadcaster
	authService *auth.Service
	users       *repo.UserRepository

	mu     sync.Mutex
	joined map[string]map[uuid.UUID]bool // connID -> joined conversation set
}

// NewWebSocketHandler creates a new websocket handler
func NewWebSocketHandler(registry *ws.Registry, broadcaster *services.Broadcaster, authService *auth.Service, users *repo.UserRepository) *WebSocketHandler {
	return &WebSocketHandler{
		registry:    registry,
		broadcaster: broadcaster,
		authService: authService,
		users:       users,
		joined:      make(map[string]map[uuid.UUID]bool),
	}
}

// HandleWebSocket handles websocket connection upgrades. The identity is
// resolved before any event reaches the core: either the JWT middleware ran,
// or the token arrives as a query parameter.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	var userID uuid.UUID

	if uid, ok := c.Get("user_id").(uuid.UUID); ok {
		userID = uid
	} else {
		token := c.QueryParam("token")
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Missing authorization token")
		}
		claims, err := h.authService.ValidateToken(token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
		}
		userID = claims.UserID
	}

	userName := ""
	if user, err := h.users.GetByID(userID); err == nil {
		userName = user.Name
	}

	socket, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return err
	}

	conn := ws.NewConnection(userID, socket)
	cameOnline := h.registry.Register(conn)
	conn.Start()

	_ = conn.Send(ws.NewEvent(ws.EventConnected, map[string]string{"status": "connected"}))
	log.Info().Str("user_id", userID.String()).Str("conn_id", conn.ConnID()).Msg("websocket client connected")

	if cameOnline {
		h.broadcaster.PresenceChanged(context.Background(), userID, true)
	}

	go h.serve(conn, userID, userName)

	return nil
}

// serve runs the connection's read loop to completion, then tears down
// registration and presence. In-flight pushes to the dropped connection are
// abandoned; the client catches up via pagination on reconnect.
func (h *WebSocketHandler) serve(conn *ws.Connection, userID uuid.UUID, userName string) {
	conn.ReadLoop(
		func(env ws.Envelope) { h.dispatch(conn, userID, userName, env) },
		func(err error) {
			_ = conn.Send(ws.NewEvent(ws.EventError, ws.ErrorPayload{Code: "validation", Message: err.Error()}))
		},
	)

	h.mu.Lock()
	delete(h.joined, conn.ConnID())
	h.mu.Unlock()

	wentOffline := h.registry.Unregister(conn)
	log.Info().Str("user_id", userID.String()).Str("conn_id", conn.ConnID()).Msg("websocket client disconnected")

	if wentOffline {
		if err := h.users.TouchLastSeen(userID); err != nil {
			log.Warn().Err(err).Str("user_id", userID.String()).Msg("failed to record last seen")
		}
		h.broadcaster.PresenceChanged(context.Background(), userID, false)
	}
}

// dispatch routes one validated client event. Errors go back to the offending
// connection only and never tear it down.
func (h *WebSocketHandler) dispatch(conn *ws.Connection, userID uuid.UUID, userName string, env ws.Envelope) {
	ctx := context.Background()

	switch env.Type {
	case ws.EventJoinConversation:
		var ref ws.ConversationRef
		_ = json.Unmarshal(env.Payload, &ref)
		h.handleJoin(ctx, conn, userID, ref.ConversationID)

	case ws.EventLeaveConversation:
		var ref ws.ConversationRef
		_ = json.Unmarshal(env.Payload, &ref)
		h.mu.Lock()
		if set := h.joined[conn.ConnID()]; set != nil {
			delete(set, ref.ConversationID)
		}
		h.mu.Unlock()

	case ws.EventTypingStart, ws.EventTypingStop:
		var ref ws.ConversationRef
		_ = json.Unmarshal(env.Payload, &ref)
		if !h.hasJoined(conn, ref.ConversationID) {
			h.sendError(conn, "forbidden", "join the conversation before typing events")
			return
		}
		err := h.broadcaster.NotifyTyping(ctx, ref.ConversationID, userID, userName, env.Type == ws.EventTypingStart)
		if err != nil {
			h.replyError(conn, err)
		}

	case ws.EventMarkRead:
		var req ws.MarkReadRequest
		_ = json.Unmarshal(env.Payload, &req)
		if err := h.broadcaster.MarkRead(ctx, req.ConversationID, userID, req.MessageID); err != nil {
			h.replyError(conn, err)
		}
	}
}

// handleJoin validates membership before the connection may emit ephemeral
// events for the conversation
func (h *WebSocketHandler) handleJoin(ctx context.Context, conn *ws.Connection, userID, conversationID uuid.UUID) {
	ids, err := h.broadcaster.Participants(ctx, conversationID)
	if err != nil {
		h.replyError(conn, err)
		return
	}
	member := false
	for _, id := range ids {
		if id == userID {
			member = true
			break
		}
	}
	if !member {
		h.sendError(conn, "forbidden", "not a participant of this conversation")
		return
	}

	h.mu.Lock()
	set := h.joined[conn.ConnID()]
	if set == nil {
		set = make(map[uuid.UUID]bool)
		h.joined[conn.ConnID()] = set
	}
	set[conversationID] = true
	h.mu.Unlock()
}

func (h *WebSocketHandler) hasJoined(conn *ws.Connection, conversationID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.joined[conn.ConnID()][conversationID]
}

func (h *WebSocketHandler) replyError(conn *ws.Connection, err error) {
	code := "internal"
	switch {
	case errors.Is(err, repo.ErrValidation):
		code = "validation"
	case errors.Is(err, repo.ErrForbidden):
		code = "forbidden"
	case errors.Is(err, repo.ErrNotFound):
		code = "not_found"
	}
	h.sendError(conn, code, err.Error())
}

func (h *WebSocketHandler) sendError(conn *ws.Connection, code, message string) {
	_ = conn.Send(ws.NewEvent(ws.EventError, ws.ErrorPayload{Code: code, Message: message}))
}
