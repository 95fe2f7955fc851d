package handlers

import (
	"parley/internal/app"
	"parley/internal/http/middleware"

	"github.com/labstack/echo/v4"
)

// SetupRoutes configures all API routes
func SetupRoutes(api *echo.Group, services *app.Services) {
	authHandler := NewAuthHandler(services.AuthService, services.UserRepo)
	conversationHandler := NewConversationHandler(services.ConversationRepo, services.ParticipantCache, services.Broadcaster)
	messageHandler := NewMessageHandler(services.MessageRepo, services.Broadcaster)
	attachmentHandler := NewAttachmentHandler(services.FileRepo, services.StorageService, services.Broadcaster)
	wsHandler := NewWebSocketHandler(services.Registry, services.Broadcaster, services.AuthService, services.UserRepo)

	// Public routes
	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)

	// WebSocket upgrade authenticates via ?token= inside the handler
	api.GET("/ws", wsHandler.HandleWebSocket)

	// Protected routes
	protected := api.Group("", middleware.JWTAuth(services.AuthService))

	protected.GET("/auth/me", authHandler.Me)

	protected.POST("/conversations", conversationHandler.Create)
	protected.GET("/conversations", conversationHandler.List)
	protected.GET("/conversations/:id", conversationHandler.GetByID)
	protected.PATCH("/conversations/:id", conversationHandler.Update)
	protected.GET("/conversations/:id/participants", conversationHandler.Participants)
	protected.POST("/conversations/:id/participants", conversationHandler.AddParticipant)
	protected.DELETE("/conversations/:id/participants/:userID", conversationHandler.RemoveParticipant)
	protected.POST("/conversations/:id/leave", conversationHandler.Leave)

	protected.POST("/conversations/:id/messages", messageHandler.Send)
	protected.GET("/conversations/:id/messages", messageHandler.Page)
	protected.POST("/conversations/:id/read", messageHandler.MarkRead)
	protected.PATCH("/messages/:id", messageHandler.Edit)
	protected.DELETE("/messages/:id", messageHandler.Delete)

	protected.POST("/conversations/:id/attachments", attachmentHandler.Upload)
	protected.GET("/conversations/:id/attachments", attachmentHandler.List)
	protected.GET("/attachments/:fileID/versions", attachmentHandler.Versions)
}
