package app

import (
	"parley/internal/auth"
	"parley/internal/cache"
	"parley/internal/repo"
	"parley/internal/services"
	"parley/internal/ws"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Services holds all application services
type Services struct {
	DB               *gorm.DB
	AuthService      *auth.Service
	UserRepo         *repo.UserRepository
	ConversationRepo *repo.ConversationRepository
	MessageRepo      *repo.MessageRepository
	ReceiptRepo      *repo.ReceiptRepository
	FileRepo         *repo.MessageFileRepository
	ParticipantCache *cache.ParticipantCache
	Registry         *ws.Registry
	Broadcaster      *services.Broadcaster
	Reconciler       *services.UnreadReconciler
	StorageService   *services.StorageService
	Emitter          services.NotificationEmitter
}

// NewServices creates a new services container
func NewServices(db *gorm.DB) *Services {
	userRepo := repo.NewUserRepository(db)
	conversationRepo := repo.NewConversationRepository(db)
	messageRepo := repo.NewMessageRepository(db)
	receiptRepo := repo.NewReceiptRepository(db)
	fileRepo := repo.NewMessageFileRepository(db)

	authService := auth.NewService(userRepo)

	participantCache := cache.NewParticipantCache(conversationRepo, cache.DefaultTTL)
	registry := ws.NewRegistry()

	var emitter services.NotificationEmitter
	emailEmitter, err := services.NewEmailEmitter(userRepo)
	if err != nil {
		log.Warn().Err(err).Msg("offline notifications disabled")
		emitter = services.NoopEmitter{}
	} else {
		emitter = emailEmitter
	}

	broadcaster := services.NewBroadcaster(conversationRepo, messageRepo, receiptRepo, participantCache, registry, emitter)
	reconciler := services.NewUnreadReconciler(conversationRepo, receiptRepo, services.DefaultReconcileInterval)

	storageService, err := services.NewStorageService()
	if err != nil {
		log.Warn().Err(err).Msg("attachment storage disabled")
		storageService = nil
	}

	return &Services{
		DB:               db,
		AuthService:      authService,
		UserRepo:         userRepo,
		ConversationRepo: conversationRepo,
		MessageRepo:      messageRepo,
		ReceiptRepo:      receiptRepo,
		FileRepo:         fileRepo,
		ParticipantCache: participantCache,
		Registry:         registry,
		Broadcaster:      broadcaster,
		Reconciler:       reconciler,
		StorageService:   storageService,
		Emitter:          emitter,
	}
}
