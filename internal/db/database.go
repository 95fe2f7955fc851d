package db

import (
	"fmt"
	"os"

	"parley/pkg/models"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase creates a new database connection
func NewDatabase() (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_SSLMODE"),
		os.Getenv("DB_TIMEZONE"),
	)

	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	}

	database, err := gorm.Open(postgres.Open(dsn), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return database, nil
}

// RunMigrations runs GORM AutoMigrate and creates the custom indexes the
// hot-path queries depend on
func RunMigrations(database *gorm.DB) error {
	if err := database.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
		log.Warn().Err(err).Msg("could not create uuid-ossp extension")
	}

	if err := database.AutoMigrate(models.GetAllModels()...); err != nil {
		return fmt.Errorf("failed to run AutoMigrate: %w", err)
	}

	if err := createCustomIndexes(database); err != nil {
		log.Warn().Err(err).Msg("failed to create some custom indexes")
	}

	return nil
}

// createCustomIndexes creates indexes GORM tags cannot express
func createCustomIndexes(database *gorm.DB) error {
	indexes := []string{
		// Composite ordering key: keyset pagination and per-conversation
		// ordered delivery both walk this index.
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_order ON messages (conversation_id, created_at, id)`,

		// Inbox ordering for the open-inbox join
		`CREATE INDEX IF NOT EXISTS idx_conversations_last_message ON conversations (last_message_at DESC NULLS LAST)`,

		// Unread recount scans visible messages only
		`CREATE INDEX IF NOT EXISTS idx_messages_visible ON messages (conversation_id, created_at) WHERE removed_at IS NULL`,

		// Attachment listing, most recent first
		`CREATE INDEX IF NOT EXISTS idx_message_files_conversation ON message_files (conversation_id, created_at DESC)`,
	}

	for _, index := range indexes {
		if err := database.Exec(index).Error; err != nil {
			return err
		}
	}
	return nil
}
