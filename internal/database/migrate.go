package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat/internal/models"
)

// Migrate creates or updates the chat schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Account{},
		&models.Chat{},
		&models.ChatParticipant{},
		&models.ChatBlock{},
		&models.Message{},
		&models.MessageReaction{},
		&models.MessageDeletion{},
		&models.UploadRecord{},
	); err != nil {
		return fmt.Errorf("failed to migrate chat schema: %w", err)
	}
	return nil
}
