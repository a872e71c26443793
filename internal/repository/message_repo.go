package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-chat/internal/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// MessageRepository persists messages, reactions and per-user deletions.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id uint) (models.Message, error)
	ListByChat(ctx context.Context, chatID uint, viewerID string, before time.Time, limit int) ([]models.Message, error)
	UpdateContent(ctx context.Context, id uint, content string) error
	DeleteForEveryone(ctx context.Context, id uint) error
	HideForUser(ctx context.Context, messageID uint, userID string) error
	HideChatForUser(ctx context.Context, chatID uint, userID string) (int64, error)
	UpsertReaction(ctx context.Context, reaction *models.MessageReaction) error
	RemoveReaction(ctx context.Context, messageID uint, userID string) (bool, error)
	AdvanceStatus(ctx context.Context, id uint, status models.MessageStatus) (bool, error)
	MarkChatRead(ctx context.Context, chatID uint, readerID string) ([]uint, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(message).Error
}

func (r *messageRepository) GetByID(ctx context.Context, id uint) (models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).
		Preload("Reactions", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		First(&message, id).Error
	if err != nil {
		return models.Message{}, err
	}
	return message, nil
}

func (r *messageRepository) ListByChat(ctx context.Context, chatID uint, viewerID string, before time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	query := r.db.WithContext(ctx).
		Preload("Reactions", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("chat_id = ?", chatID)
	if viewerID != "" {
		query = query.Where("NOT EXISTS (SELECT 1 FROM message_deletions md WHERE md.message_id = messages.id AND md.user_id = ?)", viewerID)
	}
	if !before.IsZero() {
		query = query.Where("created_at < ?", before)
	}

	var messages []models.Message
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}

	// Reverse to chronological order ascending for clients.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *messageRepository) UpdateContent(ctx context.Context, id uint, content string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND deleted_for_everyone = ?", id, false).
		Updates(map[string]interface{}{"content": content, "is_edited": true})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *messageRepository) DeleteForEveryone(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"content":              "",
			"attachments":          datatypes.JSON([]byte("[]")),
			"is_deleted":           true,
			"deleted_for_everyone": true,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *messageRepository) HideForUser(ctx context.Context, messageID uint, userID string) error {
	deletion := models.MessageDeletion{MessageID: messageID, UserID: userID}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&deletion).Error
}

func (r *messageRepository) HideChatForUser(ctx context.Context, chatID uint, userID string) (int64, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("chat_id = ?", chatID).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	deletions := make([]models.MessageDeletion, 0, len(ids))
	for _, id := range ids {
		deletions = append(deletions, models.MessageDeletion{MessageID: id, UserID: userID})
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&deletions, 200)
	return result.RowsAffected, result.Error
}

func (r *messageRepository) UpsertReaction(ctx context.Context, reaction *models.MessageReaction) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"emoji", "created_at"}),
		}).
		Create(reaction).Error
}

func (r *messageRepository) RemoveReaction(ctx context.Context, messageID uint, userID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		Delete(&models.MessageReaction{})
	return result.RowsAffected > 0, result.Error
}

// AdvanceStatus moves a message forward in its lifecycle. It reports false when the
// stored status is already at or past the requested one.
func (r *messageRepository) AdvanceStatus(ctx context.Context, id uint, status models.MessageStatus) (bool, error) {
	lower := status.PersistedBelow()
	if len(lower) == 0 {
		return false, nil
	}

	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND status IN ?", id, lower).
		Update("status", status)
	return result.RowsAffected > 0, result.Error
}

// MarkChatRead flips every unread message from other senders to read and returns their ids.
func (r *messageRepository) MarkChatRead(ctx context.Context, chatID uint, readerID string) ([]uint, error) {
	unread := models.MessageStatusRead.PersistedBelow()

	var ids []uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Message{}).
			Where("chat_id = ? AND sender_id <> ? AND status IN ?", chatID, readerID, unread).
			Order("id ASC").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&models.Message{}).
			Where("id IN ? AND status IN ?", ids, unread).
			Update("status", models.MessageStatusRead).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
