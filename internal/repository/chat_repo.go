package repository

import (
	"context"
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat/internal/models"
)

// ChatInfoUpdate carries optional group profile changes. Nil fields are left untouched.
type ChatInfoUpdate struct {
	Name        *string
	Avatar      *string
	Description *string
}

// ChatRepository persists chats, their members, block pairs and the last message preview.
type ChatRepository interface {
	Create(ctx context.Context, chat *models.Chat) error
	GetByID(ctx context.Context, id uint) (models.Chat, error)
	FindDirect(ctx context.Context, a, b string) (models.Chat, error)
	ListForUser(ctx context.Context, userID string) ([]models.Chat, error)
	ChatIDsForUser(ctx context.Context, userID string) ([]uint, error)
	AddParticipant(ctx context.Context, chatID uint, userID string) (bool, error)
	RemoveParticipant(ctx context.Context, chatID uint, userID string) (bool, error)
	SetAdmin(ctx context.Context, chatID uint, userID string, isAdmin bool) error
	UpdateSettings(ctx context.Context, chatID uint, settings models.GroupSettings) error
	UpdateInfo(ctx context.Context, chatID uint, update ChatInfoUpdate) error
	SetLastMessage(ctx context.Context, chatID uint, preview models.LastMessage) error
	RefreshLastMessage(ctx context.Context, chatID uint, preview models.LastMessage) (bool, error)
	Touch(ctx context.Context, chatID uint) error
	ToggleBlock(ctx context.Context, chatID uint, blockerID, blockedID string) (bool, error)
	Delete(ctx context.Context, chatID uint) error
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository constructs a chat repository backed by GORM.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) Create(ctx context.Context, chat *models.Chat) error {
	return r.db.WithContext(ctx).Create(chat).Error
}

func (r *chatRepository) withMembers(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Preload("Blocks")
}

func (r *chatRepository) GetByID(ctx context.Context, id uint) (models.Chat, error) {
	var chat models.Chat
	if err := r.withMembers(ctx).First(&chat, id).Error; err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

func (r *chatRepository) FindDirect(ctx context.Context, a, b string) (models.Chat, error) {
	var chat models.Chat
	err := r.withMembers(ctx).
		Where("type = ? AND direct_key = ?", models.ChatTypeDirect, models.DirectChatKey(a, b)).
		First(&chat).Error
	if err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

func (r *chatRepository) ListForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	membership := r.db.Model(&models.ChatParticipant{}).Select("chat_id").Where("user_id = ?", userID)

	var chats []models.Chat
	err := r.withMembers(ctx).
		Where("id IN (?)", membership).
		Order("updated_at DESC").
		Order("id DESC").
		Find(&chats).Error
	if err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *chatRepository) ChatIDsForUser(ctx context.Context, userID string) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.ChatParticipant{}).
		Where("user_id = ?", userID).
		Order("chat_id ASC").
		Pluck("chat_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *chatRepository) AddParticipant(ctx context.Context, chatID uint, userID string) (bool, error) {
	added := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.ChatParticipant{}).
			Where("chat_id = ? AND user_id = ?", chatID, userID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}

		var next int
		if err := tx.Model(&models.ChatParticipant{}).
			Where("chat_id = ?", chatID).
			Select("COALESCE(MAX(position), -1) + 1").
			Scan(&next).Error; err != nil {
			return err
		}

		member := models.ChatParticipant{ChatID: chatID, UserID: userID, Position: next, JoinedAt: tx.NowFunc()}
		if err := tx.Create(&member).Error; err != nil {
			return err
		}
		added = true
		return touch(tx, chatID)
	})
	return added, err
}

func (r *chatRepository) RemoveParticipant(ctx context.Context, chatID uint, userID string) (bool, error) {
	removed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("chat_id = ? AND user_id = ?", chatID, userID).Delete(&models.ChatParticipant{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		removed = true
		return touch(tx, chatID)
	})
	return removed, err
}

func (r *chatRepository) SetAdmin(ctx context.Context, chatID uint, userID string, isAdmin bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ChatParticipant{}).
			Where("chat_id = ? AND user_id = ?", chatID, userID).
			Update("is_admin", isAdmin)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return touch(tx, chatID)
	})
}

func (r *chatRepository) UpdateSettings(ctx context.Context, chatID uint, settings models.GroupSettings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return r.updateChat(ctx, chatID, map[string]interface{}{"settings": datatypes.JSON(payload)})
}

func (r *chatRepository) UpdateInfo(ctx context.Context, chatID uint, update ChatInfoUpdate) error {
	values := map[string]interface{}{}
	if update.Name != nil {
		values["name"] = *update.Name
	}
	if update.Avatar != nil {
		values["avatar"] = *update.Avatar
	}
	if update.Description != nil {
		values["description"] = *update.Description
	}
	if len(values) == 0 {
		return r.Touch(ctx, chatID)
	}
	return r.updateChat(ctx, chatID, values)
}

// SetLastMessage caches preview for a newly sent message and bumps the chat's activity.
// A preview older than the cached one never replaces it.
func (r *chatRepository) SetLastMessage(ctx context.Context, chatID uint, preview models.LastMessage) error {
	payload, err := json.Marshal(preview)
	if err != nil {
		return err
	}

	db := r.db.WithContext(ctx)
	result := db.Model(&models.Chat{}).
		Where("id = ? AND last_message_id <= ?", chatID, preview.ID).
		Updates(map[string]interface{}{
			"last_message":    datatypes.JSON(payload),
			"last_message_id": preview.ID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return touch(db, chatID)
	}
	return nil
}

// RefreshLastMessage rewrites the cached preview only while it still describes
// preview.ID. It reports whether the row changed and leaves updated_at alone.
func (r *chatRepository) RefreshLastMessage(ctx context.Context, chatID uint, preview models.LastMessage) (bool, error) {
	payload, err := json.Marshal(preview)
	if err != nil {
		return false, err
	}

	result := r.db.WithContext(ctx).
		Model(&models.Chat{}).
		Where("id = ? AND last_message_id = ?", chatID, preview.ID).
		UpdateColumn("last_message", datatypes.JSON(payload))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *chatRepository) Touch(ctx context.Context, chatID uint) error {
	return touch(r.db.WithContext(ctx), chatID)
}

func (r *chatRepository) ToggleBlock(ctx context.Context, chatID uint, blockerID, blockedID string) (bool, error) {
	blocked := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("chat_id = ? AND blocker_id = ? AND blocked_id = ?", chatID, blockerID, blockedID).
			Delete(&models.ChatBlock{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			block := models.ChatBlock{ChatID: chatID, BlockerID: blockerID, BlockedID: blockedID}
			if err := tx.Create(&block).Error; err != nil {
				return err
			}
			blocked = true
		}
		return touch(tx, chatID)
	})
	return blocked, err
}

func (r *chatRepository) Delete(ctx context.Context, chatID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		messageIDs := tx.Model(&models.Message{}).Select("id").Where("chat_id = ?", chatID)

		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&models.MessageReaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&models.MessageDeletion{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&models.ChatBlock{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&models.ChatParticipant{}).Error; err != nil {
			return err
		}

		result := tx.Delete(&models.Chat{}, chatID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func (r *chatRepository) updateChat(ctx context.Context, chatID uint, values map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.Chat{}).Where("id = ?", chatID).Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func touch(db *gorm.DB, chatID uint) error {
	result := db.Model(&models.Chat{}).Where("id = ?", chatID).UpdateColumn("updated_at", db.NowFunc())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
