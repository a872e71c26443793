package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat/internal/models"
)

// AccountRepository reads user accounts for the chat directory.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (models.Account, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.Account, error)
}

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository constructs an account repository backed by GORM.
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		return models.Account{}, err
	}
	return account, nil
}

func (r *accountRepository) ListByIDs(ctx context.Context, ids []string) ([]models.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var accounts []models.Account
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}
