package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat/internal/dto"
	"github.com/noah-isme/gema-chat/internal/repository"
)

const accountCachePrefix = "chat:account:"

// AccountDirectory resolves user ids to account profiles.
type AccountDirectory interface {
	Get(ctx context.Context, id string) (dto.Account, error)
	Resolve(ctx context.Context, ids []string) (map[string]dto.Account, error)
}

type accountDirectory struct {
	repo   repository.AccountRepository
	cache  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewAccountDirectory constructs a directory backed by the account table. Lookups are
// cached in redis for ttl when a client is provided.
func NewAccountDirectory(repo repository.AccountRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) AccountDirectory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &accountDirectory{
		repo:   repo,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With().Str("component", "account_directory").Logger(),
	}
}

func (d *accountDirectory) Get(ctx context.Context, id string) (dto.Account, error) {
	accounts, err := d.Resolve(ctx, []string{id})
	if err != nil {
		return dto.Account{}, err
	}
	account, ok := accounts[strings.TrimSpace(id)]
	if !ok {
		return dto.Account{}, ErrAccountNotFound
	}
	return account, nil
}

// Resolve returns the accounts that exist. Unknown ids are absent from the map.
func (d *accountDirectory) Resolve(ctx context.Context, ids []string) (map[string]dto.Account, error) {
	result := make(map[string]dto.Account, len(ids))
	missing := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))

	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		if account, ok := d.fromCache(ctx, id); ok {
			result[id] = account
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) == 0 {
		return result, nil
	}

	models, err := d.repo.ListByIDs(ctx, missing)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	for _, model := range models {
		account := dto.NewAccount(model)
		result[account.ID] = account
		d.store(ctx, account)
	}

	return result, nil
}

func (d *accountDirectory) fromCache(ctx context.Context, id string) (dto.Account, bool) {
	if d.cache == nil {
		return dto.Account{}, false
	}

	cached, err := d.cache.Get(ctx, accountCachePrefix+id).Result()
	if err != nil {
		if err != redis.Nil {
			d.logger.Warn().Err(err).Str("user_id", id).Msg("failed to read account cache")
		}
		return dto.Account{}, false
	}

	var account dto.Account
	if err := json.Unmarshal([]byte(cached), &account); err != nil {
		d.logger.Warn().Err(err).Str("user_id", id).Msg("invalid cached account")
		return dto.Account{}, false
	}
	return account, true
}

func (d *accountDirectory) store(ctx context.Context, account dto.Account) {
	if d.cache == nil {
		return
	}

	payload, err := json.Marshal(account)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, accountCachePrefix+account.ID, payload, d.ttl).Err(); err != nil {
		d.logger.Warn().Err(err).Str("user_id", account.ID).Msg("failed to store account cache")
	}
}
