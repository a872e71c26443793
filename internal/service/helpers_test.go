package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat/internal/dto"
	"github.com/noah-isme/gema-chat/internal/models"
	"github.com/noah-isme/gema-chat/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []dto.ChatEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event dto.ChatEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) named(name string) []dto.ChatEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]dto.ChatEvent, 0)
	for _, event := range p.events {
		if event.Name == name {
			out = append(out, event)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type auditEntry struct {
	action  string
	actorID string
	chatID  uint
	attrs   map[string]string
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (a *recordingAudit) Record(_ context.Context, action, actorID string, chatID uint, attrs map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{action: action, actorID: actorID, chatID: chatID, attrs: attrs})
}

type chatHarness struct {
	db       *gorm.DB
	chats    repository.ChatRepository
	messages repository.MessageRepository
	events   *recordingPublisher
	audit    *recordingAudit
	service  ChatService
	redis    *miniredis.Miniredis
	accounts AccountDirectory
}

func newChatHarness(t *testing.T, accounts ...string) *chatHarness {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Account{},
		&models.Chat{},
		&models.ChatParticipant{},
		&models.ChatBlock{},
		&models.Message{},
		&models.MessageReaction{},
		&models.MessageDeletion{},
		&models.UploadRecord{},
	))

	for _, id := range accounts {
		require.NoError(t, db.Create(&models.Account{
			ID:        id,
			FirstName: "User",
			LastName:  id,
			Email:     id + "@example.com",
			Avatar:    "https://cdn.example.com/" + id + ".png",
		}).Error)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := &chatHarness{
		db:       db,
		chats:    repository.NewChatRepository(db),
		messages: repository.NewMessageRepository(db),
		events:   &recordingPublisher{},
		audit:    &recordingAudit{},
		redis:    mr,
	}
	h.accounts = NewAccountDirectory(repository.NewAccountRepository(db), client, time.Minute, testLogger())
	h.service = NewChatService(h.chats, h.messages, h.accounts, h.events, h.audit, validator.New(), testLogger())
	return h
}

// withChats rebuilds the service on top of chats, keeping the harness storage.
func (h *chatHarness) withChats(chats repository.ChatRepository) {
	h.service = NewChatService(chats, h.messages, h.accounts, h.events, h.audit, validator.New(), testLogger())
}

func (h *chatHarness) direct(t *testing.T, a, b string) dto.ChatResponse {
	t.Helper()
	chat, err := h.service.CreateDirectChat(context.Background(), a, dto.CreateDirectChatRequest{ParticipantID: b})
	require.NoError(t, err)
	return chat
}

func (h *chatHarness) group(t *testing.T, creator string, settings dto.GroupSettingsPayload, members ...string) dto.ChatResponse {
	t.Helper()
	chat, err := h.service.CreateGroupChat(context.Background(), creator, dto.CreateGroupChatRequest{
		Name:         "Team",
		Participants: members,
		Settings:     &settings,
	})
	require.NoError(t, err)
	return chat
}

func (h *chatHarness) send(t *testing.T, chatID uint, sender, content string) dto.MessageResponse {
	t.Helper()
	message, err := h.service.SendMessage(context.Background(), chatID, sender, dto.SendMessageRequest{Content: content})
	require.NoError(t, err)
	return message
}

func (h *chatHarness) chat(t *testing.T, chatID uint) models.Chat {
	t.Helper()
	chat, err := h.chats.GetByID(context.Background(), chatID)
	require.NoError(t, err)
	return chat
}

func (h *chatHarness) message(t *testing.T, messageID uint) models.Message {
	t.Helper()
	message, err := h.messages.GetByID(context.Background(), messageID)
	require.NoError(t, err)
	return message
}

func requireAdminsSubset(t *testing.T, chat models.Chat) {
	t.Helper()
	for _, admin := range chat.AdminIDs() {
		require.Contains(t, chat.ParticipantIDs(), admin)
	}
}
