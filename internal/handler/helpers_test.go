package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat/internal/database"
	"github.com/noah-isme/gema-chat/internal/handler"
	"github.com/noah-isme/gema-chat/internal/middleware"
	"github.com/noah-isme/gema-chat/internal/models"
	"github.com/noah-isme/gema-chat/internal/realtime"
	"github.com/noah-isme/gema-chat/internal/repository"
	"github.com/noah-isme/gema-chat/internal/service"
)

const testUserHeader = "X-Test-User"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
	Details json.RawMessage `json:"details"`
	Message string          `json:"message"`
}

type chatStack struct {
	app     *fiber.App
	service service.ChatService
	gateway *realtime.Gateway
}

// newChatStack wires the real chat service and an unrelayed gateway behind the REST
// handlers. Requests pick their caller through the X-Test-User header.
func newChatStack(t *testing.T, sendLimit fiber.Handler, accounts ...string) *chatStack {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	for _, id := range accounts {
		require.NoError(t, db.Create(&models.Account{ID: id, FirstName: "User", LastName: id, Email: id + "@example.com"}).Error)
	}

	logger := zerolog.Nop()
	gateway := realtime.NewGateway(nil, nil, realtime.Options{PingInterval: time.Minute}, nil, logger)
	directory := service.NewAccountDirectory(repository.NewAccountRepository(db), nil, time.Minute, logger)
	chatService := service.NewChatService(
		repository.NewChatRepository(db),
		repository.NewMessageRepository(db),
		directory,
		gateway,
		nil,
		validator.New(),
		logger,
	)
	gateway.Bind(chatService)

	app := fiber.New()
	app.Use(middleware.CorrelationID())
	group := app.Group("/api/v2/chat", func(c *fiber.Ctx) error {
		if id := c.Get(testUserHeader); id != "" {
			c.Locals("user_id", id)
		}
		return c.Next()
	})
	handler.NewChatHandler(chatService, logger).Register(group)
	handler.NewMessageHandler(chatService, 50, logger).Register(group, sendLimit)

	return &chatStack{app: app, service: chatService, gateway: gateway}
}

func (s *chatStack) do(t *testing.T, method, path, userID string, body interface{}) (*http.Response, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(testUserHeader, userID)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)

	var out envelope
	decodeResponse(t, resp, &out)
	return resp, out
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(data, target))
}

func decodeData(t *testing.T, env envelope, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, target))
}

func errorCode(t *testing.T, env envelope) string {
	t.Helper()
	var details struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(env.Details, &details))
	return details.Code
}
