package handler_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat/internal/dto"
	"github.com/noah-isme/gema-chat/internal/handler"
	"github.com/noah-isme/gema-chat/internal/middleware"
)

const socketSecret = "socket-test-secret"

type socketFrame struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"requestId"`
}

func issueToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(socketSecret))
	require.NoError(t, err)
	return signed
}

// startSocketServer serves the realtime and REST routes on a real listener, authenticated
// with HS256 tokens the way production wires them.
func startSocketServer(t *testing.T, accounts ...string) (string, *chatStack) {
	t.Helper()

	stack := newChatStack(t, nil, accounts...)
	tokens := middleware.NewTokenValidator(socketSecret)
	logger := zerolog.Nop()

	app := fiber.New()
	app.Use(middleware.CorrelationID())
	handler.NewRealtimeHandler(stack.gateway, tokens, nil, logger).RegisterSocket(app.Group("/api/v2/chat"))
	protected := app.Group("/api/v2/chat", tokens.Protected())
	handler.NewChatHandler(stack.service, logger).Register(protected)
	handler.NewRealtimeHandler(stack.gateway, tokens, nil, logger).RegisterPresence(protected)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	t.Cleanup(func() {
		_ = app.Shutdown()
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	})

	return "http://" + listener.Addr().String(), stack
}

type socketClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialSocket(t *testing.T, baseURL, userID string) *socketClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/v2/chat/ws?token=" + issueToken(t, userID)
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	conn, resp, err := dialer.Dial(url, http.Header{"X-Correlation-ID": {"socket-" + userID}})
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	client := &socketClient{t: t, conn: conn}
	client.send("ping", nil, "ready")
	client.expect("pong")
	return client
}

func (s *socketClient) send(event string, data interface{}, requestID string) {
	s.t.Helper()
	frame := map[string]interface{}{"event": event}
	if data != nil {
		frame["data"] = data
	}
	if requestID != "" {
		frame["requestId"] = requestID
	}
	require.NoError(s.t, s.conn.WriteJSON(frame))
}

// expect reads frames until one with the given event arrives.
func (s *socketClient) expect(event string) socketFrame {
	s.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(s.t, s.conn.SetReadDeadline(deadline))
		var frame socketFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			s.t.Fatalf("waiting for %q: %v", event, err)
		}
		if frame.Event == event {
			return frame
		}
	}
}

func TestRealtimeHandshakeRequiresToken(t *testing.T) {
	baseURL, _ := startSocketServer(t, "alice")
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/v2/chat/ws"

	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	for _, suffix := range []string{"", "?token=garbage"} {
		conn, resp, err := dialer.Dial(wsURL+suffix, nil)
		require.Error(t, err)
		require.Nil(t, conn)
		require.NotNil(t, resp)
		require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		_ = resp.Body.Close()
	}

	resp, err := http.Get(baseURL + "/api/v2/chat/ws?token=" + issueToken(t, "alice"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestRealtimeMessageRoundTrip(t *testing.T) {
	baseURL, _ := startSocketServer(t, "alice", "bob")
	alice := dialSocket(t, baseURL, "alice")
	bob := dialSocket(t, baseURL, "bob")

	body, err := json.Marshal(dto.CreateDirectChatRequest{ParticipantID: "bob"})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/v2/chat/chats/direct", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+issueToken(t, "alice"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var created struct {
		Data dto.ChatResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	_ = resp.Body.Close()
	chatID := created.Data.ID

	var updated dto.ChatUpdatedPayload
	require.NoError(t, json.Unmarshal(bob.expect(dto.EventChatUpdated).Data, &updated))
	require.Equal(t, chatID, updated.Chat.ID)

	alice.send(dto.EventMessage, map[string]interface{}{"chat_id": chatID, "content": "hello bob"}, "m1")
	ack := alice.expect(dto.EventAck)
	require.Equal(t, "m1", ack.RequestID)

	var received dto.MessageResponse
	require.NoError(t, json.Unmarshal(bob.expect(dto.EventMessage).Data, &received))
	require.Equal(t, "hello bob", received.Content)
	require.Equal(t, "alice", received.SenderID)

	var status dto.MessageStatusPayload
	require.NoError(t, json.Unmarshal(alice.expect(dto.EventMessageStatus).Data, &status))
	require.Equal(t, received.ID, status.MessageID)
	require.Equal(t, "delivered", status.Status)

	bob.send(dto.EventTyping, map[string]interface{}{"chat_id": chatID, "is_typing": true}, "")
	var typing dto.TypingPayload
	require.NoError(t, json.Unmarshal(alice.expect(dto.EventTyping).Data, &typing))
	require.Equal(t, "bob", typing.UserID)
	require.True(t, typing.IsTyping)

	bob.send(dto.EventJoinChat, map[string]interface{}{"chat_id": chatID + 100}, "j1")
	var failure dto.ErrorPayload
	require.NoError(t, json.Unmarshal(bob.expect(dto.EventError).Data, &failure))
	require.Equal(t, dto.EventJoinChat, failure.Event)
	require.Equal(t, "not_found", failure.Code)

	presenceReq, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/v2/chat/users/%s/presence", baseURL, "bob"), nil)
	require.NoError(t, err)
	presenceReq.Header.Set("Authorization", "Bearer "+issueToken(t, "alice"))
	resp, err = http.DefaultClient.Do(presenceReq)
	require.NoError(t, err)
	var presence struct {
		Data dto.PresenceResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&presence))
	_ = resp.Body.Close()
	require.True(t, presence.Data.Online)

	require.NoError(t, bob.conn.Close())
	var offline dto.UserStatusPayload
	require.NoError(t, json.Unmarshal(alice.expect(dto.EventUserStatus).Data, &offline))
	require.Equal(t, "bob", offline.UserID)
	require.Equal(t, dto.PresenceOffline, offline.Status)
}
