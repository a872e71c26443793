package handler_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat/internal/dto"
	"github.com/noah-isme/gema-chat/internal/middleware"
	"github.com/noah-isme/gema-chat/internal/service"
)

func createDirect(t *testing.T, stack *chatStack, a, b string) dto.ChatResponse {
	t.Helper()
	resp, body := stack.do(t, http.MethodPost, "/api/v2/chat/chats/direct", a, dto.CreateDirectChatRequest{ParticipantID: b})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var chat dto.ChatResponse
	decodeData(t, body, &chat)
	return chat
}

func sendText(t *testing.T, stack *chatStack, chatID uint, sender, content string) dto.MessageResponse {
	t.Helper()
	resp, body := stack.do(t, http.MethodPost, fmt.Sprintf("/api/v2/chat/chats/%d/messages", chatID), sender, dto.SendMessageRequest{Content: content})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, body.Message)
	var message dto.MessageResponse
	decodeData(t, body, &message)
	return message
}

func TestMessageHandlerHistoryPagination(t *testing.T) {
	stack := newChatStack(t, nil, "alice", "bob")
	chat := createDirect(t, stack, "alice", "bob")

	for _, content := range []string{"one", "two", "three"} {
		sendText(t, stack, chat.ID, "alice", content)
		time.Sleep(2 * time.Millisecond)
	}

	resp, body := stack.do(t, http.MethodGet, fmt.Sprintf("/api/v2/chat/chats/%d/messages?limit=2", chat.ID), "bob", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var page []dto.MessageResponse
	decodeData(t, body, &page)
	require.Len(t, page, 2)
	require.Equal(t, "two", page[0].Content)
	require.Equal(t, "three", page[1].Content)

	var meta struct {
		Count      int    `json:"count"`
		NextBefore string `json:"next_before"`
	}
	require.NoError(t, json.Unmarshal(body.Meta, &meta))
	require.Equal(t, 2, meta.Count)

	path := fmt.Sprintf("/api/v2/chat/chats/%d/messages?before=%s", chat.ID, url.QueryEscape(meta.NextBefore))
	resp, body = stack.do(t, http.MethodGet, path, "bob", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeData(t, body, &page)
	require.Len(t, page, 1)
	require.Equal(t, "one", page[0].Content)

	resp, _ = stack.do(t, http.MethodGet, fmt.Sprintf("/api/v2/chat/chats/%d/messages?before=yesterday", chat.ID), "bob", nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, body = stack.do(t, http.MethodGet, fmt.Sprintf("/api/v2/chat/chats/%d/messages?limit=500", chat.ID), "bob", nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Equal(t, service.CodeValidation, errorCode(t, body))
}

func TestMessageHandlerMutations(t *testing.T) {
	stack := newChatStack(t, nil, "alice", "bob", "carol")
	chat := createDirect(t, stack, "alice", "bob")
	original := sendText(t, stack, chat.ID, "alice", "hello")
	messagePath := fmt.Sprintf("/api/v2/chat/chats/%d/messages/%d", chat.ID, original.ID)

	resp, body := stack.do(t, http.MethodPatch, messagePath, "bob", dto.EditMessageRequest{Content: "hijack"})
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	require.Equal(t, service.CodeForbidden, errorCode(t, body))

	resp, body = stack.do(t, http.MethodPatch, messagePath, "alice", dto.EditMessageRequest{Content: "hello there"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var edited dto.MessageResponse
	decodeData(t, body, &edited)
	require.True(t, edited.IsEdited)
	require.Equal(t, "hello there", edited.Content)

	resp, body = stack.do(t, http.MethodPost, messagePath+"/reply", "bob", dto.ReplyMessageRequest{Content: "hey"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var reply dto.MessageResponse
	decodeData(t, body, &reply)
	require.NotNil(t, reply.ReplyTo)
	require.Equal(t, original.ID, reply.ReplyTo.MessageID)
	require.Equal(t, "hello there", reply.ReplyTo.Content)

	reactionPath := fmt.Sprintf("/api/v2/chat/messages/%d/reactions", original.ID)
	resp, body = stack.do(t, http.MethodPut, reactionPath, "bob", dto.ReactionRequest{Emoji: "👍"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var reacted dto.MessageResponse
	decodeData(t, body, &reacted)
	require.Len(t, reacted.Reactions, 1)
	require.Equal(t, "bob", reacted.Reactions[0].UserID)

	resp, body = stack.do(t, http.MethodDelete, reactionPath, "bob", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeData(t, body, &reacted)
	require.Empty(t, reacted.Reactions)

	resp, body = stack.do(t, http.MethodPost, messagePath+"/status", "bob", dto.MessageStatusRequest{Status: "delivered"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var status dto.MessageStatusPayload
	decodeData(t, body, &status)
	require.Equal(t, "delivered", status.Status)

	resp, body = stack.do(t, http.MethodPost, messagePath+"/status", "alice", dto.MessageStatusRequest{Status: "read"})
	require.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, service.CodeInvalidOperation, errorCode(t, body))

	resp, body = stack.do(t, http.MethodPost, fmt.Sprintf("/api/v2/chat/chats/%d/read", chat.ID), "bob", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var read dto.MarkReadResponse
	decodeData(t, body, &read)
	require.Equal(t, 1, read.Updated)

	target := createDirect(t, stack, "alice", "carol")
	resp, body = stack.do(t, http.MethodPost, fmt.Sprintf("/api/v2/chat/messages/%d/forward", original.ID), "alice", dto.ForwardMessageRequest{TargetChatID: target.ID})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var forwarded dto.MessageResponse
	decodeData(t, body, &forwarded)
	require.Equal(t, target.ID, forwarded.ChatID)
	require.NotNil(t, forwarded.ForwardedFrom)

	deletePath := fmt.Sprintf("/api/v2/chat/messages/%d?for_everyone=true", original.ID)
	resp, body = stack.do(t, http.MethodDelete, deletePath, "bob", nil)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	require.Equal(t, service.CodeForbidden, errorCode(t, body))

	resp, _ = stack.do(t, http.MethodDelete, deletePath, "alice", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, body = stack.do(t, http.MethodGet, fmt.Sprintf("/api/v2/chat/chats/%d", chat.ID), "bob", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var refreshed dto.ChatResponse
	decodeData(t, body, &refreshed)
	require.NotNil(t, refreshed.LastMessage)
	require.Equal(t, reply.ID, refreshed.LastMessage.ID)

	resp, body = stack.do(t, http.MethodPost, fmt.Sprintf("/api/v2/chat/messages/%d/forward", original.ID), "alice", dto.ForwardMessageRequest{TargetChatID: target.ID})
	require.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, service.CodeInvalidOperation, errorCode(t, body))
}

func TestMessageHandlerDeleteForMeHidesHistory(t *testing.T) {
	stack := newChatStack(t, nil, "alice", "bob")
	chat := createDirect(t, stack, "alice", "bob")
	message := sendText(t, stack, chat.ID, "alice", "secret")

	resp, _ := stack.do(t, http.MethodDelete, fmt.Sprintf("/api/v2/chat/messages/%d", message.ID), "bob", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	historyPath := fmt.Sprintf("/api/v2/chat/chats/%d/messages", chat.ID)
	var page []dto.MessageResponse
	_, body := stack.do(t, http.MethodGet, historyPath, "bob", nil)
	decodeData(t, body, &page)
	require.Empty(t, page)

	_, body = stack.do(t, http.MethodGet, historyPath, "alice", nil)
	decodeData(t, body, &page)
	require.Len(t, page, 1)
}

func TestMessageHandlerSendIsRateLimited(t *testing.T) {
	stack := newChatStack(t, middleware.RateLimit("test:send", 2, time.Minute), "alice", "bob")
	chat := createDirect(t, stack, "alice", "bob")
	path := fmt.Sprintf("/api/v2/chat/chats/%d/messages", chat.ID)

	for i := 0; i < 2; i++ {
		resp, _ := stack.do(t, http.MethodPost, path, "alice", dto.SendMessageRequest{Content: "spam"})
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}

	resp, body := stack.do(t, http.MethodPost, path, "alice", dto.SendMessageRequest{Content: "spam"})
	require.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	require.False(t, body.Success)

	resp, _ = stack.do(t, http.MethodPost, path, "bob", dto.SendMessageRequest{Content: "still fine"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
}
